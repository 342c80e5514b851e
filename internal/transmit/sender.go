package transmit

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
)

// clockRate is the RTP clock of H.264 video.
const clockRate = 90000

// Sender packetizes H.264 access units into RTP and writes one datagram
// per packet. Write errors are counted and otherwise ignored, so a missing
// receiver does not stop the stream.
type Sender struct {
	w              io.Writer
	enc            *rtph264.Encoder
	configInterval time.Duration
	now            func() time.Time

	sps, pps   []byte
	lastConfig time.Time
	start      time.Time
	tsBase     uint32

	accessUnits atomic.Uint64
	packets     atomic.Uint64
	bytes       atomic.Uint64
	dropped     atomic.Uint64
}

// SenderStats are running totals of a Sender.
type SenderStats struct {
	AccessUnits uint64 `json:"access_units"`
	Packets     uint64 `json:"packets"`
	Bytes       uint64 `json:"bytes"`
	Dropped     uint64 `json:"dropped"`
}

// NewSender returns a Sender writing to w. configInterval is how often
// SPS and PPS are repeated in front of an access unit; zero repeats them
// only where the encoder put them.
func NewSender(w io.Writer, payloadType uint8, maxPayloadSize int, configInterval time.Duration) (*Sender, error) {
	enc := &rtph264.Encoder{
		PayloadType:    payloadType,
		PayloadMaxSize: maxPayloadSize,
	}
	if err := enc.Init(); err != nil {
		return nil, fmt.Errorf("failed to init RTP encoder: %w", err)
	}
	return &Sender{
		w:              w,
		enc:            enc,
		configInterval: configInterval,
		now:            time.Now,
		tsBase:         rand.Uint32(),
	}, nil
}

// Run sends every access unit read from r until r is drained.
func (s *Sender) Run(r io.Reader) error {
	aur := NewAccessUnitReader(r)
	for {
		au, err := aur.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.SendAccessUnit(au); err != nil {
			return err
		}
	}
}

// SendAccessUnit packetizes and sends one access unit. All packets share
// the timestamp taken from the wall clock at send time.
func (s *Sender) SendAccessUnit(au [][]byte) error {
	if len(au) == 0 {
		return nil
	}
	now := s.now()
	if s.start.IsZero() {
		s.start = now
	}

	au = s.withParameterSets(au, now)

	pkts, err := s.enc.Encode(au)
	if err != nil {
		return fmt.Errorf("failed to packetize access unit: %w", err)
	}

	ts := s.tsBase + rtpTicks(now.Sub(s.start))
	for _, pkt := range pkts {
		pkt.Timestamp = ts
		buf, err := pkt.Marshal()
		if err != nil {
			return fmt.Errorf("failed to marshal RTP packet: %w", err)
		}
		if _, err := s.w.Write(buf); err != nil {
			s.dropped.Add(1)
			continue
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(buf)))
	}
	s.accessUnits.Add(1)
	return nil
}

// rtpTicks converts elapsed time to the 90 kHz clock, wrapping modulo 2^32
// as RTP timestamps do. Whole seconds and the remainder are scaled apart
// so the product never overflows.
func rtpTicks(elapsed time.Duration) uint32 {
	secs := uint64(elapsed / time.Second)
	rem := uint64(elapsed % time.Second)
	return uint32(secs*clockRate + rem*clockRate/uint64(time.Second))
}

// withParameterSets records SPS and PPS from au and, once the config
// interval has elapsed, prepends the cached pair to a unit that lacks them.
func (s *Sender) withParameterSets(au [][]byte, now time.Time) [][]byte {
	hasSPS, hasPPS := false, false
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS:
			s.sps = bytes.Clone(nalu)
			hasSPS = true
		case h264.NALUTypePPS:
			s.pps = bytes.Clone(nalu)
			hasPPS = true
		}
	}
	if hasSPS && hasPPS {
		s.lastConfig = now
		return au
	}
	if s.sps == nil || s.pps == nil || s.configInterval <= 0 {
		return au
	}
	if now.Sub(s.lastConfig) < s.configInterval && !h264.IDRPresent(au) {
		return au
	}

	s.lastConfig = now
	out := make([][]byte, 0, len(au)+2)
	out = append(out, s.sps, s.pps)
	for _, nalu := range au {
		if len(nalu) == 0 {
			continue
		}
		switch h264.NALUType(nalu[0] & 0x1F) {
		case h264.NALUTypeSPS, h264.NALUTypePPS:
			continue
		}
		out = append(out, nalu)
	}
	return out
}

// Stats returns the running totals.
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		AccessUnits: s.accessUnits.Load(),
		Packets:     s.packets.Load(),
		Bytes:       s.bytes.Load(),
		Dropped:     s.dropped.Load(),
	}
}
