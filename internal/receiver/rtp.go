package receiver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync/atomic"

	"github.com/bluenviron/gortsplib/v4/pkg/format/rtph264"
	"github.com/bluenviron/mediacommon/pkg/codecs/h264"
	"github.com/pion/rtp"
	"golang.org/x/sync/errgroup"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

const (
	maxDatagram    = 65536
	socketReadBuf  = 4 * 1024 * 1024
	defaultListen  = "0.0.0.0"
	rtpPipelineKey = "rtp"
)

func init() {
	RegisterPipeline(rtpPipelineKey, func(opts Options) (Factory, error) {
		if opts.FFmpeg == nil {
			return nil, errors.New("rtp pipeline requires ffmpeg")
		}
		launch := FFmpegDecoder(opts.FFmpeg, opts.FFmpeg.Decoder(opts.HardwareDecode))
		return func(port int, onSample SampleFunc) (Pipeline, error) {
			return NewRTPPipeline(port, opts, launch, onSample)
		}, nil
	})
}

// Decoder is an H.264 decoder reading Annex-B on stdin and writing bgr24
// frames, rotated clockwise, on stdout. *video.Process implements it.
type Decoder interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	CloseInput() error
	Wait() error
	Kill()
}

// DecoderLauncher starts a decoder.
type DecoderLauncher func(ctx context.Context) (Decoder, error)

// FFmpegDecoder launches ffmpeg with the named H.264 decoder.
func FFmpegDecoder(ff *video.FFmpegWrapper, decoder string) DecoderLauncher {
	return func(ctx context.Context) (Decoder, error) {
		proc, err := ff.Start(ctx, "decoder", video.DecodeArgs(video.DecodeSpec{
			Decoder: decoder,
			Rotate:  true,
		}))
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

// RTPPipeline receives RTP on a UDP port, reassembles H.264 access units
// and decodes them through an external decoder. The decoder is started
// once the first SPS reveals the frame size.
type RTPPipeline struct {
	port        int
	payloadType uint8
	conn        net.PacketConn
	launch      DecoderLauncher
	onSample    SampleFunc
	logger      *logger.Logger

	packets     atomic.Uint64
	dropped     atomic.Uint64
	accessUnits atomic.Uint64
}

// NewRTPPipeline binds the UDP port so that address errors surface now.
func NewRTPPipeline(port int, opts Options, launch DecoderLauncher, onSample SampleFunc) (*RTPPipeline, error) {
	host := opts.ListenHost
	if host == "" {
		host = defaultListen
	}
	conn, err := net.ListenPacket("udp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("listen on udp port %d: %w", port, err)
	}
	if uc, ok := conn.(*net.UDPConn); ok {
		_ = uc.SetReadBuffer(socketReadBuf)
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &RTPPipeline{
		port:        port,
		payloadType: opts.PayloadType,
		conn:        conn,
		launch:      launch,
		onSample:    onSample,
		logger:      log.With("port", port),
	}, nil
}

// LocalPort returns the bound UDP port.
func (p *RTPPipeline) LocalPort() int {
	return p.conn.LocalAddr().(*net.UDPAddr).Port
}

// Run receives until ctx is cancelled or the stream cannot be decoded.
func (p *RTPPipeline) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() { _ = p.conn.Close() })
	defer stop()
	defer p.conn.Close()

	g.Go(func() error { return p.receive(gctx, g) })

	err := g.Wait()
	p.logger.Debug("RTP pipeline exited",
		"packets", p.packets.Load(),
		"dropped", p.dropped.Load(),
		"access_units", p.accessUnits.Load(),
	)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// receive is the network side: UDP, RTP, depacketizer, decoder stdin.
func (p *RTPPipeline) receive(ctx context.Context, g *errgroup.Group) error {
	depay := &rtph264.Decoder{}
	if err := depay.Init(); err != nil {
		return fmt.Errorf("init depacketizer: %w", err)
	}

	var (
		dec           Decoder
		sps, pps      []byte
		width, height int
	)
	defer func() {
		if dec != nil {
			_ = dec.CloseInput()
			dec.Kill()
		}
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, _, err := p.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("udp read: %w", err)
		}

		// The depacketizer keeps references to fragment payloads.
		var pkt rtp.Packet
		if err := pkt.Unmarshal(bytes.Clone(buf[:n])); err != nil {
			p.dropped.Add(1)
			continue
		}
		p.packets.Add(1)
		if pkt.PayloadType != p.payloadType {
			p.dropped.Add(1)
			continue
		}

		au, err := depay.Decode(&pkt)
		if err != nil {
			if !errors.Is(err, rtph264.ErrMorePacketsNeeded) {
				p.dropped.Add(1)
				p.logger.Debug("Dropping RTP packet", "error", err)
			}
			continue
		}

		newSPS := false
		for _, nalu := range au {
			if len(nalu) == 0 {
				continue
			}
			switch h264.NALUType(nalu[0] & 0x1F) {
			case h264.NALUTypeSPS:
				sps = bytes.Clone(nalu)
				newSPS = true
			case h264.NALUTypePPS:
				pps = bytes.Clone(nalu)
			}
		}

		if dec == nil {
			if sps == nil || pps == nil {
				continue
			}
			w, h, err := spsSize(sps)
			if err != nil {
				return err
			}
			dec, err = p.launch(ctx)
			if err != nil {
				return fmt.Errorf("start decoder: %w", err)
			}
			width, height = w, h
			p.logger.Info("Decoding stream", "width", width, "height", height)

			// The picture is rotated clockwise, so the output is height x width.
			d := dec
			g.Go(func() error { return p.readFrames(ctx, d, height, width) })

			au = withParameterSets(au, sps, pps)
		} else if newSPS {
			if w, h, err := spsSize(sps); err == nil && (w != width || h != height) {
				return fmt.Errorf("stream resolution changed from %dx%d to %dx%d", width, height, w, h)
			}
		}

		data, err := h264.AnnexBMarshal(au)
		if err != nil {
			p.dropped.Add(1)
			continue
		}
		if _, err := dec.Stdin().Write(data); err != nil {
			return fmt.Errorf("decoder input: %w", err)
		}
		p.accessUnits.Add(1)
	}
}

// readFrames is the picture side: decoder stdout to onSample.
func (p *RTPPipeline) readFrames(ctx context.Context, dec Decoder, width, height int) error {
	rr := video.NewRawReader(dec.Stdout(), width, height, 3)
	for {
		f, err := rr.Read()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				if werr := dec.Wait(); werr != nil {
					return fmt.Errorf("decoder exited: %w", werr)
				}
				return errors.New("decoder exited")
			}
			return fmt.Errorf("decoder output: %w", err)
		}
		p.onSample(f)
	}
}

// spsSize returns the coded picture size announced by sps.
func spsSize(sps []byte) (int, int, error) {
	var s h264.SPS
	if err := s.Unmarshal(sps); err != nil {
		return 0, 0, fmt.Errorf("parse SPS: %w", err)
	}
	return s.Width(), s.Height(), nil
}

// withParameterSets prepends sps and pps unless au already carries them.
func withParameterSets(au [][]byte, sps, pps []byte) [][]byte {
	for _, nalu := range au {
		if len(nalu) > 0 && h264.NALUType(nalu[0]&0x1F) == h264.NALUTypeSPS {
			return au
		}
	}
	return append([][]byte{sps, pps}, au...)
}
