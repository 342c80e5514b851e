// Package transmit encodes raw RGB frames to H.264 and sends them to the
// topside station as RTP over UDP.
package transmit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

// ErrPipeBroken is returned by Write once the encoder stopped accepting
// input. It is terminal for the adapter.
var ErrPipeBroken = errors.New("transmit: encoder pipe broken")

// closeTimeout bounds how long Close waits for the encoder to drain.
const closeTimeout = 3 * time.Second

// State is the adapter lifecycle.
type State string

const (
	StateRunning State = "running"
	StateFailed  State = "failed"
	StateClosed  State = "closed"
)

// Config describes one outgoing stream.
type Config struct {
	Host             string
	Port             int
	Width            int
	Height           int
	FPS              int
	BitrateKbps      int
	KeyframeInterval int
	IntraRefresh     bool
	Tune             string
	Preset           string
	PayloadType      uint8
	ConfigInterval   time.Duration
	MaxPayloadSize   int
}

// NewConfig combines the encoder settings with a channel destination and
// the frame size learned from the camera.
func NewConfig(enc config.EncoderConfig, host string, port, width, height, fps int) Config {
	return Config{
		Host:             host,
		Port:             port,
		Width:            width,
		Height:           height,
		FPS:              fps,
		BitrateKbps:      enc.BitrateKbps,
		KeyframeInterval: enc.KeyframeInterval,
		IntraRefresh:     !enc.DisableIntraRefresh,
		Tune:             enc.Tune,
		Preset:           enc.Preset,
		PayloadType:      uint8(enc.PayloadType),
		ConfigInterval:   enc.ConfigInterval,
		MaxPayloadSize:   enc.MaxPayloadSize,
	}
}

// Destination returns host:port.
func (c Config) Destination() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// FrameSize is the byte length Write expects.
func (c Config) FrameSize() int {
	return c.Width * c.Height * 3
}

// Encoder is a running H.264 encoder reading raw frames on stdin and
// writing Annex-B on stdout. *video.Process implements it.
type Encoder interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	CloseInput() error
	Done() <-chan struct{}
	Wait() error
	Kill()
}

// Launcher starts an encoder for cfg.
type Launcher func(ctx context.Context, cfg Config) (Encoder, error)

// FFmpegLauncher starts libx264 through ffmpeg.
func FFmpegLauncher(ff *video.FFmpegWrapper) Launcher {
	return func(ctx context.Context, cfg Config) (Encoder, error) {
		if err := ff.RequireEncoder("libx264"); err != nil {
			return nil, err
		}
		proc, err := ff.Start(ctx, "encoder", video.EncodeArgs(video.EncodeSpec{
			Width:            cfg.Width,
			Height:           cfg.Height,
			FPS:              cfg.FPS,
			BitrateKbps:      cfg.BitrateKbps,
			KeyframeInterval: cfg.KeyframeInterval,
			IntraRefresh:     cfg.IntraRefresh,
			Tune:             cfg.Tune,
			Preset:           cfg.Preset,
		}))
		if err != nil {
			return nil, err
		}
		return proc, nil
	}
}

// Adapter feeds frames to an encoder and forwards its output over RTP.
type Adapter struct {
	cfg    Config
	logger *logger.Logger
	enc    Encoder
	conn   net.Conn
	sender *Sender

	// writeMu serializes encoder input; mu guards state and is never
	// held across a blocking write.
	writeMu sync.Mutex
	mu      sync.Mutex
	state   State
	err     error

	sendDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// New dials the destination and starts the encoder.
func New(ctx context.Context, cfg Config, launch Launcher, log *logger.Logger) (*Adapter, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("transmit: invalid frame size %dx%d", cfg.Width, cfg.Height)
	}

	conn, err := net.Dial("udp", cfg.Destination())
	if err != nil {
		return nil, fmt.Errorf("transmit: dial %s: %w", cfg.Destination(), err)
	}

	sender, err := NewSender(conn, cfg.PayloadType, cfg.MaxPayloadSize, cfg.ConfigInterval)
	if err != nil {
		conn.Close()
		return nil, err
	}

	enc, err := launch(ctx, cfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transmit: start encoder: %w", err)
	}

	a := &Adapter{
		cfg:      cfg,
		logger:   log.With("destination", cfg.Destination()),
		enc:      enc,
		conn:     conn,
		sender:   sender,
		state:    StateRunning,
		sendDone: make(chan struct{}),
	}
	go a.pump()

	a.logger.Info("Transmission started",
		"width", cfg.Width,
		"height", cfg.Height,
		"bitrate_kbps", cfg.BitrateKbps,
	)
	return a, nil
}

func (a *Adapter) pump() {
	defer close(a.sendDone)
	if err := a.sender.Run(a.enc.Stdout()); err != nil {
		a.logger.Error("RTP sender stopped", "error", err)
		a.fail(fmt.Errorf("rtp sender: %w", err))
	}
}

// fail marks a running adapter Failed with err and stops the encoder, so a
// Write blocked on its input returns. It reports whether this call made
// the transition.
func (a *Adapter) fail(err error) bool {
	a.mu.Lock()
	if a.state != StateRunning {
		a.mu.Unlock()
		return false
	}
	a.state = StateFailed
	a.err = err
	a.mu.Unlock()

	_ = a.enc.CloseInput()
	a.enc.Kill()
	return true
}

// brokenErr is the ErrPipeBroken value for the current terminal state.
func (a *Adapter) brokenErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateFailed {
		return fmt.Errorf("%w: %w", ErrPipeBroken, a.err)
	}
	return fmt.Errorf("%w: adapter closed", ErrPipeBroken)
}

// Write hands one packed RGB frame to the encoder. Frames are not
// buffered or retried; a failed write breaks the adapter for good.
func (a *Adapter) Write(frame []byte) error {
	if len(frame) != a.cfg.FrameSize() {
		return fmt.Errorf("transmit: frame is %d bytes, expected %d", len(frame), a.cfg.FrameSize())
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if a.State() != StateRunning {
		return a.brokenErr()
	}

	if _, err := a.enc.Stdin().Write(frame); err != nil {
		if a.fail(err) {
			a.logger.Error("Encoder pipe broken", "error", err)
		}
		return a.brokenErr()
	}
	return nil
}

// waitEncoder waits up to closeTimeout for the encoder, killing it after.
func (a *Adapter) waitEncoder() error {
	select {
	case <-a.enc.Done():
	case <-time.After(closeTimeout):
		a.enc.Kill()
	}
	return a.enc.Wait()
}

// Close stops the encoder and the sender. Calling it again returns the
// first result.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		failed := a.state == StateFailed
		a.state = StateClosed
		a.mu.Unlock()

		// Closing stdin unblocks a Write stuck on a stalled encoder.
		_ = a.enc.CloseInput()

		if !failed {
			if err := a.waitEncoder(); err != nil {
				a.closeErr = err
			}
		}
		// The sender drains stdout to EOF before the pipe is released.
		select {
		case <-a.sendDone:
		case <-time.After(closeTimeout):
			a.logger.Warn("RTP sender did not drain")
		}
		a.enc.Kill()
		if err := a.conn.Close(); err != nil && a.closeErr == nil {
			a.closeErr = err
		}

		stats := a.sender.Stats()
		a.logger.Info("Transmission closed",
			"access_units", stats.AccessUnits,
			"packets", stats.Packets,
			"dropped", stats.Dropped,
		)
	})
	return a.closeErr
}

// State returns the adapter state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Stats returns sender totals.
func (a *Adapter) Stats() SenderStats {
	return a.sender.Stats()
}
