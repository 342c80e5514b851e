// Package rov runs the vehicle side of the link: every configured camera
// is captured, dewarped, encoded and sent on its own goroutine.
package rov

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/camera"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/dewarp"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/transmit"
)

// ChannelState is the lifecycle of one vehicle channel.
type ChannelState string

const (
	ChannelIdle      ChannelState = "idle"
	ChannelOpening   ChannelState = "opening"
	ChannelStreaming ChannelState = "streaming"
	ChannelStopped   ChannelState = "stopped"
	ChannelFailed    ChannelState = "failed"
)

// ChannelSpec binds a camera to a destination port.
type ChannelSpec struct {
	Name        string
	Device      string
	Port        int
	Calibration dewarp.Calibration
}

// ChannelStatus is a snapshot of one channel.
type ChannelStatus struct {
	Name     string               `json:"name"`
	Device   string               `json:"device"`
	Port     int                  `json:"port"`
	State    ChannelState         `json:"state"`
	Error    string               `json:"error,omitempty"`
	Width    int                  `json:"width,omitempty"`
	Height   int                  `json:"height,omitempty"`
	Frames   uint64               `json:"frames"`
	Rejected uint64               `json:"rejected"`
	Sent     transmit.SenderStats `json:"sent"`
}

// Options configures a Streamer.
type Options struct {
	Host     string
	FPS      int
	Encoder  config.EncoderConfig
	Channels []ChannelSpec
	Open     camera.Opener
	Launch   transmit.Launcher
}

type channel struct {
	spec ChannelSpec
	log  *logger.Logger

	mu      sync.Mutex
	state   ChannelState
	err     error
	source  *camera.Source
	adapter *transmit.Adapter
	width   int
	height  int
}

// Streamer is the vehicle service.
type Streamer struct {
	*service.ServiceBase

	opts     Options
	channels []*channel

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	done    chan struct{}
	running atomic.Int32
}

// NewStreamer validates opts and creates an idle streamer.
func NewStreamer(opts Options, log *logger.Logger) (*Streamer, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("destination host is required")
	}
	if opts.Open == nil || opts.Launch == nil {
		return nil, fmt.Errorf("camera opener and encoder launcher are required")
	}
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	if opts.FPS <= 0 {
		opts.FPS = 30
	}
	if log == nil {
		log = logger.NewNopLogger()
	}

	s := &Streamer{
		ServiceBase: service.NewServiceBase("rov-streamer", log),
		opts:        opts,
		done:        make(chan struct{}),
	}
	for _, spec := range opts.Channels {
		s.channels = append(s.channels, &channel{
			spec:  spec,
			log:   log.With("channel", spec.Name, "port", spec.Port),
			state: ChannelIdle,
		})
	}
	return s, nil
}

// Start launches one goroutine per channel. Channel failures are reported
// through Statuses and events, never returned here.
func (s *Streamer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	for _, ch := range s.channels {
		s.wg.Add(1)
		s.running.Add(1)
		go s.runChannel(runCtx, ch)
	}
	go func() {
		s.wg.Wait()
		close(s.done)
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Streaming started", "channels", len(s.channels), "host", s.opts.Host)
	return nil
}

// Stop cancels every channel and waits for them within ctx.
func (s *Streamer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()

	select {
	case <-s.done:
	case <-ctx.Done():
		return fmt.Errorf("channels did not stop: %w", ctx.Err())
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Streaming stopped")
	return nil
}

// Done is closed once every channel has ended.
func (s *Streamer) Done() <-chan struct{} {
	return s.done
}

// Running returns how many channels are still active.
func (s *Streamer) Running() int {
	return int(s.running.Load())
}

func (s *Streamer) runChannel(ctx context.Context, ch *channel) {
	defer s.wg.Done()
	defer s.running.Add(-1)

	err := s.stream(ctx, ch)

	ch.mu.Lock()
	if err != nil {
		ch.state = ChannelFailed
		ch.err = err
	} else {
		ch.state = ChannelStopped
	}
	ch.mu.Unlock()

	if err != nil {
		ch.log.Error("Channel failed", "error", err, "pipe_broken", errors.Is(err, transmit.ErrPipeBroken))
		s.PublishEvent(service.EventTypeChannelFailed, map[string]interface{}{
			"channel": ch.spec.Name,
			"port":    ch.spec.Port,
			"error":   err.Error(),
		})
		return
	}
	ch.log.Info("Channel stopped")
	s.PublishEvent(service.EventTypeChannelStopped, map[string]interface{}{
		"channel": ch.spec.Name,
		"port":    ch.spec.Port,
	})
}

// stream runs Open, then the encoder, then the capture loop. The encoder
// is only started once the camera has produced a frame.
func (s *Streamer) stream(ctx context.Context, ch *channel) error {
	src := camera.NewSource(ch.spec.Device, ch.spec.Calibration, s.opts.Open, ch.log)
	ch.set(func() {
		ch.state = ChannelOpening
		ch.source = src
	})

	if err := src.Open(ctx); err != nil {
		return err
	}
	width, height := src.Size()

	cfg := transmit.NewConfig(s.opts.Encoder, s.opts.Host, ch.spec.Port, width, height, s.opts.FPS)
	adapter, err := transmit.New(ctx, cfg, s.opts.Launch, ch.log)
	if err != nil {
		src.Close()
		return err
	}
	defer adapter.Close()
	// Cancellation closes the adapter too, so a Write stuck on a stalled
	// encoder returns.
	stopAdapter := context.AfterFunc(ctx, func() { _ = adapter.Close() })
	defer stopAdapter()

	ch.set(func() {
		ch.state = ChannelStreaming
		ch.adapter = adapter
		ch.width, ch.height = width, height
	})
	s.PublishEvent(service.EventTypeChannelStarted, map[string]interface{}{
		"channel": ch.spec.Name,
		"port":    ch.spec.Port,
		"width":   width,
		"height":  height,
	})

	return src.Stream(ctx, adapter)
}

func (c *channel) set(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
}

// Statuses returns a snapshot of every channel.
func (s *Streamer) Statuses() []ChannelStatus {
	out := make([]ChannelStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		ch.mu.Lock()
		st := ChannelStatus{
			Name:   ch.spec.Name,
			Device: ch.spec.Device,
			Port:   ch.spec.Port,
			State:  ch.state,
			Width:  ch.width,
			Height: ch.height,
		}
		if ch.err != nil {
			st.Error = ch.err.Error()
		}
		src, adapter := ch.source, ch.adapter
		ch.mu.Unlock()

		if src != nil {
			st.Frames = src.Frames()
			st.Rejected = src.Rejected()
		}
		if adapter != nil {
			st.Sent = adapter.Stats()
		}
		out = append(out, st)
	}
	return out
}

// ChannelsFromConfig builds channel specs from the vehicle configuration.
func ChannelsFromConfig(cfg *config.Config) ([]ChannelSpec, error) {
	specs := make([]ChannelSpec, 0, len(cfg.ROV.Channels))
	for _, cc := range cfg.ROV.Channels {
		cal := cfg.ChannelCalibration(cc)
		c, err := dewarp.NewCalibration(cal.CameraMatrix, cal.Distortion, cal.Balance)
		if err != nil {
			return nil, fmt.Errorf("channel %s: %w", cc.Name, err)
		}
		specs = append(specs, ChannelSpec{
			Name:        cc.Name,
			Device:      cc.Device,
			Port:        cc.Port,
			Calibration: c,
		})
	}
	return specs, nil
}
