// Package station runs the operator side of the link: one receiver per
// feed, the preview loop and still capture.
package station

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/artifacts"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/enhance"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/preview"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/receiver"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
)

var (
	// ErrNoFrame is returned by Capture when the channel has not decoded anything yet.
	ErrNoFrame = errors.New("no frame available")
	// ErrUnknownChannel is returned for channel ids outside the configured feeds.
	ErrUnknownChannel = errors.New("unknown channel")
)

// DefaultInterval is the preview tick.
const DefaultInterval = 30 * time.Millisecond

// ArtifactStore persists captured stills.
type ArtifactStore interface {
	Save(ctx context.Context, channel int, enhanced bool, f *frame.Frame) (*artifacts.Artifact, error)
}

// Options configures a Station.
type Options struct {
	Channels    []config.TopsideChannelConfig
	Factory     receiver.Factory
	StopTimeout time.Duration
	// Enhancer may be nil, in which case enhancement requests pass frames through.
	Enhancer *enhance.Enhancer
	Store    ArtifactStore
	Preview  preview.Options
	Interval time.Duration
}

// Station is the topside service.
type Station struct {
	*service.ServiceBase

	factory     receiver.Factory
	stopTimeout time.Duration
	enhancer    *enhance.Enhancer
	store       ArtifactStore
	interval    time.Duration
	channels    []*Channel

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a Station with one idle channel per configured feed.
func New(opts Options, log *logger.Logger) (*Station, error) {
	if opts.Factory == nil {
		return nil, fmt.Errorf("receiver factory is required")
	}
	if len(opts.Channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}

	s := &Station{
		ServiceBase: service.NewServiceBase("station", log),
		factory:     opts.Factory,
		stopTimeout: opts.StopTimeout,
		enhancer:    opts.Enhancer,
		store:       opts.Store,
		interval:    opts.Interval,
	}
	for i, cc := range opts.Channels {
		id := i + 1
		s.channels = append(s.channels, &Channel{
			ID:       id,
			Name:     cc.Name,
			port:     cc.Port,
			enhance:  cc.Enhance,
			connect:  cc.AutoConnect,
			status:   "Disconnected",
			renderer: preview.NewRenderer(opts.Preview),
			receiver: s.newReceiver(cc.Name),
		})
	}
	return s, nil
}

func (s *Station) newReceiver(name string) *receiver.Receiver {
	return receiver.New(name, s.factory, s.stopTimeout, s.Logger())
}

// Start connects auto-connect channels and starts the preview loop.
func (s *Station) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.started = true
	s.mu.Unlock()

	for _, ch := range s.channels {
		if !ch.connect {
			continue
		}
		if _, err := s.Connect(ch.ID, strconv.Itoa(ch.port)); err != nil {
			s.LogWarn("Auto-connect failed", "channel", ch.ID, "port", ch.port, "error", err)
		}
	}

	s.wg.Add(1)
	go s.previewLoop(loopCtx)

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Station started", "channels", len(s.channels), "interval", s.interval)
	return nil
}

// Stop ends the preview loop and stops every receiver.
func (s *Station) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.started = false
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			s.LogWarn("Preview loop did not stop before shutdown deadline")
		}
	}

	for _, ch := range s.channels {
		ch.currentReceiver().Stop()
	}
	s.GetStatus().SetStatus(service.StatusStopped)
	s.LogInfo("Station stopped")
	return nil
}

func (s *Station) previewLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range s.channels {
				s.refresh(ch)
			}
		}
	}
}

// refresh runs one preview step for ch. It never waits on the receiver.
func (s *Station) refresh(ch *Channel) {
	rec := ch.currentReceiver()
	st := rec.Status()

	if st.State == receiver.StateFailed {
		if ch.markFailed() {
			s.LogError("Channel failed", rec.Err(), "channel", ch.ID)
			s.PublishEvent(service.EventTypeChannelFailed, map[string]interface{}{
				"channel": ch.ID,
				"port":    st.Port,
				"error":   st.Error,
			})
		}
		return
	}
	if st.State != receiver.StateRunning {
		return
	}

	seq := rec.Mailbox().Seq()
	enhanceOn := ch.Enhancement()
	if seq == 0 {
		ch.setWaiting()
		return
	}
	if !ch.needsRender(seq, enhanceOn) {
		return
	}

	f, ok := rec.Frame()
	if !ok {
		return
	}
	out := f
	if enhanceOn {
		out = s.enhance(ch, f)
	}

	rendered, stale, err := ch.renderFrom(rec, out)
	if stale {
		return
	}
	if err != nil {
		s.LogDebug("Preview render failed", "channel", ch.ID, "error", err)
		return
	}
	if first := ch.setSize(out.Width, out.Height); first && rendered {
		s.PublishEvent(service.EventTypePreviewRendered, map[string]interface{}{
			"channel": ch.ID,
			"width":   out.Width,
			"height":  out.Height,
		})
	}
}

func (s *Station) enhance(ch *Channel, f *frame.Frame) *frame.Frame {
	if s.enhancer == nil {
		return f
	}
	out, err := s.enhancer.EnhanceOrOriginal(f)
	if err != nil {
		s.LogDebug("Enhancement failed, using original", "channel", ch.ID, "error", err)
	}
	return out
}

func (s *Station) channel(id int) (*Channel, error) {
	if id < 1 || id > len(s.channels) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, id)
	}
	return s.channels[id-1], nil
}

// Connect stops the channel's receiver and starts a fresh one on the port
// given as operator text. Invalid ports are rejected before anything changes.
func (s *Station) Connect(id int, portText string) (ChannelInfo, error) {
	ch, err := s.channel(id)
	if err != nil {
		return ChannelInfo{}, err
	}
	port, err := config.ParsePort(portText)
	if err != nil {
		return ch.Info(), err
	}

	ch.connMu.Lock()
	defer ch.connMu.Unlock()

	ch.setStatus(fmt.Sprintf("Connecting to RTP stream on port %d...", port))
	ch.currentReceiver().Stop()

	fresh := s.newReceiver(ch.Name)
	ch.replace(fresh, port)

	if err := fresh.Start(port); err != nil {
		ch.markFailed()
		s.LogError("Connection failed", err, "channel", id, "port", port)
		s.PublishEvent(service.EventTypeChannelFailed, map[string]interface{}{
			"channel": id,
			"port":    port,
			"error":   err.Error(),
		})
		return ch.Info(), err
	}

	ch.setStatus(fmt.Sprintf("Connected to RTP stream on port %d", port))
	s.LogInfo("Channel connected", "channel", id, "port", port)
	s.PublishEvent(service.EventTypeChannelStarted, map[string]interface{}{
		"channel": id,
		"port":    port,
	})
	return ch.Info(), nil
}

// Disconnect stops the channel's receiver and leaves an idle one in its
// place, so the last frame and preview are dropped.
func (s *Station) Disconnect(id int) (ChannelInfo, error) {
	ch, err := s.channel(id)
	if err != nil {
		return ChannelInfo{}, err
	}

	ch.connMu.Lock()
	defer ch.connMu.Unlock()

	ch.currentReceiver().Stop()
	ch.replace(s.newReceiver(ch.Name), ch.Info().Port)
	ch.setStatus("Disconnected")
	s.LogInfo("Channel disconnected", "channel", id)
	s.PublishEvent(service.EventTypeChannelStopped, map[string]interface{}{
		"channel": id,
	})
	return ch.Info(), nil
}

// SetEnhancement toggles Retinex on the channel's preview.
func (s *Station) SetEnhancement(id int, enabled bool) (ChannelInfo, error) {
	ch, err := s.channel(id)
	if err != nil {
		return ChannelInfo{}, err
	}
	ch.setEnhancement(enabled)
	s.LogInfo("Enhancement toggled", "channel", id, "enabled", enabled)
	return ch.Info(), nil
}

// Capture saves the newest frame of a channel. With enhance set the frame
// is run through Retinex first and saved unenhanced if that fails.
func (s *Station) Capture(ctx context.Context, id int, enhance bool) (*artifacts.Artifact, error) {
	ch, err := s.channel(id)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return nil, fmt.Errorf("capture storage is not configured")
	}

	f, ok := ch.currentReceiver().Frame()
	if !ok {
		return nil, fmt.Errorf("%w on channel %d", ErrNoFrame, id)
	}

	applied := false
	if enhance && s.enhancer != nil {
		out, err := s.enhancer.Enhance(f)
		if err != nil {
			s.LogWarn("Capture enhancement failed, saving original", "channel", id, "error", err)
		} else {
			f = out
			applied = true
		}
	}

	a, err := s.store.Save(ctx, id, applied, f)
	if err != nil {
		return nil, err
	}
	s.PublishEvent(service.EventTypeCaptureSaved, map[string]interface{}{
		"channel":  id,
		"id":       a.ID,
		"path":     a.Path,
		"enhanced": a.Enhanced,
	})
	return a, nil
}

// Channels returns a view of every feed.
func (s *Station) Channels() []ChannelInfo {
	out := make([]ChannelInfo, 0, len(s.channels))
	for _, ch := range s.channels {
		out = append(out, ch.Info())
	}
	return out
}

// Channel returns a view of one feed.
func (s *Station) Channel(id int) (ChannelInfo, error) {
	ch, err := s.channel(id)
	if err != nil {
		return ChannelInfo{}, err
	}
	return ch.Info(), nil
}

// Renderer returns the preview renderer of a channel.
func (s *Station) Renderer(id int) (*preview.Renderer, error) {
	ch, err := s.channel(id)
	if err != nil {
		return nil, err
	}
	return ch.renderer, nil
}

// EnhancementBackend names the Retinex backend, empty when disabled.
func (s *Station) EnhancementBackend() string {
	if s.enhancer == nil {
		return ""
	}
	return s.enhancer.Backend()
}
