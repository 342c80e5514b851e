// Package camera reads frames from the vehicle cameras, removes the
// fisheye distortion and hands RGB frames to a sink.
package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/dewarp"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// State is the lifecycle position of a Source.
type State int32

const (
	StateUnopened State = iota
	StateOpened
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpened:
		return "opened"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrStreamEnd reports that the device produced no more frames.
var ErrStreamEnd = fmt.Errorf("camera stream ended: %w", io.EOF)

// OpenError is returned when a device cannot be opened or yields no
// first frame.
type OpenError struct {
	Device string
	Err    error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open camera %s: %v", e.Device, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Sink consumes packed RGB frames.
type Sink interface {
	Write(frame []byte) error
}

// Source is one camera channel on the vehicle.
type Source struct {
	id        string
	path      string
	open      Opener
	undistort *dewarp.Undistorter
	logger    *logger.Logger

	mu     sync.Mutex
	state  State
	dev    Device
	width  int
	height int

	frames   atomic.Uint64
	rejected atomic.Uint64
}

// NewSource creates a source for deviceID ("0" or "/dev/video0").
func NewSource(deviceID string, cal dewarp.Calibration, open Opener, log *logger.Logger) *Source {
	path := ResolveDevice(deviceID)
	return &Source{
		id:        deviceID,
		path:      path,
		open:      open,
		undistort: dewarp.NewUndistorter(cal),
		logger:    log.With("device", path),
	}
}

// Open starts the device and reads one frame to learn the resolution. The
// frame is discarded. On failure the device is released and the source
// is closed.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateUnopened {
		return fmt.Errorf("camera %s: cannot open in state %s", s.path, s.state)
	}

	dev, err := s.open(ctx, s.path)
	if err != nil {
		s.state = StateClosed
		return &OpenError{Device: s.path, Err: err}
	}

	fail := func(err error) error {
		_ = dev.Close()
		s.state = StateClosed
		return &OpenError{Device: s.path, Err: err}
	}

	first, err := dev.Read()
	if errors.Is(err, io.EOF) {
		return fail(ErrStreamEnd)
	}
	if err != nil {
		return fail(err)
	}
	if err := first.Validate(); err != nil {
		return fail(err)
	}
	if first.Channels != 3 {
		return fail(fmt.Errorf("expected 3 channel frames, got %d", first.Channels))
	}
	if err := s.undistort.Prepare(first.Width, first.Height); err != nil {
		return fail(err)
	}

	s.dev = dev
	s.width = first.Width
	s.height = first.Height
	s.state = StateOpened

	s.logger.Info("Camera opened", "width", s.width, "height", s.height)
	return nil
}

// Stream pushes dewarped RGB frames to sink until the device ends, ctx is
// cancelled or the sink fails. Once open, any read failure counts as end
// of stream, so only a sink failure is returned as an error.
// The device is released on return.
func (s *Source) Stream(ctx context.Context, sink Sink) error {
	s.mu.Lock()
	if s.state != StateOpened {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("camera %s: cannot stream in state %s", s.path, state)
	}
	s.state = StateStreaming
	dev := s.dev
	s.mu.Unlock()

	defer s.Close()

	stop := context.AfterFunc(ctx, func() { _ = dev.Close() })
	defer stop()

	for {
		raw, err := dev.Read()
		if err != nil {
			switch {
			case ctx.Err() != nil || errors.Is(err, io.EOF):
				s.logger.Info("Camera stream ended", "frames", s.frames.Load())
			default:
				s.logger.Warn("Camera read failed, ending stream", "frames", s.frames.Load(), "error", err)
			}
			return nil
		}

		out, err := s.undistort.Apply(raw)
		if err != nil {
			s.rejected.Add(1)
			s.logger.Warn("Frame rejected", "error", err)
			continue
		}
		out.SwapRBInPlace()

		if err := sink.Write(out.Pix); err != nil {
			if ctx.Err() != nil {
				s.logger.Info("Camera stream cancelled", "frames", s.frames.Load())
				return nil
			}
			return fmt.Errorf("camera %s: %w", s.path, err)
		}
		s.frames.Add(1)
	}
}

// Close releases the device. It is safe to call in any state.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.dev != nil {
		err = s.dev.Close()
		s.dev = nil
	}
	s.state = StateClosed
	return err
}

// State returns the current lifecycle state.
func (s *Source) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Size returns the resolution learned by Open.
func (s *Source) Size() (width, height int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.width, s.height
}

// Path returns the resolved device path.
func (s *Source) Path() string {
	return s.path
}

// Frames returns how many frames reached the sink.
func (s *Source) Frames() uint64 {
	return s.frames.Load()
}

// Rejected returns how many frames the dewarp stage refused.
func (s *Source) Rejected() uint64 {
	return s.rejected.Load()
}
