// Package receiver turns an incoming RTP H.264 stream into decoded BGR
// frames in a single slot mailbox.
package receiver

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// DefaultStopTimeout bounds how long Stop waits for the pipeline loop.
const DefaultStopTimeout = time.Second

// State is the receiver lifecycle.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StateFailed  State = "failed"
)

// SampleFunc receives each decoded frame. The callee owns the frame.
type SampleFunc func(f *frame.Frame)

// Pipeline is a built decode pipeline. Run blocks until ctx is cancelled
// (returning nil) or the pipeline fails.
type Pipeline interface {
	Run(ctx context.Context) error
}

// Factory builds a pipeline listening on port that delivers frames to
// onSample. Errors here surface from Start.
type Factory func(port int, onSample SampleFunc) (Pipeline, error)

// PipelineError reports a decode pipeline that could not be built or
// stopped unexpectedly.
type PipelineError struct {
	Port  int
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("decode pipeline on port %d failed to %s: %v", e.Port, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Status is a point in time view of a receiver.
type Status struct {
	State     State     `json:"state"`
	Port      int       `json:"port,omitempty"`
	Error     string    `json:"error,omitempty"`
	Frames    uint64    `json:"frames"`
	LastFrame time.Time `json:"last_frame,omitempty"`
}

// Receiver owns one channel's pipeline and mailbox.
type Receiver struct {
	name        string
	factory     Factory
	mailbox     *frame.Mailbox
	stopTimeout time.Duration
	logger      *logger.Logger

	mu     sync.Mutex
	state  State
	port   int
	err    error
	cancel context.CancelFunc
	done   chan struct{}

	loops atomic.Int32
}

// New creates a stopped receiver.
func New(name string, factory Factory, stopTimeout time.Duration, log *logger.Logger) *Receiver {
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	return &Receiver{
		name:        name,
		factory:     factory,
		mailbox:     frame.NewMailbox(),
		stopTimeout: stopTimeout,
		logger:      log.With("channel", name),
		state:       StateStopped,
	}
}

// Start builds the pipeline and runs it on a background goroutine. It is
// a no-op while running, whatever port is asked for; switching ports means
// Stop then Start.
func (r *Receiver) Start(port int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == StateRunning {
		if r.port != port {
			r.logger.Warn("Receiver already running, ignoring start", "port", r.port, "requested_port", port)
		}
		return nil
	}

	if _, err := config.ParsePort(strconv.Itoa(port)); err != nil {
		return err
	}

	pipe, err := r.factory(port, r.onSample)
	if err != nil {
		r.state = StateFailed
		r.port = port
		r.err = &PipelineError{Port: port, Stage: "start", Err: err}
		r.logger.Error("Failed to build decode pipeline", "port", port, "error", err)
		return r.err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.state = StateRunning
	r.port = port
	r.err = nil
	r.cancel = cancel
	r.done = done

	r.loops.Add(1)
	go r.run(ctx, pipe, port, done)

	r.logger.Info("Receiver started", "port", port)
	return nil
}

func (r *Receiver) run(ctx context.Context, pipe Pipeline, port int, done chan struct{}) {
	defer r.loops.Add(-1)
	defer close(done)

	err := pipe.Run(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != done || r.state != StateRunning {
		return
	}
	if err != nil && ctx.Err() == nil {
		r.state = StateFailed
		r.err = &PipelineError{Port: port, Stage: "run", Err: err}
		r.logger.Error("Decode pipeline failed", "port", port, "error", err)
		return
	}
	r.state = StateStopped
}

func (r *Receiver) onSample(f *frame.Frame) {
	r.mailbox.Put(f)
}

// Stop cancels the pipeline and waits up to the stop timeout for it to
// exit. It is safe in any state and may be called repeatedly.
func (r *Receiver) Stop() {
	r.mu.Lock()
	if r.state != StateRunning {
		r.mu.Unlock()
		return
	}
	cancel, done := r.cancel, r.done
	r.state = StateStopped
	r.cancel = nil
	r.mu.Unlock()

	cancel()
	select {
	case <-done:
		r.logger.Info("Receiver stopped")
	case <-time.After(r.stopTimeout):
		r.logger.Warn("Decode pipeline did not stop in time", "timeout", r.stopTimeout)
	}
}

// Frame returns a copy of the newest decoded frame without blocking.
func (r *Receiver) Frame() (*frame.Frame, bool) {
	return r.mailbox.Get()
}

// Status returns the current state.
func (r *Receiver) Status() Status {
	r.mu.Lock()
	st := Status{State: r.state, Port: r.port}
	if r.err != nil {
		st.Error = r.err.Error()
	}
	r.mu.Unlock()

	stats := r.mailbox.Stats()
	st.Frames = stats.Writes
	st.LastFrame = stats.UpdatedAt
	return st
}

// Err returns the last pipeline error, if any.
func (r *Receiver) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Name returns the channel name.
func (r *Receiver) Name() string {
	return r.name
}

// Mailbox exposes the frame slot for statistics.
func (r *Receiver) Mailbox() *frame.Mailbox {
	return r.mailbox
}
