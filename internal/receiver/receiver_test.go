package receiver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/config"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// fakePipeline runs until cancelled, or until fail is closed.
type fakePipeline struct {
	onSample SampleFunc
	fail     chan error
	stubborn bool
	running  chan struct{}
}

func (p *fakePipeline) Run(ctx context.Context) error {
	close(p.running)
	if p.stubborn {
		select {}
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-p.fail:
		return err
	}
}

type fakeFactory struct {
	mu       sync.Mutex
	calls    atomic.Int32
	err      error
	stubborn bool
	last     *fakePipeline
}

func (f *fakeFactory) build(port int, onSample SampleFunc) (Pipeline, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePipeline{
		onSample: onSample,
		fail:     make(chan error, 1),
		stubborn: f.stubborn,
		running:  make(chan struct{}),
	}
	f.mu.Lock()
	f.last = p
	f.mu.Unlock()
	return p, nil
}

func (f *fakeFactory) pipeline() *fakePipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func newTestReceiver(f *fakeFactory) *Receiver {
	return New("Feed 1", f.build, 50*time.Millisecond, logger.NewNopLogger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestReceiver_StartIsIdempotent(t *testing.T) {
	f := &fakeFactory{}
	r := newTestReceiver(f)
	defer r.Stop()

	require.NoError(t, r.Start(5000))
	require.NoError(t, r.Start(5000))

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, StateRunning, r.Status().State)
	assert.Equal(t, 5000, r.Status().Port)

	require.NoError(t, r.Start(5001), "start while running is a no-op")
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, 5000, r.Status().Port)
}

func TestReceiver_ConcurrentStartRunsOneLoop(t *testing.T) {
	f := &fakeFactory{}
	r := newTestReceiver(f)
	defer r.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Start(5000))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int32(1), r.loops.Load())
}

func TestReceiver_InvalidPort(t *testing.T) {
	f := &fakeFactory{}
	r := newTestReceiver(f)

	for _, port := range []int{0, -1, 65536} {
		err := r.Start(port)
		var portErr *config.InvalidPortError
		assert.ErrorAs(t, err, &portErr, "port %d", port)
	}
	assert.Zero(t, f.calls.Load())
	assert.Equal(t, StateStopped, r.Status().State)
}

func TestReceiver_BuildFailure(t *testing.T) {
	f := &fakeFactory{err: errors.New("address already in use")}
	r := newTestReceiver(f)

	err := r.Start(5000)
	var pipeErr *PipelineError
	require.ErrorAs(t, err, &pipeErr)
	assert.Equal(t, 5000, pipeErr.Port)
	assert.Equal(t, StateFailed, r.Status().State)
	assert.Contains(t, r.Status().Error, "address already in use")

	r.Stop()
	r.Stop()
	assert.Equal(t, StateFailed, r.Status().State)

	f.err = nil
	require.NoError(t, r.Start(5000))
	assert.Equal(t, StateRunning, r.Status().State)
	assert.Empty(t, r.Status().Error)
	r.Stop()
}

func TestReceiver_RunFailure(t *testing.T) {
	f := &fakeFactory{}
	r := newTestReceiver(f)
	require.NoError(t, r.Start(5000))

	p := f.pipeline()
	<-p.running
	p.fail <- errors.New("decoder exited")

	waitFor(t, func() bool { return r.Status().State == StateFailed })
	var pipeErr *PipelineError
	assert.ErrorAs(t, r.Err(), &pipeErr)
	assert.Equal(t, "run", pipeErr.Stage)
}

func TestReceiver_StopIsBoundedAndIdempotent(t *testing.T) {
	f := &fakeFactory{stubborn: true}
	r := newTestReceiver(f)
	require.NoError(t, r.Start(5000))
	<-f.pipeline().running

	start := time.Now()
	r.Stop()
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, r.Status().State)

	r.Stop()
	New("unused", f.build, 0, logger.NewNopLogger()).Stop()
}

func TestReceiver_FrameFromMailbox(t *testing.T) {
	f := &fakeFactory{}
	r := newTestReceiver(f)
	defer r.Stop()

	_, ok := r.Frame()
	assert.False(t, ok, "no frame before the first sample")

	require.NoError(t, r.Start(5000))
	src := frame.New(4, 2, 3)
	src.Pix[0] = 200
	f.pipeline().onSample(src)

	got, ok := r.Frame()
	require.True(t, ok)
	assert.Equal(t, byte(200), got.Pix[0])
	got.Pix[0] = 1

	again, _ := r.Frame()
	assert.Equal(t, byte(200), again.Pix[0], "callers get copies")
	assert.Equal(t, uint64(1), r.Status().Frames)
}

func TestNewFactory_Unknown(t *testing.T) {
	_, err := NewFactory("nonexistent", Options{})
	assert.Error(t, err)
	assert.Contains(t, Pipelines(), "rtp")
}

func TestNewFactory_RTPRequiresFFmpeg(t *testing.T) {
	_, err := NewFactory("rtp", Options{})
	assert.Error(t, err)
}
