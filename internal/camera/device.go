package camera

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/video"
)

// Device yields BGR frames until io.EOF. Close must be safe to call
// concurrently with a blocked Read and must unblock it.
type Device interface {
	Read() (*frame.Frame, error)
	Close() error
}

// Opener opens the device at path.
type Opener func(ctx context.Context, path string) (Device, error)

// CaptureSettings are the V4L2 capture parameters shared by all channels.
type CaptureSettings struct {
	Width       int
	Height      int
	FPS         int
	InputFormat string
}

// exitWait bounds how long Read waits for ffmpeg to report its exit status
// after stdout has closed.
const exitWait = 2 * time.Second

// FFmpegDevice captures from V4L2 through an ffmpeg subprocess.
type FFmpegDevice struct {
	proc      *video.Process
	reader    *video.RawReader
	closeOnce sync.Once
}

// FFmpegOpener returns an Opener that starts one ffmpeg capture per device.
func FFmpegOpener(ff *video.FFmpegWrapper, settings CaptureSettings) Opener {
	return func(ctx context.Context, path string) (Device, error) {
		proc, err := ff.Start(ctx, "capture "+path, video.CaptureArgs(video.CaptureSpec{
			Device:      path,
			Width:       settings.Width,
			Height:      settings.Height,
			FPS:         settings.FPS,
			InputFormat: settings.InputFormat,
		}))
		if err != nil {
			return nil, err
		}
		return &FFmpegDevice{
			proc:   proc,
			reader: video.NewRawReader(proc.Stdout(), settings.Width, settings.Height, 3),
		}, nil
	}
}

// Read returns the next frame. When ffmpeg exits with an error, that error
// (including its stderr) is returned instead of io.EOF.
func (d *FFmpegDevice) Read() (*frame.Frame, error) {
	f, err := d.reader.Read()
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, io.EOF) {
		return nil, err
	}
	select {
	case <-d.proc.Done():
		if werr := d.proc.Wait(); werr != nil {
			return nil, werr
		}
	case <-time.After(exitWait):
	}
	return nil, io.EOF
}

// Close kills the capture process.
func (d *FFmpegDevice) Close() error {
	d.closeOnce.Do(d.proc.Kill)
	return nil
}
