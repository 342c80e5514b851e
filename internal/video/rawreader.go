package video

import (
	"errors"
	"fmt"
	"io"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

// RawReader splits a rawvideo byte stream into fixed size frames.
type RawReader struct {
	r        io.Reader
	width    int
	height   int
	channels int
}

// NewRawReader reads frames of width x height x channels bytes from r.
func NewRawReader(r io.Reader, width, height, channels int) *RawReader {
	return &RawReader{r: r, width: width, height: height, channels: channels}
}

// FrameSize is the number of bytes per frame.
func (rr *RawReader) FrameSize() int {
	return rr.width * rr.height * rr.channels
}

// ReadInto fills dst, which must have the reader's shape. It returns
// io.EOF when the stream ends on a frame boundary or mid-frame.
func (rr *RawReader) ReadInto(dst *frame.Frame) error {
	if dst.Width != rr.width || dst.Height != rr.height || dst.Channels != rr.channels {
		return fmt.Errorf("raw reader: frame is %dx%dx%d, stream is %dx%dx%d",
			dst.Width, dst.Height, dst.Channels, rr.width, rr.height, rr.channels)
	}
	_, err := io.ReadFull(rr.r, dst.Pix[:rr.FrameSize()])
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return io.EOF
	}
	return err
}

// Read allocates and returns the next frame.
func (rr *RawReader) Read() (*frame.Frame, error) {
	f := frame.New(rr.width, rr.height, rr.channels)
	if err := rr.ReadInto(f); err != nil {
		return nil, err
	}
	return f, nil
}
