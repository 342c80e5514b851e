// Package frame holds the raw image type passed between pipeline stages
// and the single slot mailbox that hands frames across goroutines.
package frame

import (
	"errors"
	"fmt"
	"image"
	"time"
)

// ErrEmpty is returned by Validate for frames without pixels.
var ErrEmpty = errors.New("frame is empty")

// Frame is an interleaved 8-bit image. Three channel frames are BGR unless
// a stage documents otherwise.
type Frame struct {
	Pix       []byte
	Width     int
	Height    int
	Channels  int
	Seq       uint64
	Timestamp time.Time
}

// New allocates a zeroed frame.
func New(width, height, channels int) *Frame {
	return &Frame{
		Pix:      make([]byte, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// FromBytes wraps pix without copying.
func FromBytes(pix []byte, width, height, channels int) (*Frame, error) {
	f := &Frame{Pix: pix, Width: width, Height: height, Channels: channels}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Stride is the number of bytes in one row.
func (f *Frame) Stride() int {
	return f.Width * f.Channels
}

// Size returns the expected length of Pix.
func (f *Frame) Size() int {
	return f.Width * f.Height * f.Channels
}

// Validate checks that dimensions are positive and match the buffer.
func (f *Frame) Validate() error {
	if f == nil || f.Width <= 0 || f.Height <= 0 || f.Channels <= 0 || len(f.Pix) == 0 {
		return ErrEmpty
	}
	if len(f.Pix) != f.Size() {
		return fmt.Errorf("frame buffer is %d bytes, want %dx%dx%d=%d",
			len(f.Pix), f.Width, f.Height, f.Channels, f.Size())
	}
	return nil
}

// Clone returns a deep copy. Cloning nil returns nil.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// SameShape reports whether two frames have identical dimensions.
func (f *Frame) SameShape(o *Frame) bool {
	return f.Width == o.Width && f.Height == o.Height && f.Channels == o.Channels
}

// SwapRB returns a copy with the first and third channel exchanged,
// converting BGR to RGB and back.
func (f *Frame) SwapRB() *Frame {
	out := f.Clone()
	out.SwapRBInPlace()
	return out
}

// SwapRBInPlace is SwapRB without the copy.
func (f *Frame) SwapRBInPlace() {
	if f.Channels < 3 {
		return
	}
	for i := 0; i+2 < len(f.Pix); i += f.Channels {
		f.Pix[i], f.Pix[i+2] = f.Pix[i+2], f.Pix[i]
	}
}

// ToRGBA converts a BGR frame into an image.RGBA for encoding.
func (f *Frame) ToRGBA() (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if f.Channels != 3 {
		return nil, fmt.Errorf("expected 3 channels, got %d", f.Channels)
	}
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		src := f.Pix[y*f.Stride() : (y+1)*f.Stride()]
		dst := img.Pix[y*img.Stride : y*img.Stride+f.Width*4]
		for x := 0; x < f.Width; x++ {
			dst[x*4+0] = src[x*3+2]
			dst[x*4+1] = src[x*3+1]
			dst[x*4+2] = src[x*3+0]
			dst[x*4+3] = 0xff
		}
	}
	return img, nil
}

// FromImage converts any image into a BGR frame.
func FromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := New(b.Dx(), b.Dy(), 3)
	if rgba, ok := img.(*image.RGBA); ok {
		for y := 0; y < f.Height; y++ {
			src := rgba.Pix[(y)*rgba.Stride:]
			dst := f.Pix[y*f.Stride():]
			for x := 0; x < f.Width; x++ {
				dst[x*3+0] = src[x*4+2]
				dst[x*3+1] = src[x*4+1]
				dst[x*3+2] = src[x*4+0]
			}
		}
		return f
	}
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*f.Stride() + x*3
			f.Pix[i+0] = uint8(bl >> 8)
			f.Pix[i+1] = uint8(g >> 8)
			f.Pix[i+2] = uint8(r >> 8)
		}
	}
	return f
}

// RowBands splits rows into at most parts contiguous [start, end) ranges
// for fanning work out across goroutines.
func RowBands(rows, parts int) [][2]int {
	if parts < 1 {
		parts = 1
	}
	if parts > rows {
		parts = rows
	}
	out := make([][2]int, 0, parts)
	if rows <= 0 {
		return out
	}
	size := (rows + parts - 1) / parts
	for start := 0; start < rows; start += size {
		end := start + size
		if end > rows {
			end = rows
		}
		out = append(out, [2]int{start, end})
	}
	return out
}
