// Package preview turns the latest frame of a channel into JPEG previews
// for the operator console and fans them out to MJPEG subscribers.
package preview

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/jpeg"
	"sync"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/image/draw"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
)

const (
	DefaultMaxWidth  = 522
	DefaultMaxHeight = 928
	DefaultQuality   = 85
)

// Options configures a Renderer.
type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (o *Options) setDefaults() {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
}

// Stats counts renderer activity.
type Stats struct {
	Rendered    uint64 `json:"rendered"`
	Skipped     uint64 `json:"skipped"`
	Subscribers int    `json:"subscribers"`
}

// Renderer keeps the most recent preview JPEG of one channel.
type Renderer struct {
	opts Options

	mu       sync.RWMutex
	lastHash [blake2b.Size256]byte
	hasHash  bool
	latest   []byte
	width    int
	height   int
	subs     map[*Subscription]struct{}
	rendered uint64
	skipped  uint64
}

// NewRenderer creates a renderer with no preview yet.
func NewRenderer(opts Options) *Renderer {
	opts.setDefaults()
	return &Renderer{
		opts: opts,
		subs: make(map[*Subscription]struct{}),
	}
}

// Render publishes f unless it is pixel-identical to the previous input.
// It reports whether a new preview was produced.
func (r *Renderer) Render(f *frame.Frame) (bool, error) {
	if err := f.Validate(); err != nil {
		return false, err
	}
	sum := Hash(f)

	r.mu.RLock()
	same := r.hasHash && sum == r.lastHash
	r.mu.RUnlock()
	if same {
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return false, nil
	}

	img, err := Scale(f, r.opts.MaxWidth, r.opts.MaxHeight)
	if err != nil {
		return false, err
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: r.opts.Quality}); err != nil {
		return false, fmt.Errorf("failed to encode preview: %w", err)
	}
	data := buf.Bytes()

	r.mu.Lock()
	r.lastHash = sum
	r.hasHash = true
	r.latest = data
	r.width = img.Bounds().Dx()
	r.height = img.Bounds().Dy()
	r.rendered++
	for sub := range r.subs {
		sub.offer(data)
	}
	r.mu.Unlock()
	return true, nil
}

// Latest returns the current preview JPEG. The slice must not be modified.
func (r *Renderer) Latest() ([]byte, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.latest != nil
}

// Size returns the dimensions of the current preview.
func (r *Renderer) Size() (width, height int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.width, r.height
}

// Reset drops the current preview, e.g. when the channel reconnects.
func (r *Renderer) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.latest = nil
	r.hasHash = false
	r.width, r.height = 0, 0
}

// Stats returns renderer counters.
func (r *Renderer) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Stats{Rendered: r.rendered, Skipped: r.skipped, Subscribers: len(r.subs)}
}

// Subscribe registers a new MJPEG consumer. The current preview, if any,
// is delivered immediately.
func (r *Renderer) Subscribe() *Subscription {
	sub := &Subscription{ch: make(chan []byte, 1), r: r}
	r.mu.Lock()
	r.subs[sub] = struct{}{}
	if r.latest != nil {
		sub.offer(r.latest)
	}
	r.mu.Unlock()
	return sub
}

func (r *Renderer) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.ch)
	}
}

// Subscription receives previews. Slow readers only ever see the newest one.
type Subscription struct {
	ch chan []byte
	r  *Renderer
}

// C delivers preview JPEGs. It is closed by Close.
func (s *Subscription) C() <-chan []byte {
	return s.ch
}

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.r.unsubscribe(s)
}

// offer replaces any undelivered preview. Caller holds r.mu.
func (s *Subscription) offer(data []byte) {
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- data:
	default:
	}
}

// Hash returns the BLAKE2b-256 digest of the frame geometry and pixels.
func Hash(f *frame.Frame) [blake2b.Size256]byte {
	h, _ := blake2b.New256(nil)
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:], uint32(f.Width))
	binary.BigEndian.PutUint32(hdr[4:], uint32(f.Height))
	binary.BigEndian.PutUint32(hdr[8:], uint32(f.Channels))
	h.Write(hdr[:])
	h.Write(f.Pix)
	var out [blake2b.Size256]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Fit returns the preview size for a width x height frame. Frames inside
// the bounds keep their size, larger ones are resized to the bounds.
func Fit(width, height, maxWidth, maxHeight int) (int, int) {
	if width > maxWidth || height > maxHeight {
		return maxWidth, maxHeight
	}
	return width, height
}

// Scale converts a BGR frame into an RGBA image no larger than the bounds.
func Scale(f *frame.Frame, maxWidth, maxHeight int) (*image.RGBA, error) {
	src, err := f.ToRGBA()
	if err != nil {
		return nil, err
	}
	w, h := Fit(f.Width, f.Height, maxWidth, maxHeight)
	if w == f.Width && h == f.Height {
		return src, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return dst, nil
}
