package station

import (
	"fmt"
	"sync"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/frame"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/preview"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/receiver"
)

// Channel is one feed slot. Channels share nothing with each other.
type Channel struct {
	ID   int
	Name string

	renderer *preview.Renderer
	connect  bool

	// serializes Connect and Disconnect
	connMu sync.Mutex
	// orders renders against receiver swaps
	renderMu sync.Mutex

	mu       sync.Mutex
	receiver *receiver.Receiver
	port     int
	enhance  bool
	status   string
	waiting  bool
	failed   bool
	width    int
	height   int
	lastSeq  uint64
	lastMode bool
}

// ChannelInfo is a snapshot of a channel for the console.
type ChannelInfo struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Port        int             `json:"port"`
	Enhancement bool            `json:"enhancement"`
	Status      string          `json:"status"`
	Width       int             `json:"width,omitempty"`
	Height      int             `json:"height,omitempty"`
	Receiver    receiver.Status `json:"receiver"`
	Preview     preview.Stats   `json:"preview"`
}

// Info snapshots the channel.
func (c *Channel) Info() ChannelInfo {
	c.mu.Lock()
	info := ChannelInfo{
		ID:          c.ID,
		Name:        c.Name,
		Port:        c.port,
		Enhancement: c.enhance,
		Status:      c.status,
		Width:       c.width,
		Height:      c.height,
	}
	rec := c.receiver
	c.mu.Unlock()

	info.Receiver = rec.Status()
	info.Preview = c.renderer.Stats()
	return info
}

// Enhancement reports whether Retinex is on for the preview.
func (c *Channel) Enhancement() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enhance
}

// Status returns the operator status line.
func (c *Channel) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Channel) currentReceiver() *receiver.Receiver {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receiver
}

// replace installs a fresh receiver and forgets everything about the old stream.
func (c *Channel) replace(r *receiver.Receiver, port int) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	c.mu.Lock()
	c.receiver = r
	c.port = port
	c.waiting = false
	c.failed = false
	c.width, c.height = 0, 0
	c.lastSeq = 0
	c.mu.Unlock()
	c.renderer.Reset()
}

// renderFrom renders f, taken from rec, unless rec has been replaced in
// the meantime. stale reports a dropped frame.
func (c *Channel) renderFrom(rec *receiver.Receiver, f *frame.Frame) (rendered, stale bool, err error) {
	c.renderMu.Lock()
	defer c.renderMu.Unlock()

	if c.currentReceiver() != rec {
		return false, true, nil
	}
	rendered, err = c.renderer.Render(f)
	return rendered, false, err
}

func (c *Channel) setStatus(s string) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

func (c *Channel) setEnhancement(on bool) {
	c.mu.Lock()
	c.enhance = on
	c.mu.Unlock()
}

// setWaiting shows the waiting message once per connection.
func (c *Channel) setWaiting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waiting {
		return
	}
	c.waiting = true
	c.status = fmt.Sprintf("Waiting for %s stream...", c.Name)
}

// markFailed records a failure and reports whether it is new.
func (c *Channel) markFailed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failed {
		return false
	}
	c.failed = true
	c.status = "Connection failed"
	return true
}

// needsRender reports whether seq or the enhancement mode changed since
// the last rendered frame, and records them.
func (c *Channel) needsRender(seq uint64, enhanceOn bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if seq == c.lastSeq && enhanceOn == c.lastMode {
		return false
	}
	c.lastSeq = seq
	c.lastMode = enhanceOn
	return true
}

// setSize updates the status line with the frame size and reports
// whether this is the first frame or a new resolution.
func (c *Channel) setSize(w, h int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = fmt.Sprintf("%s: %dx%d", c.Name, w, h)
	changed := c.width != w || c.height != h
	c.width, c.height = w, h
	return changed
}
