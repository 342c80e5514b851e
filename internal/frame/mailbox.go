package frame

import (
	"sync"
	"time"
)

// Mailbox holds at most one frame. A writer overwrites whatever is there
// and readers receive a private copy, so neither side can observe the
// other's buffer. Reads never block on the writer beyond the copy.
type Mailbox struct {
	mu        sync.Mutex
	frame     *Frame
	seq       uint64
	updatedAt time.Time

	writes     uint64
	overwrites uint64
	reads      uint64
}

// MailboxStats is a snapshot of mailbox counters.
type MailboxStats struct {
	Writes     uint64    `json:"writes"`
	Overwrites uint64    `json:"overwrites"`
	Reads      uint64    `json:"reads"`
	LastSeq    uint64    `json:"last_seq"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Put stores a copy of f, replacing any previous frame. The stored copy is
// stamped with a sequence number and the current time if f has none.
func (m *Mailbox) Put(f *Frame) {
	if f == nil {
		return
	}
	c := f.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	c.Seq = m.seq
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	if m.frame != nil {
		m.overwrites++
	}
	m.frame = c
	m.writes++
	m.updatedAt = c.Timestamp
}

// Get returns a copy of the latest frame, or false when nothing has been
// written since creation or the last Reset.
func (m *Mailbox) Get() (*Frame, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frame == nil {
		return nil, false
	}
	m.reads++
	return m.frame.Clone(), true
}

// Seq returns the sequence number of the latest frame, zero if empty.
func (m *Mailbox) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.frame == nil {
		return 0
	}
	return m.frame.Seq
}

// Reset empties the mailbox.
func (m *Mailbox) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = nil
}

// Stats returns the mailbox counters.
func (m *Mailbox) Stats() MailboxStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return MailboxStats{
		Writes:     m.writes,
		Overwrites: m.overwrites,
		Reads:      m.reads,
		LastSeq:    m.seq,
		UpdatedAt:  m.updatedAt,
	}
}
