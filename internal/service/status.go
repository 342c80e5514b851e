package service

import (
	"sync"
	"time"
)

// Status is a service lifecycle state.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
)

// ServiceStatus is the lifecycle state of one service, safe for
// concurrent use. Name and StartedAt are written only by the owner.
type ServiceStatus struct {
	Name      string
	StartedAt time.Time

	mu    sync.RWMutex
	state Status
	err   error
}

// NewServiceStatus returns a stopped status for name.
func NewServiceStatus(name string) *ServiceStatus {
	return &ServiceStatus{Name: name, state: StatusStopped}
}

// SetStatus moves to s. Entering StatusRunning stamps StartedAt and
// clears the last error.
func (ss *ServiceStatus) SetStatus(s Status) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.state = s
	if s == StatusRunning {
		ss.StartedAt = time.Now()
		ss.err = nil
	}
}

// SetError moves to StatusError and records err.
func (ss *ServiceStatus) SetError(err error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	ss.state, ss.err = StatusError, err
}

func (ss *ServiceStatus) GetStatus() Status {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.state
}

func (ss *ServiceStatus) GetError() error {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.err
}

func (ss *ServiceStatus) IsRunning() bool {
	return ss.GetStatus() == StatusRunning
}

// GetUptime is the time since the last start, or zero when not running.
func (ss *ServiceStatus) GetUptime() time.Duration {
	ss.mu.RLock()
	defer ss.mu.RUnlock()
	return ss.uptimeLocked()
}

func (ss *ServiceStatus) uptimeLocked() time.Duration {
	if ss.state != StatusRunning || ss.StartedAt.IsZero() {
		return 0
	}
	return time.Since(ss.StartedAt)
}

// Snapshot is the JSON form served on the status endpoint.
type Snapshot struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Uptime string `json:"uptime,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Snapshot copies the status under a single lock.
func (ss *ServiceStatus) Snapshot() Snapshot {
	ss.mu.RLock()
	defer ss.mu.RUnlock()

	snap := Snapshot{Name: ss.Name, Status: ss.state}
	if up := ss.uptimeLocked(); up > 0 {
		snap.Uptime = up.Truncate(time.Second).String()
	}
	if ss.err != nil {
		snap.Error = ss.err.Error()
	}
	return snap
}
