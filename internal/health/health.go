package health

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
	"github.com/RoboSub-UTD/2025-camera-feed/internal/service"
)

// Status represents the health status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one checker.
type Check struct {
	Name      string                 `json:"name"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// Report is what /api/health serves: the worst check or service status
// decides Status.
type Report struct {
	Status    Status                      `json:"status"`
	Timestamp time.Time                   `json:"timestamp"`
	Uptime    string                      `json:"uptime"`
	Checks    map[string]Check            `json:"checks"`
	Services  map[string]service.Snapshot `json:"services,omitempty"`
}

// Checker probes one dependency of the station.
type Checker interface {
	Name() string
	Check(ctx context.Context) Check
}

// Manager runs registered checkers concurrently under a shared timeout.
type Manager struct {
	logger     *logger.Logger
	svcManager *service.Manager
	startTime  time.Time
	timeout    time.Duration

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a health manager. svcManager may be nil.
func NewManager(log *logger.Logger, svcManager *service.Manager) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:     log.Named("health"),
		svcManager: svcManager,
		startTime:  time.Now(),
		timeout:    3 * time.Second,
	}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

// Check runs every checker and folds the results into a Report. An
// errored service degrades the report.
func (m *Manager) Check(ctx context.Context) Report {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	results := make([]Check, len(checkers))
	var g errgroup.Group
	for i, checker := range checkers {
		i, checker := i, checker
		g.Go(func() error {
			results[i] = checker.Check(ctx)
			return nil
		})
	}
	_ = g.Wait()

	checks := make(map[string]Check, len(results))
	overall := StatusHealthy
	for _, check := range results {
		checks[check.Name] = check
		overall = worse(overall, check.Status)
		if check.Status != StatusHealthy {
			m.logger.Debug("Check not healthy", "check", check.Name, "status", check.Status, "message", check.Message)
		}
	}

	var services map[string]service.Snapshot
	if m.svcManager != nil {
		services = make(map[string]service.Snapshot)
		for name, status := range m.svcManager.GetAllStatuses() {
			snap := status.Snapshot()
			services[name] = snap
			if snap.Status == service.StatusError {
				overall = worse(overall, StatusDegraded)
			}
		}
	}

	return Report{
		Status:    overall,
		Timestamp: time.Now(),
		Uptime:    time.Since(m.startTime).Round(time.Second).String(),
		Checks:    checks,
		Services:  services,
	}
}

func worse(a, b Status) Status {
	rank := func(s Status) int {
		switch s {
		case StatusUnhealthy:
			return 2
		case StatusDegraded:
			return 1
		default:
			return 0
		}
	}
	if rank(b) > rank(a) {
		return b
	}
	return a
}

func newCheck(name string) Check {
	return Check{
		Name:      name,
		Timestamp: time.Now(),
		Details:   make(map[string]interface{}),
	}
}
