package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// DefaultStopTimeout bounds each service's Stop during Shutdown.
const DefaultStopTimeout = 10 * time.Second

// Service is a long-running component of a station binary.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
}

// ServiceWithEvents is a service that publishes on the manager's bus.
type ServiceWithEvents interface {
	Service
	SetEventBus(bus *EventBus)
}

type entry struct {
	svc     Service
	status  *ServiceStatus
	started bool
}

// Manager starts services in registration order and stops the ones that
// started in reverse order. It owns the EventBus shared by its services.
type Manager struct {
	logger      *logger.Logger
	mu          sync.RWMutex
	entries     []*entry
	byName      map[string]*entry
	eventBus    *EventBus
	stopTimeout time.Duration
}

// NewManager creates a manager with an empty registry.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		logger:      log.Named("services"),
		byName:      make(map[string]*entry),
		eventBus:    NewEventBus(100),
		stopTimeout: DefaultStopTimeout,
	}
}

// GetEventBus returns the bus shared by registered services.
func (m *Manager) GetEventBus() *EventBus {
	return m.eventBus
}

// Register adds svc and hands it the event bus when it publishes events.
func (m *Manager) Register(svc Service) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := &entry{svc: svc, status: NewServiceStatus(svc.Name())}
	m.entries = append(m.entries, e)
	m.byName[svc.Name()] = e

	if withEvents, ok := svc.(ServiceWithEvents); ok {
		withEvents.SetEventBus(m.eventBus)
	}
}

// Start starts every registered service in order. A service that fails
// is marked errored and the rest still start; Start only returns an
// error when none of them came up.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Starting services", "count", len(m.entries))
	go m.logEvents(ctx, m.eventBus.SubscribeAll())

	failed := 0
	for _, e := range m.entries {
		name := e.svc.Name()
		e.status.SetStatus(StatusStarting)

		if err := e.svc.Start(ctx); err != nil {
			failed++
			e.status.SetError(err)
			m.logger.Error("Service failed to start", "service", name, "error", err)
			m.publish(EventTypeServiceError, name, map[string]interface{}{"error": err.Error()})
			continue
		}

		e.started = true
		e.status.SetStatus(StatusRunning)
		m.logger.Info("Service started", "service", name)
		m.publish(EventTypeServiceStarted, "manager", map[string]interface{}{"service": name})
	}

	if failed > 0 && failed == len(m.entries) {
		return fmt.Errorf("all %d services failed to start", failed)
	}
	return nil
}

func (m *Manager) publish(t EventType, source string, data map[string]interface{}) {
	m.eventBus.Publish(Event{Type: t, Source: source, Data: data})
}

// logEvents traces bus traffic at debug level until ctx ends or the bus
// is closed.
func (m *Manager) logEvents(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			m.logger.Debug("Event", "type", ev.Type, "source", ev.Source, "data", ev.Data)
		case <-ctx.Done():
			return
		}
	}
}

// Shutdown stops started services last-first, each under its own stop
// timeout, then closes the event bus. It gives up when ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	defer m.eventBus.Close()

	var running []*entry
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].started {
			running = append(running, m.entries[i])
		}
	}
	m.logger.Info("Shutting down services", "count", len(running))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, e := range running {
			m.stop(ctx, e)
		}
	}()

	select {
	case <-done:
		m.logger.Info("All services stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (m *Manager) stop(ctx context.Context, e *entry) {
	name := e.svc.Name()
	e.status.SetStatus(StatusStopping)

	stopCtx, cancel := context.WithTimeout(ctx, m.stopTimeout)
	defer cancel()

	if err := e.svc.Stop(stopCtx); err != nil {
		e.status.SetError(err)
		m.logger.Error("Error stopping service", "service", name, "error", err)
	} else {
		e.status.SetStatus(StatusStopped)
		m.logger.Info("Service stopped", "service", name)
	}
	e.started = false
	m.publish(EventTypeServiceStopped, "manager", map[string]interface{}{"service": name})
}

// GetServiceCount returns the number of registered services.
func (m *Manager) GetServiceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// GetServiceStatus returns the status of the named service, or nil.
func (m *Manager) GetServiceStatus(name string) *ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.byName[name]; ok {
		return e.status
	}
	return nil
}

// GetAllStatuses returns the status of every registered service by name.
func (m *Manager) GetAllStatuses() map[string]*ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*ServiceStatus, len(m.entries))
	for _, e := range m.entries {
		out[e.svc.Name()] = e.status
	}
	return out
}
