package service

import (
	"github.com/RoboSub-UTD/2025-camera-feed/internal/logger"
)

// ServiceBase is embedded by concrete services. It carries the service
// name, its status and a logger that tags every entry with the name.
// Events are dropped until the Manager hands over its bus.
type ServiceBase struct {
	name     string
	logger   *logger.Logger
	eventBus *EventBus
	status   *ServiceStatus
}

// NewServiceBase creates the embedded base for a service called name.
func NewServiceBase(name string, log *logger.Logger) *ServiceBase {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &ServiceBase{
		name:   name,
		logger: log.With("service", name),
		status: NewServiceStatus(name),
	}
}

func (sb *ServiceBase) Name() string { return sb.name }

// SetEventBus is called by Manager.Register.
func (sb *ServiceBase) SetEventBus(bus *EventBus) { sb.eventBus = bus }

func (sb *ServiceBase) GetEventBus() *EventBus { return sb.eventBus }

func (sb *ServiceBase) GetStatus() *ServiceStatus { return sb.status }

// Logger returns the service's tagged logger, for handing to helpers
// the service owns.
func (sb *ServiceBase) Logger() *logger.Logger { return sb.logger }

// PublishEvent emits an event sourced from this service. It is a no-op
// before registration.
func (sb *ServiceBase) PublishEvent(eventType EventType, data map[string]interface{}) {
	if sb.eventBus == nil {
		return
	}
	sb.eventBus.Publish(Event{Type: eventType, Source: sb.name, Data: data})
}

func (sb *ServiceBase) LogInfo(msg string, kv ...interface{}) { sb.logger.Info(msg, kv...) }

func (sb *ServiceBase) LogWarn(msg string, kv ...interface{}) { sb.logger.Warn(msg, kv...) }

func (sb *ServiceBase) LogDebug(msg string, kv ...interface{}) { sb.logger.Debug(msg, kv...) }

// LogError logs msg with err under the "error" key.
func (sb *ServiceBase) LogError(msg string, err error, kv ...interface{}) {
	sb.logger.Error(msg, append([]interface{}{"error", err}, kv...)...)
}
