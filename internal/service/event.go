package service

import (
	"context"
	"sync"
	"time"
)

// EventType names an event published on the bus.
type EventType string

const (
	EventTypeServiceStarted EventType = "service.started"
	EventTypeServiceStopped EventType = "service.stopped"
	EventTypeServiceError   EventType = "service.error"

	// Per-channel pipeline lifecycle, on both the vehicle and topside.
	EventTypeChannelStarted EventType = "channel.started"
	EventTypeChannelStopped EventType = "channel.stopped"
	EventTypeChannelFailed  EventType = "channel.failed"

	EventTypeCaptureSaved    EventType = "capture.saved"
	EventTypePreviewRendered EventType = "preview.rendered"
)

// Event is one message on the bus. Data keys are event specific, e.g.
// "channel" and "error" for channel.failed.
type Event struct {
	Type      EventType
	Source    string
	Timestamp time.Time
	Data      map[string]interface{}
}

// subscription receives one event type, or every type when all is set.
type subscription struct {
	ch        chan Event
	eventType EventType
	all       bool
}

// EventBus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
type EventBus struct {
	mu         sync.RWMutex
	subs       []*subscription
	bufferSize int
	closed     bool
}

// NewEventBus creates a bus whose subscriber channels hold bufferSize
// events (100 when bufferSize is not positive).
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &EventBus{bufferSize: bufferSize}
}

// Subscribe returns a channel of events of eventType.
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	return eb.add(&subscription{eventType: eventType})
}

// SubscribeAll returns a channel of every event.
func (eb *EventBus) SubscribeAll() <-chan Event {
	return eb.add(&subscription{all: true})
}

func (eb *EventBus) add(sub *subscription) <-chan Event {
	sub.ch = make(chan Event, eb.bufferSize)

	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		close(sub.ch)
		return sub.ch
	}
	eb.subs = append(eb.subs, sub)
	return sub.ch
}

// Publish stamps event when it has no timestamp and delivers it.
// Publishing on a closed bus does nothing.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	for _, sub := range eb.subs {
		if !sub.all && sub.eventType != event.Type {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Unsubscribe removes the subscription behind ch and closes ch.
func (eb *EventBus) Unsubscribe(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	for i, sub := range eb.subs {
		if sub.ch == ch {
			eb.subs = append(eb.subs[:i], eb.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// Close closes every subscriber channel. Later subscriptions receive an
// already closed channel.
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	for _, sub := range eb.subs {
		close(sub.ch)
	}
	eb.subs = nil
}

// EventHandler handles one event.
type EventHandler func(ctx context.Context, event Event) error

// SubscribeWithHandler runs handler for each event of eventType in its own
// goroutine until ctx is done or the bus closes. Handler errors go to
// onError when it is non-nil.
func (eb *EventBus) SubscribeWithHandler(ctx context.Context, eventType EventType, handler EventHandler, onError func(error)) {
	ch := eb.Subscribe(eventType)
	go func() {
		defer eb.Unsubscribe(ch)
		for {
			select {
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := handler(ctx, ev); err != nil && onError != nil {
					onError(err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}
