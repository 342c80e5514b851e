package service

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewEventBus(t *testing.T) {
	bus := NewEventBus(100)
	if bus == nil {
		t.Fatal("NewEventBus returned nil")
	}

	bus2 := NewEventBus(0)
	if bus2.bufferSize != 100 {
		t.Errorf("Expected default buffer 100, got %d", bus2.bufferSize)
	}
}

func TestEventBus_Subscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeChannelStarted)

	bus.Publish(Event{
		Type:   EventTypeChannelStarted,
		Source: "test",
		Data:   map[string]interface{}{"channel": 1},
	})
	bus.Publish(Event{Type: EventTypeCaptureSaved, Source: "test"})

	select {
	case received := <-ch:
		if received.Type != EventTypeChannelStarted {
			t.Errorf("Expected event type %s, got %s", EventTypeChannelStarted, received.Type)
		}
		if received.Source != "test" {
			t.Errorf("Expected source 'test', got %s", received.Source)
		}
	case <-time.After(time.Second):
		t.Fatal("Event not received within timeout")
	}

	select {
	case ev := <-ch:
		t.Errorf("Unexpected event %s", ev.Type)
	default:
	}
}

func TestEventBus_SubscribeAll_SeesNewTypes(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.SubscribeAll()

	bus.Publish(Event{Type: EventTypeChannelFailed, Source: "receiver"})
	bus.Publish(Event{Type: EventTypeCaptureSaved, Source: "station"})

	for i := 0; i < 2; i++ {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatalf("Expected 2 events, received %d", i)
		}
	}
}

func TestEventBus_Publish_Timestamp(t *testing.T) {
	bus := NewEventBus(1)
	ch := bus.Subscribe(EventTypeCaptureSaved)

	before := time.Now()
	bus.Publish(Event{Type: EventTypeCaptureSaved})

	ev := <-ch
	if ev.Timestamp.Before(before) {
		t.Errorf("Timestamp %v should not be before %v", ev.Timestamp, before)
	}

	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	bus.Publish(Event{Type: EventTypeCaptureSaved, Timestamp: fixed})
	ev = <-ch
	if !ev.Timestamp.Equal(fixed) {
		t.Errorf("Expected timestamp to be kept, got %v", ev.Timestamp)
	}
}

func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeChannelStopped)
	all := bus.SubscribeAll()

	bus.Unsubscribe(ch)
	bus.Unsubscribe(all)

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after Unsubscribe")
	}
	if _, ok := <-all; ok {
		t.Error("Wildcard channel should be closed after Unsubscribe")
	}

	bus.Publish(Event{Type: EventTypeChannelStopped})
}

func TestEventBus_Close(t *testing.T) {
	bus := NewEventBus(10)
	ch := bus.Subscribe(EventTypeChannelStarted)

	bus.Close()
	bus.Close()

	if _, ok := <-ch; ok {
		t.Error("Channel should be closed after Close")
	}

	bus.Publish(Event{Type: EventTypeChannelStarted})

	late := bus.Subscribe(EventTypeChannelStarted)
	if _, ok := <-late; ok {
		t.Error("Subscribing to a closed bus should return a closed channel")
	}
}

func TestEventBus_SubscribeWithHandler(t *testing.T) {
	bus := NewEventBus(10)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan Event, 2)
	errs := make(chan error, 2)
	bus.SubscribeWithHandler(ctx, EventTypeCaptureSaved, func(ctx context.Context, ev Event) error {
		handled <- ev
		if ev.Source == "bad" {
			return errors.New("handler failed")
		}
		return nil
	}, func(err error) { errs <- err })

	// Subscription is registered synchronously.
	bus.Publish(Event{Type: EventTypeCaptureSaved, Source: "good"})
	bus.Publish(Event{Type: EventTypeCaptureSaved, Source: "bad"})

	for i := 0; i < 2; i++ {
		select {
		case <-handled:
		case <-time.After(time.Second):
			t.Fatal("Handler not called")
		}
	}

	select {
	case err := <-errs:
		if err.Error() != "handler failed" {
			t.Errorf("Unexpected error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Handler error not reported")
	}
}

func TestEventBus_Publish_NonBlocking(t *testing.T) {
	bus := NewEventBus(1)
	_ = bus.Subscribe(EventTypePreviewRendered)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(Event{Type: EventTypePreviewRendered})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
}
