package events

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: EventSessionCompleted, ThreadID: "t1", Confidence: 0.85})

	select {
	case ev := <-sub.C:
		if ev.Type != EventSessionCompleted || ev.ThreadID != "t1" {
			t.Errorf("event = %+v", ev)
		}
		if ev.Timestamp.IsZero() {
			t.Error("timestamp not stamped")
		}
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	defer bus.Unsubscribe(sub)

	bus.Publish(Event{Type: EventSessionStarted})
	bus.Publish(Event{Type: EventSessionCompleted}) // buffer full, dropped

	if got := len(sub.C); got != 1 {
		t.Errorf("buffered = %d, want 1", got)
	}
	ev := <-sub.C
	if ev.Type != EventSessionStarted {
		t.Errorf("kept event = %v, want the first one", ev.Type)
	}
}

func TestUnsubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(1)
	bus.Unsubscribe(sub)
	if bus.SubscriberCount() != 0 {
		t.Errorf("count = %d, want 0", bus.SubscriberCount())
	}
	bus.Publish(Event{Type: EventHealthChange})
}

func TestEventJSON(t *testing.T) {
	e := Event{Type: EventHealthChange, ProviderID: "anthropic", OldState: "healthy", NewState: "down"}
	b := e.JSON()
	if len(b) == 0 {
		t.Fatal("empty JSON")
	}
}
