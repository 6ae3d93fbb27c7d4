// Package events is the in-memory pub/sub bus for session lifecycle,
// provider health, and cost events. The admin SSE feed and the stats
// collector subscribe to it.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// EventType identifies the kind of event.
type EventType string

const (
	EventSessionStarted   EventType = "session_started"
	EventSessionCompleted EventType = "session_completed"
	EventSessionFailed    EventType = "session_failed"
	EventPhaseCompleted   EventType = "phase_completed"
	EventVoteCompleted    EventType = "vote_completed"
	EventHealthChange     EventType = "health_change"
	EventCostWarning      EventType = "cost_warning"
)

// Event is a single record published on the bus.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Session fields.
	ThreadID   string  `json:"thread_id,omitempty"`
	Protocol   string  `json:"protocol,omitempty"`
	Phase      string  `json:"phase,omitempty"`
	Round      int     `json:"round,omitempty"`
	ModelRef   string  `json:"model_ref,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Rigor      float64 `json:"rigor,omitempty"`
	CostUSD    float64 `json:"cost_usd,omitempty"`
	ErrorMsg   string  `json:"error_msg,omitempty"`

	// Health fields.
	ProviderID string `json:"provider_id,omitempty"`
	OldState   string `json:"old_state,omitempty"`
	NewState   string `json:"new_state,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// JSON returns the event as a JSON byte slice.
func (e *Event) JSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Subscriber receives events on a channel.
type Subscriber struct {
	C    chan Event
	done chan struct{}
}

// Bus is an in-memory pub/sub event bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[*Subscriber]struct{}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[*Subscriber]struct{}),
	}
}

// Subscribe creates a new subscriber with a buffered channel.
func (b *Bus) Subscribe(bufSize int) *Subscriber {
	if bufSize <= 0 {
		bufSize = 64
	}
	s := &Subscriber{
		C:    make(chan Event, bufSize),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.subscribers[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	delete(b.subscribers, s)
	b.mu.Unlock()
	close(s.done)
}

// Publish sends an event to all subscribers (non-blocking). Slow subscribers
// drop events rather than stalling publishers.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subscribers {
		select {
		case s.C <- e:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
