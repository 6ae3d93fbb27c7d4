package health

import (
	"testing"
	"time"

	"github.com/jordanhubbard/quorum/internal/events"
)

func TestUnknownProviderAssumedAvailable(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	if !tr.IsAvailable("never-seen") {
		t.Error("unknown provider must be available")
	}
}

func TestDegradedAfterConsecErrors(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordError("p", "boom")
	if got := tr.GetStats("p").State; got != StateHealthy {
		t.Errorf("state after 1 error = %v, want healthy", got)
	}
	tr.RecordError("p", "boom")
	if got := tr.GetStats("p").State; got != StateDegraded {
		t.Errorf("state after 2 errors = %v, want degraded", got)
	}
	// Degraded providers still receive traffic.
	if !tr.IsAvailable("p") {
		t.Error("degraded provider must stay available")
	}
}

func TestDownWithCooldown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownDuration = time.Hour
	tr := NewTracker(cfg)
	for i := 0; i < cfg.ConsecErrorsForDown; i++ {
		tr.RecordError("p", "boom")
	}
	if got := tr.GetStats("p").State; got != StateDown {
		t.Errorf("state = %v, want down", got)
	}
	if tr.IsAvailable("p") {
		t.Error("down provider inside cooldown must be gated")
	}
}

func TestSuccessResetsState(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CooldownDuration = time.Hour
	tr := NewTracker(cfg)
	for i := 0; i < cfg.ConsecErrorsForDown; i++ {
		tr.RecordError("p", "boom")
	}
	tr.RecordSuccess("p", 120)

	s := tr.GetStats("p")
	if s.State != StateHealthy {
		t.Errorf("state = %v, want healthy", s.State)
	}
	if s.ConsecErrors != 0 {
		t.Errorf("consec errors = %d, want 0", s.ConsecErrors)
	}
	if !tr.IsAvailable("p") {
		t.Error("recovered provider must be available")
	}
}

func TestLatencyRunningAverage(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.RecordSuccess("p", 100)
	if got := tr.GetStats("p").AvgLatencyMs; got != 100 {
		t.Errorf("first latency = %v, want 100", got)
	}
	tr.RecordSuccess("p", 200)
	// 100*0.9 + 200*0.1
	if got := tr.GetStats("p").AvgLatencyMs; got != 110 {
		t.Errorf("avg = %v, want 110", got)
	}
}

func TestStateTransitionsPublished(t *testing.T) {
	bus := events.NewBus()
	sub := bus.Subscribe(8)
	defer bus.Unsubscribe(sub)

	tr := NewTracker(DefaultConfig(), WithEventBus(bus))
	tr.RecordError("p", "boom")
	tr.RecordError("p", "boom") // healthy -> degraded

	select {
	case ev := <-sub.C:
		if ev.Type != events.EventHealthChange || ev.NewState != string(StateDegraded) {
			t.Errorf("event = %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("no health_change event")
	}
}
