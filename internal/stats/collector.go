// Package stats keeps rolling per-session snapshots for the admin dashboard:
// session counts, convergence rate, confidence, cost, and latency over a set
// of time windows.
package stats

import (
	"sort"
	"sync"
	"time"
)

// Snapshot is a single data point recorded for a finished session.
type Snapshot struct {
	Timestamp  time.Time
	ThreadID   string
	Protocol   string // consensus, voting, decompose
	Rounds     int
	Converged  bool
	Confidence float64
	Rigor      float64
	CostUSD    float64
	LatencyMs  float64
	Success    bool
}

// Window defines a named time window for aggregation.
type Window struct {
	Name     string
	Duration time.Duration
}

// DefaultWindows returns the standard set of rolling windows.
func DefaultWindows() []Window {
	return []Window{
		{Name: "1m", Duration: time.Minute},
		{Name: "5m", Duration: 5 * time.Minute},
		{Name: "1h", Duration: time.Hour},
		{Name: "24h", Duration: 24 * time.Hour},
	}
}

// Aggregate holds computed stats for a time window.
type Aggregate struct {
	Window          string  `json:"window"`
	Protocol        string  `json:"protocol,omitempty"`
	SessionCount    int     `json:"session_count"`
	ErrorCount      int     `json:"error_count"`
	ErrorRate       float64 `json:"error_rate"`
	ConvergenceRate float64 `json:"convergence_rate"`
	AvgRounds       float64 `json:"avg_rounds"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgRigor        float64 `json:"avg_rigor"`
	AvgLatencyMs    float64 `json:"avg_latency_ms"`
	P95LatencyMs    float64 `json:"p95_latency_ms"`
	TotalCostUSD    float64 `json:"total_cost_usd"`
}

// Collector maintains rolling snapshots for dashboard aggregation.
type Collector struct {
	mu        sync.RWMutex
	snapshots []Snapshot
	maxAge    time.Duration
	windows   []Window
}

// NewCollector creates a new stats collector.
func NewCollector() *Collector {
	return &Collector{
		windows: DefaultWindows(),
		maxAge:  25 * time.Hour, // slightly more than the largest window
	}
}

// Record adds a new snapshot.
func (c *Collector) Record(s Snapshot) {
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now().UTC()
	}
	c.mu.Lock()
	c.snapshots = append(c.snapshots, s)
	c.mu.Unlock()
}

// Seed bulk-loads historical snapshots (from the database on startup) so the
// dashboard is not blank after a restart.
func (c *Collector) Seed(snapshots []Snapshot) {
	c.mu.Lock()
	c.snapshots = append(c.snapshots, snapshots...)
	c.mu.Unlock()
}

// Prune removes snapshots older than maxAge.
func (c *Collector) Prune() {
	cutoff := time.Now().Add(-c.maxAge)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(cutoff)
}

func (c *Collector) pruneLocked(cutoff time.Time) {
	i := 0
	for i < len(c.snapshots) && c.snapshots[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.snapshots = c.snapshots[i:]
	}
}

// snapshotsAfterPrune prunes under the write lock and returns a copy, so a
// read never observes half-pruned data.
func (c *Collector) snapshotsAfterPrune() []Snapshot {
	cutoff := time.Now().Add(-c.maxAge)
	c.mu.Lock()
	c.pruneLocked(cutoff)
	cp := make([]Snapshot, len(c.snapshots))
	copy(cp, c.snapshots)
	c.mu.Unlock()
	return cp
}

// Summary returns aggregated stats for all windows grouped by protocol.
func (c *Collector) Summary() map[string][]Aggregate {
	snapshots := c.snapshotsAfterPrune()

	now := time.Now()
	result := make(map[string][]Aggregate)

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)

		byProtocol := make(map[string][]Snapshot)
		for _, s := range snapshots {
			if s.Timestamp.After(cutoff) {
				byProtocol[s.Protocol] = append(byProtocol[s.Protocol], s)
			}
		}

		for protocol, snaps := range byProtocol {
			result[w.Name] = append(result[w.Name], computeAggregate(w.Name, protocol, snaps))
		}
	}

	return result
}

// Global returns aggregate stats across all protocols.
func (c *Collector) Global() []Aggregate {
	snapshots := c.snapshotsAfterPrune()

	now := time.Now()
	var result []Aggregate

	for _, w := range c.windows {
		cutoff := now.Add(-w.Duration)
		var snaps []Snapshot
		for _, s := range snapshots {
			if s.Timestamp.After(cutoff) {
				snaps = append(snaps, s)
			}
		}
		if len(snaps) > 0 {
			result = append(result, computeAggregate(w.Name, "", snaps))
		}
	}

	return result
}

// SnapshotCount returns the total number of stored snapshots.
func (c *Collector) SnapshotCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.snapshots)
}

func computeAggregate(window, protocol string, snaps []Snapshot) Aggregate {
	a := Aggregate{
		Window:       window,
		Protocol:     protocol,
		SessionCount: len(snaps),
	}

	var totalLatency, totalRounds, totalConfidence, totalRigor float64
	converged := 0
	latencies := make([]float64, 0, len(snaps))

	for _, s := range snaps {
		totalLatency += s.LatencyMs
		latencies = append(latencies, s.LatencyMs)
		totalRounds += float64(s.Rounds)
		totalConfidence += s.Confidence
		totalRigor += s.Rigor
		a.TotalCostUSD += s.CostUSD
		if s.Converged {
			converged++
		}
		if !s.Success {
			a.ErrorCount++
		}
	}

	if a.SessionCount > 0 {
		n := float64(a.SessionCount)
		a.AvgLatencyMs = totalLatency / n
		a.AvgRounds = totalRounds / n
		a.AvgConfidence = totalConfidence / n
		a.AvgRigor = totalRigor / n
		a.ErrorRate = float64(a.ErrorCount) / n
		a.ConvergenceRate = float64(converged) / n
	}

	sort.Float64s(latencies)
	if len(latencies) > 0 {
		idx := int(float64(len(latencies)) * 0.95)
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		a.P95LatencyMs = latencies[idx]
	}

	return a
}
