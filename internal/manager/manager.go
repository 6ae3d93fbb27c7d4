// Package manager unifies heterogeneous model backends behind a single
// registry, routes calls by model_ref, and enforces the session cost budget.
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jordanhubbard/quorum/internal/providers"
)

// HealthGate reports whether a provider should receive requests. Implemented
// by health.Tracker; nil disables gating.
type HealthGate interface {
	IsAvailable(providerID string) bool
	RecordSuccess(providerID string, latencyMs float64)
	RecordError(providerID string, errMsg string)
}

// UsageObserver receives every recorded usage event. Implemented by the
// stats collector and metrics bridges.
type UsageObserver interface {
	ObserveUsage(info providers.ModelInfo, usage providers.TokenUsage, costUSD float64)
}

// Manager is the process-scoped provider registry and cost accountant.
// register/unregister are safe against concurrent RecordUsage; RecordUsage is
// the mutating hot path and updates cumulative plus per-provider totals under
// a single lock so the hard-limit check observes the new totals.
type Manager struct {
	mu        sync.RWMutex
	adapters  map[string]providers.Provider  // provider_id -> adapter
	models    map[string]providers.ModelInfo // model_ref -> info
	hardLimit float64

	costMu         sync.Mutex
	totalCost      float64
	costByProvider map[string]float64
	warned         bool

	warnThreshold float64
	onCostWarning func(total, threshold float64)

	health   HealthGate
	observer UsageObserver
}

// Option configures a Manager.
type Option func(*Manager)

// WithHardLimit sets the cost hard limit in USD. Zero disables enforcement.
func WithHardLimit(limit float64) Option {
	return func(m *Manager) { m.hardLimit = limit }
}

// WithWarnThreshold sets the spend level in USD at which onWarn fires. It
// fires once per accounting period; ResetCost re-arms it. Zero disables.
func WithWarnThreshold(threshold float64, onWarn func(total, threshold float64)) Option {
	return func(m *Manager) {
		m.warnThreshold = threshold
		m.onCostWarning = onWarn
	}
}

// WithHealthGate attaches a provider health gate.
func WithHealthGate(h HealthGate) Option {
	return func(m *Manager) { m.health = h }
}

// WithUsageObserver attaches an observer for usage events.
func WithUsageObserver(o UsageObserver) Option {
	return func(m *Manager) { m.observer = o }
}

// New creates an empty Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		adapters:       make(map[string]providers.Provider),
		models:         make(map[string]providers.ModelInfo),
		costByProvider: make(map[string]float64),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Register adds a provider and indexes its models by model_ref. A duplicate
// provider ID is a configuration error.
func (m *Manager) Register(p providers.Provider) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := p.ID()
	if _, exists := m.adapters[id]; exists {
		return providers.NewError(providers.KindConfig, "provider %q already registered", id)
	}
	m.adapters[id] = p
	for _, info := range p.ListModels() {
		m.models[info.Ref()] = info
	}
	slog.Info("registered provider",
		slog.String("provider", id),
		slog.Int("models", len(p.ListModels())),
	)
	return nil
}

// Unregister removes a provider and all of its models.
func (m *Manager) Unregister(providerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, providerID)
	for ref, info := range m.models {
		if info.ProviderID == providerID {
			delete(m.models, ref)
		}
	}
}

// GetProvider resolves a model_ref to its adapter and bare model ID.
func (m *Manager) GetProvider(modelRef string) (providers.Provider, string, error) {
	providerID, modelID, err := providers.SplitRef(modelRef)
	if err != nil {
		return nil, "", providers.NewError(providers.KindModelNotFound, "bad model_ref %q", modelRef)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.models[modelRef]; !ok {
		return nil, "", providers.NewError(providers.KindModelNotFound, "model_ref %q not registered", modelRef)
	}
	p, ok := m.adapters[providerID]
	if !ok {
		return nil, "", providers.NewError(providers.KindModelNotFound, "no adapter for provider %q", providerID)
	}
	return p, modelID, nil
}

// GetModelInfo returns the registered info for a model_ref.
func (m *Manager) GetModelInfo(modelRef string) (providers.ModelInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	info, ok := m.models[modelRef]
	return info, ok
}

// ListAllModels returns the union of registered models in a stable order
// (sorted by model_ref). Providers gated out by health tracking are skipped.
func (m *Manager) ListAllModels() []providers.ModelInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]providers.ModelInfo, 0, len(m.models))
	for _, info := range m.models {
		if m.health != nil && !m.health.IsAvailable(info.ProviderID) {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref() < out[j].Ref() })
	return out
}

// ListProviderIDs returns the IDs of all registered adapters.
func (m *Manager) ListProviderIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.adapters))
	for id := range m.adapters {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Send routes a blocking call through the adapter for modelRef, applying the
// retry policy, health accounting, and usage recording.
func (m *Manager) Send(ctx context.Context, modelRef string, messages []providers.Message, opts providers.SendOptions) (*providers.ModelResponse, error) {
	p, modelID, err := m.GetProvider(modelRef)
	if err != nil {
		return nil, err
	}
	info, _ := m.GetModelInfo(modelRef)

	resp, err := retrySend(ctx, p, messages, modelID, opts)
	if err != nil {
		if m.health != nil {
			m.health.RecordError(p.ID(), err.Error())
		}
		return nil, err
	}
	if m.health != nil {
		m.health.RecordSuccess(p.ID(), float64(resp.LatencyMs))
	}
	resp.ModelInfo = info
	if _, err := m.RecordUsage(info, resp.Usage); err != nil {
		return nil, err
	}
	return resp, nil
}

func retrySend(ctx context.Context, p providers.Provider, messages []providers.Message, modelID string, opts providers.SendOptions) (*providers.ModelResponse, error) {
	policy := providers.DefaultRetryPolicy()
	policy.OnRetry = func(attempt int, delay time.Duration, retryErr error) {
		slog.Warn("retrying provider call",
			slog.String("provider", p.ID()),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", retryErr.Error()),
		)
	}
	return providers.Retry(ctx, policy, func() (*providers.ModelResponse, error) {
		return p.Send(ctx, messages, modelID, opts)
	})
}

// RecordUsage computes the call cost from static pricing, updates the
// cumulative and per-provider totals atomically, and enforces the hard limit
// against the post-update total. Returns the call cost.
func (m *Manager) RecordUsage(info providers.ModelInfo, usage providers.TokenUsage) (float64, error) {
	cost := (float64(usage.InputTokens)*info.InputCostPerMTok +
		float64(usage.OutputTokens)*info.OutputCostPerMTok) / 1_000_000

	m.costMu.Lock()
	m.totalCost += cost
	m.costByProvider[info.ProviderID] += cost
	total := m.totalCost
	warn := m.warnThreshold > 0 && !m.warned && total > m.warnThreshold
	if warn {
		m.warned = true
	}
	m.costMu.Unlock()

	if warn && m.onCostWarning != nil {
		m.onCostWarning(total, m.warnThreshold)
	}

	if m.observer != nil {
		m.observer.ObserveUsage(info, usage, cost)
	}

	if m.hardLimit > 0 && total > m.hardLimit {
		return cost, providers.CostLimitError(m.hardLimit, total)
	}
	return cost, nil
}

// TotalCost returns the cumulative session cost in USD.
func (m *Manager) TotalCost() float64 {
	m.costMu.Lock()
	defer m.costMu.Unlock()
	return m.totalCost
}

// CostByProvider returns a snapshot of per-provider totals.
func (m *Manager) CostByProvider() map[string]float64 {
	m.costMu.Lock()
	defer m.costMu.Unlock()
	out := make(map[string]float64, len(m.costByProvider))
	for k, v := range m.costByProvider {
		out[k] = v
	}
	return out
}

// ResetCost zeroes the cost accumulators and re-arms the warn threshold.
func (m *Manager) ResetCost() {
	m.costMu.Lock()
	defer m.costMu.Unlock()
	m.totalCost = 0
	m.costByProvider = make(map[string]float64)
	m.warned = false
}

// HardLimit returns the configured hard limit (0 = disabled).
func (m *Manager) HardLimit() float64 { return m.hardLimit }
