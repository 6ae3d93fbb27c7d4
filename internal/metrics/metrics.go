// Package metrics exposes the Prometheus registry for session, provider, and
// cost instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jordanhubbard/quorum/internal/providers"
)

type Registry struct {
	reg *prometheus.Registry

	SessionsTotal   *prometheus.CounterVec
	SessionRounds   prometheus.Histogram
	SessionLatency  prometheus.Histogram
	ChallengesTotal *prometheus.CounterVec
	Confidence      prometheus.Histogram
	ProviderCalls   *prometheus.CounterVec
	TokensTotal     *prometheus.CounterVec
	CostUSD         *prometheus.CounterVec
	RateLimited     prometheus.Counter
}

func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_sessions_total",
			Help: "Completed sessions by protocol and outcome",
		}, []string{"protocol", "outcome"}),
		SessionRounds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_session_rounds",
			Help:    "Debate rounds per completed session",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		SessionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_session_latency_ms",
			Help:    "End-to-end session latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 12),
		}),
		ChallengesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_challenges_total",
			Help: "Challenger responses by classification",
		}, []string{"classification"}),
		Confidence: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "quorum_session_confidence",
			Help:    "Final confidence of completed sessions",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_provider_calls_total",
			Help: "Provider calls by model and status",
		}, []string{"provider", "model", "status"}),
		TokensTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_tokens_total",
			Help: "Tokens consumed by direction",
		}, []string{"provider", "model", "direction"}),
		CostUSD: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "quorum_cost_usd_total",
			Help: "Estimated USD cost",
		}, []string{"provider", "model"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quorum_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}),
	}
	reg.MustRegister(
		m.SessionsTotal, m.SessionRounds, m.SessionLatency,
		m.ChallengesTotal, m.Confidence,
		m.ProviderCalls, m.TokensTotal, m.CostUSD,
		m.RateLimited,
	)
	return m
}

// ObserveUsage records token and cost counters for one provider call.
// Satisfies the manager's usage observer.
func (m *Registry) ObserveUsage(info providers.ModelInfo, usage providers.TokenUsage, costUSD float64) {
	m.TokensTotal.WithLabelValues(info.ProviderID, info.ModelID, "input").Add(float64(usage.InputTokens))
	m.TokensTotal.WithLabelValues(info.ProviderID, info.ModelID, "output").Add(float64(usage.OutputTokens))
	m.CostUSD.WithLabelValues(info.ProviderID, info.ModelID).Add(costUSD)
	m.ProviderCalls.WithLabelValues(info.ProviderID, info.ModelID, "ok").Inc()
}

// ObserveSession records the outcome counters for a finished session.
func (m *Registry) ObserveSession(protocol, outcome string, rounds int, latencyMs float64, confidence float64) {
	m.SessionsTotal.WithLabelValues(protocol, outcome).Inc()
	if outcome == "completed" {
		m.SessionRounds.Observe(float64(rounds))
		m.Confidence.Observe(confidence)
	}
	m.SessionLatency.Observe(latencyMs)
}

func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
