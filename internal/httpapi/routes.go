package httpapi

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.temporal.io/sdk/client"

	"github.com/jordanhubbard/quorum/internal/apikey"
	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/events"
	"github.com/jordanhubbard/quorum/internal/health"
	"github.com/jordanhubbard/quorum/internal/metrics"
	"github.com/jordanhubbard/quorum/internal/stats"
	"github.com/jordanhubbard/quorum/internal/store"
	"github.com/jordanhubbard/quorum/internal/vault"
)

type Dependencies struct {
	Engine   *consensus.Engine
	Vault    *vault.Vault
	Metrics  *metrics.Registry
	Store    store.Store
	Health   *health.Tracker
	EventBus *events.Bus
	Stats    *stats.Collector

	// API key management (nil disables auth on /v1).
	APIKeyMgr *apikey.Manager
	Budget    *apikey.BudgetChecker

	// Admin token for /admin/v1 (empty disables admin auth).
	AdminToken string

	// Temporal workflow client (nil runs protocols in-process).
	TemporalClient    client.Client
	TemporalTaskQueue string
}

func MountRoutes(r chi.Router, d Dependencies) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		mgr := d.Engine.Manager()
		providerCount := len(mgr.ListProviderIDs())
		modelCount := len(mgr.ListAllModels())
		status := "ok"
		code := http.StatusOK
		if providerCount == 0 || modelCount == 0 {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    status,
			"providers": providerCount,
			"models":    modelCount,
		})
	})

	r.Route("/v1", func(r chi.Router) {
		if d.APIKeyMgr != nil {
			r.Use(apikey.AuthMiddleware(d.APIKeyMgr, d.Budget))
		}
		r.Post("/consensus", ConsensusHandler(d))
		r.Post("/consensus/stream", ConsensusStreamHandler(d))
		r.Post("/vote", VoteHandler(d))
		r.Post("/decompose", DecomposeHandler(d))
		r.Get("/models", ModelsHandler(d))
		r.Get("/sessions", SessionsListHandler(d))
		r.Get("/sessions/{threadID}", SessionGetHandler(d))
	})

	r.Route("/admin/v1", func(r chi.Router) {
		if d.AdminToken != "" {
			r.Use(adminAuth(d.AdminToken))
		}

		r.Get("/stats", StatsHandler(d))
		r.Get("/cost", CostHandler(d))
		r.Post("/cost/reset", CostResetHandler(d))
		r.Get("/providers/health", ProviderHealthHandler(d))
		r.Get("/audit", AuditLogsHandler(d))
		r.Get("/usage", UsageLogsHandler(d))

		r.Post("/apikeys", APIKeysCreateHandler(d))
		r.Get("/apikeys", APIKeysListHandler(d))
		r.Post("/apikeys/{id}/rotate", APIKeysRotateHandler(d))
		r.Patch("/apikeys/{id}", APIKeysPatchHandler(d))
		r.Delete("/apikeys/{id}", APIKeysDeleteHandler(d))

		r.Post("/vault/unlock", VaultUnlockHandler(d))
		r.Post("/vault/lock", VaultLockHandler(d))

		r.Get("/workflows", WorkflowsListHandler(d))
		r.Get("/workflows/{id}", WorkflowDescribeHandler(d))

		if d.EventBus != nil {
			r.Get("/events", SSEHandler(d.EventBus))
		}
	})

	r.Handle("/metrics", d.Metrics.Handler())
}

// adminAuth guards admin routes with a constant-time token comparison.
func adminAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provided := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(provided), []byte(token)) != 1 {
				jsonError(w, "invalid admin token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
