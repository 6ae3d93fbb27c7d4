package app

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jordanhubbard/quorum/internal/apikey"
	"github.com/jordanhubbard/quorum/internal/consensus"
	"github.com/jordanhubbard/quorum/internal/events"
	"github.com/jordanhubbard/quorum/internal/health"
	"github.com/jordanhubbard/quorum/internal/httpapi"
	"github.com/jordanhubbard/quorum/internal/logging"
	"github.com/jordanhubbard/quorum/internal/manager"
	"github.com/jordanhubbard/quorum/internal/metrics"
	"github.com/jordanhubbard/quorum/internal/providers"
	"github.com/jordanhubbard/quorum/internal/providers/anthropic"
	"github.com/jordanhubbard/quorum/internal/providers/openai"
	"github.com/jordanhubbard/quorum/internal/providers/vllm"
	"github.com/jordanhubbard/quorum/internal/ratelimit"
	"github.com/jordanhubbard/quorum/internal/stats"
	"github.com/jordanhubbard/quorum/internal/store"
	temporalpkg "github.com/jordanhubbard/quorum/internal/temporal"
	"github.com/jordanhubbard/quorum/internal/tracing"
	"github.com/jordanhubbard/quorum/internal/vault"
)

type Server struct {
	cfg Config

	r *chi.Mux

	logger  *slog.Logger
	engine  *consensus.Engine
	store   store.Store
	vault   *vault.Vault
	prober  *health.Prober
	limiter *ratelimit.Limiter

	temporal        *temporalpkg.Manager
	tracingShutdown func(context.Context) error
}

func NewServer(cfg Config) (*Server, error) {
	logger := logging.Setup(cfg.LogLevel)

	tracingShutdown, err := tracing.Setup(tracing.Config{
		Enabled:     cfg.OTelEnabled,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "quorum",
	})
	if err != nil {
		return nil, err
	}

	db, err := store.NewSQLite(cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database initialized", slog.String("dsn", cfg.DBDSN))

	v, err := vault.New(cfg.VaultEnabled)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if salt, data, err := db.LoadVaultBlob(context.Background()); err == nil && salt != nil {
		v.SetSalt(salt)
		if err := v.Import(data); err != nil {
			logger.Warn("vault import failed", slog.String("error", err.Error()))
		} else {
			logger.Info("vault blob restored", slog.Int("entries", len(data)))
		}
	}

	bus := events.NewBus()
	tracker := health.NewTracker(health.DefaultConfig(), health.WithEventBus(bus))
	m := metrics.New()
	collector := stats.NewCollector()

	mgr := manager.New(
		manager.WithHardLimit(cfg.CostHardLimitUSD),
		manager.WithWarnThreshold(cfg.CostWarnThresholdUSD, func(total, threshold float64) {
			logger.Warn("cost warn threshold crossed",
				slog.Float64("total_usd", total),
				slog.Float64("threshold_usd", threshold),
			)
			bus.Publish(events.Event{Type: events.EventCostWarning, CostUSD: total})
		}),
		manager.WithHealthGate(tracker),
		manager.WithUsageObserver(&usageRecorder{metrics: m, store: db}),
	)

	timeout := time.Duration(cfg.ProviderTimeoutSecs) * time.Second
	probeTargets := registerProviders(mgr, cfg, v, timeout, logger)
	prober := health.NewProber(health.DefaultProberConfig(), tracker, probeTargets, logger)
	prober.Start()

	engine := consensus.NewEngine(mgr, cfg.File.Consensus)

	var keyMgr *apikey.Manager
	var budget *apikey.BudgetChecker
	if cfg.APIKeyAuth {
		keyMgr = apikey.NewManager(db)
		budget = apikey.NewBudgetChecker(db, keyMgr)
	}

	limiter := ratelimit.New(cfg.RateLimitRPS, cfg.RateLimitBurst, time.Second,
		ratelimit.WithCounter(m.RateLimited))

	deps := httpapi.Dependencies{
		Engine:     engine,
		Vault:      v,
		Metrics:    m,
		Store:      db,
		Health:     tracker,
		EventBus:   bus,
		Stats:      collector,
		APIKeyMgr:  keyMgr,
		Budget:     budget,
		AdminToken: cfg.AdminToken,
	}

	s := &Server{
		cfg:             cfg,
		logger:          logger,
		engine:          engine,
		store:           db,
		vault:           v,
		prober:          prober,
		limiter:         limiter,
		tracingShutdown: tracingShutdown,
	}

	if cfg.TemporalEnabled {
		acts := &temporalpkg.Activities{
			Engine:  engine,
			Store:   db,
			Bus:     bus,
			Metrics: m,
			Stats:   collector,
			Budget:  budget,
		}
		tm, err := temporalpkg.New(temporalpkg.Config{
			HostPort:  cfg.TemporalHostPort,
			Namespace: cfg.TemporalNamespace,
			TaskQueue: cfg.TemporalTaskQueue,
		}, acts)
		if err != nil {
			s.Close()
			return nil, err
		}
		if err := tm.Start(); err != nil {
			tm.Stop()
			s.Close()
			return nil, err
		}
		s.temporal = tm
		deps.TemporalClient = tm.Client()
		deps.TemporalTaskQueue = tm.TaskQueue()
		logger.Info("temporal worker started",
			slog.String("host", cfg.TemporalHostPort),
			slog.String("task_queue", cfg.TemporalTaskQueue),
		)
	}

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logging.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(tracing.Middleware())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Admin-Token"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(limiter.Middleware)

	httpapi.MountRoutes(r, deps)
	s.r = r

	return s, nil
}

func (s *Server) Router() http.Handler { return s.r }

// Reload applies a new configuration in place. Only settings that can change
// without rebuilding the router take effect; currently that is the log level.
// Provider, panel, and listener changes require a restart.
func (s *Server) Reload(cfg Config) {
	logging.SetLevel(cfg.LogLevel)
	s.cfg = cfg
	s.logger.Info("configuration reloaded", slog.String("log_level", cfg.LogLevel))
}

// Close stops background workers and releases resources. Safe to call on a
// partially constructed server.
func (s *Server) Close() error {
	if s.temporal != nil {
		s.temporal.Stop()
	}
	if s.prober != nil {
		s.prober.Stop()
	}
	if s.limiter != nil {
		s.limiter.Stop()
	}
	if s.tracingShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.tracingShutdown(ctx)
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// usageRecorder fans manager usage events out to Prometheus and the usage log.
type usageRecorder struct {
	metrics *metrics.Registry
	store   store.Store
}

func (u *usageRecorder) ObserveUsage(info providers.ModelInfo, usage providers.TokenUsage, costUSD float64) {
	u.metrics.ObserveUsage(info, usage, costUSD)
	if u.store != nil {
		err := u.store.LogUsage(context.Background(), store.UsageLog{
			Timestamp:    time.Now().UTC(),
			ProviderID:   info.ProviderID,
			ModelID:      info.ModelID,
			InputTokens:  int64(usage.InputTokens),
			OutputTokens: int64(usage.OutputTokens),
			CostUSD:      costUSD,
		})
		if err != nil {
			slog.Warn("usage log write failed", slog.String("error", err.Error()))
		}
	}
}

// registerProviders builds adapters from the file config, falling back to
// env-keyed defaults when no providers are declared. Returns the probe
// targets for the health prober.
func registerProviders(mgr *manager.Manager, cfg Config, v *vault.Vault, timeout time.Duration, logger *slog.Logger) []health.Probeable {
	var targets []health.Probeable
	register := func(p providers.Provider) {
		if err := mgr.Register(p); err != nil {
			logger.Warn("provider registration failed", slog.String("error", err.Error()))
			return
		}
		targets = append(targets, p)
	}

	if len(cfg.File.Providers) == 0 {
		registerFromEnv(register, timeout, logger)
		return targets
	}

	for _, pc := range cfg.File.Providers {
		if !pc.IsEnabled() {
			continue
		}
		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
		}
		if apiKey == "" && v != nil && !v.IsLocked() {
			apiKey, _ = v.Get("provider:" + pc.ID + ":api_key")
		}

		models := catalogFromConfig(pc)
		switch pc.Type {
		case "anthropic":
			register(anthropic.New(pc.ID, apiKey, pc.BaseURL,
				anthropic.WithTimeout(timeout), anthropic.WithModels(models)))
		case "vllm":
			register(vllm.New(pc.ID, pc.BaseURL,
				vllm.WithTimeout(timeout), vllm.WithModels(models)))
		default:
			register(openai.New(pc.ID, apiKey, pc.BaseURL,
				openai.WithTimeout(timeout), openai.WithModels(models)))
		}
		logger.Info("registered provider",
			slog.String("provider", pc.ID),
			slog.String("type", pc.Type),
			slog.Int("models", len(models)),
		)
	}
	return targets
}

func registerFromEnv(register func(providers.Provider), timeout time.Duration, logger *slog.Logger) {
	if key := os.Getenv("QUORUM_OPENAI_API_KEY"); key != "" {
		register(openai.New("openai", key, "https://api.openai.com", openai.WithTimeout(timeout)))
		logger.Info("registered provider", slog.String("provider", "openai"))
	}
	if key := os.Getenv("QUORUM_ANTHROPIC_API_KEY"); key != "" {
		register(anthropic.New("anthropic", key, "https://api.anthropic.com", anthropic.WithTimeout(timeout)))
		logger.Info("registered provider", slog.String("provider", "anthropic"))
	}
	if endpoints := os.Getenv("QUORUM_VLLM_ENDPOINTS"); endpoints != "" {
		for i, ep := range strings.Split(endpoints, ",") {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				continue
			}
			id := "vllm"
			if i > 0 {
				id = strings.ReplaceAll(ep, "://", "-")
				id = strings.ReplaceAll(id, ":", "-")
				id = strings.ReplaceAll(id, "/", "")
			}
			register(vllm.New(id, ep, vllm.WithTimeout(timeout)))
			logger.Info("registered provider", slog.String("provider", id), slog.String("endpoint", ep))
		}
	}
}

// catalogFromConfig converts YAML model entries to the adapter catalog. An
// empty list keeps the adapter's built-in defaults.
func catalogFromConfig(pc ProviderConfig) []providers.ModelInfo {
	var models []providers.ModelInfo
	for _, mc := range pc.Models {
		models = append(models, providers.ModelInfo{
			ProviderID:  pc.ID,
			ModelID:     mc.ID,
			DisplayName: mc.DisplayName,
			Capabilities: providers.Capabilities{
				SupportsTools:     mc.SupportsTools,
				SupportsJSON:      mc.SupportsJSON,
				SupportsStreaming: mc.SupportsStreaming,
			},
			ContextWindow:     mc.ContextWindow,
			MaxOutputTokens:   mc.MaxOutputTokens,
			InputCostPerMTok:  mc.InputCostPerMTok,
			OutputCostPerMTok: mc.OutputCostPerMTok,
			IsLocal:           pc.Type == "vllm",
			ProposerEligible:  mc.IsProposerEligible(),
		})
	}
	return models
}
