package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jordanhubbard/quorum/internal/consensus"
)

// Config is the environment-driven runtime configuration. Panel composition
// and provider catalogs live in the optional YAML file (QUORUM_CONFIG_FILE).
type Config struct {
	ListenAddr string
	LogLevel   string

	DBDSN string

	VaultEnabled bool

	CostHardLimitUSD     float64
	CostWarnThresholdUSD float64

	ProviderTimeoutSecs int

	// Security & hardening.
	AdminToken       string   // required for /admin/v1 access in production
	APIKeyAuth       bool     // require Bearer API keys on /v1
	CORSOrigins      []string // allowed CORS origins; empty = ["*"]
	RateLimitRPS     int      // requests per second per caller
	RateLimitBurst   int      // burst capacity per caller

	// Tracing.
	OTelEnabled  bool
	OTelEndpoint string

	// Temporal workflow engine.
	TemporalEnabled   bool
	TemporalHostPort  string
	TemporalNamespace string
	TemporalTaskQueue string

	// File-based panel/provider configuration.
	File FileConfig
}

// FileConfig is the YAML section: which providers to register, their model
// catalogs, and the deliberation parameters.
type FileConfig struct {
	Providers []ProviderConfig `yaml:"providers"`
	Consensus consensus.Config `yaml:"consensus"`
}

// ProviderConfig declares one provider adapter.
type ProviderConfig struct {
	ID        string        `yaml:"id"`
	Type      string        `yaml:"type"` // anthropic, openai, vllm
	Enabled   *bool         `yaml:"enabled"`
	APIKeyEnv string        `yaml:"api_key_env"` // env var holding the key; vault fallback "provider:<id>:api_key"
	BaseURL   string        `yaml:"base_url"`
	Models    []ModelConfig `yaml:"models"`
}

// ModelConfig pins one model's catalog entry.
type ModelConfig struct {
	ID                string  `yaml:"id"`
	DisplayName       string  `yaml:"display_name"`
	ContextWindow     int     `yaml:"context_window"`
	MaxOutputTokens   int     `yaml:"max_output_tokens"`
	InputCostPerMTok  float64 `yaml:"input_cost_per_mtok"`
	OutputCostPerMTok float64 `yaml:"output_cost_per_mtok"`
	ProposerEligible  *bool   `yaml:"proposer_eligible"`
	SupportsTools     bool    `yaml:"supports_tools"`
	SupportsJSON      bool    `yaml:"supports_json"`
	SupportsStreaming bool    `yaml:"supports_streaming"`
}

func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

func (m ModelConfig) IsProposerEligible() bool {
	return m.ProposerEligible == nil || *m.ProposerEligible
}

func LoadConfig() (Config, error) {
	cfg := Config{
		ListenAddr:   getEnv("QUORUM_LISTEN_ADDR", ":8080"),
		LogLevel:     getEnv("QUORUM_LOG_LEVEL", "info"),
		DBDSN:        getEnv("QUORUM_DB_DSN", "file:/data/quorum.sqlite"),
		VaultEnabled: getEnvBool("QUORUM_VAULT_ENABLED", true),

		CostHardLimitUSD:     getEnvFloat("QUORUM_COST_HARD_LIMIT_USD", 10.00),
		CostWarnThresholdUSD: getEnvFloat("QUORUM_COST_WARN_THRESHOLD_USD", 1.00),

		ProviderTimeoutSecs: getEnvInt("QUORUM_PROVIDER_TIMEOUT_SECS", 60),

		AdminToken:     getEnv("QUORUM_ADMIN_TOKEN", ""),
		APIKeyAuth:     getEnvBool("QUORUM_API_KEY_AUTH", false),
		CORSOrigins:    getEnvStringSlice("QUORUM_CORS_ORIGINS", nil),
		RateLimitRPS:   getEnvInt("QUORUM_RATE_LIMIT_RPS", 60),
		RateLimitBurst: getEnvInt("QUORUM_RATE_LIMIT_BURST", 120),

		OTelEnabled:  getEnvBool("QUORUM_OTEL_ENABLED", false),
		OTelEndpoint: getEnv("QUORUM_OTEL_ENDPOINT", "localhost:4318"),

		TemporalEnabled:   getEnvBool("QUORUM_TEMPORAL_ENABLED", false),
		TemporalHostPort:  getEnv("QUORUM_TEMPORAL_HOST", "localhost:7233"),
		TemporalNamespace: getEnv("QUORUM_TEMPORAL_NAMESPACE", "quorum"),
		TemporalTaskQueue: getEnv("QUORUM_TEMPORAL_TASK_QUEUE", "quorum-tasks"),

		File: FileConfig{Consensus: consensus.DefaultConfig()},
	}

	if path := os.Getenv("QUORUM_CONFIG_FILE"); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg.File = fc
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFileConfig(path string) (FileConfig, error) {
	fc := FileConfig{Consensus: consensus.DefaultConfig()}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return FileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	seen := make(map[string]bool)
	for _, p := range fc.Providers {
		if p.ID == "" {
			return FileConfig{}, fmt.Errorf("config file %s: provider with empty id", path)
		}
		if seen[p.ID] {
			return FileConfig{}, fmt.Errorf("config file %s: duplicate provider id %q", path, p.ID)
		}
		seen[p.ID] = true
	}
	return fc, nil
}

// Validate checks config values for obviously invalid settings.
func (c Config) Validate() error {
	if c.RateLimitRPS <= 0 {
		return fmt.Errorf("QUORUM_RATE_LIMIT_RPS must be > 0, got %d", c.RateLimitRPS)
	}
	if c.RateLimitBurst <= 0 {
		return fmt.Errorf("QUORUM_RATE_LIMIT_BURST must be > 0, got %d", c.RateLimitBurst)
	}
	if c.ProviderTimeoutSecs <= 0 {
		return fmt.Errorf("QUORUM_PROVIDER_TIMEOUT_SECS must be > 0, got %d", c.ProviderTimeoutSecs)
	}
	if c.CostHardLimitUSD < 0 {
		return fmt.Errorf("QUORUM_COST_HARD_LIMIT_USD must be >= 0, got %f", c.CostHardLimitUSD)
	}
	if c.CostWarnThresholdUSD < 0 {
		return fmt.Errorf("QUORUM_COST_WARN_THRESHOLD_USD must be >= 0, got %f", c.CostWarnThresholdUSD)
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err == nil {
			return f
		}
	}
	return def
}

func getEnvStringSlice(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		var result []string
		for _, s := range strings.Split(v, ",") {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return def
}
