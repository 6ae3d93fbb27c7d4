package app

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigDefaults(t *testing.T) {
	envVars := []string{
		"QUORUM_LISTEN_ADDR",
		"QUORUM_LOG_LEVEL",
		"QUORUM_DB_DSN",
		"QUORUM_VAULT_ENABLED",
		"QUORUM_COST_HARD_LIMIT_USD",
		"QUORUM_COST_WARN_THRESHOLD_USD",
		"QUORUM_PROVIDER_TIMEOUT_SECS",
		"QUORUM_CONFIG_FILE",
	}
	for _, key := range envVars {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want %q", cfg.ListenAddr, ":8080")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.DBDSN != "file:/data/quorum.sqlite" {
		t.Errorf("DBDSN = %q", cfg.DBDSN)
	}
	if !cfg.VaultEnabled {
		t.Error("VaultEnabled = false, want true")
	}
	if cfg.CostHardLimitUSD != 10.00 {
		t.Errorf("CostHardLimitUSD = %f, want 10.00", cfg.CostHardLimitUSD)
	}
	if cfg.CostWarnThresholdUSD != 1.00 {
		t.Errorf("CostWarnThresholdUSD = %f, want 1.00", cfg.CostWarnThresholdUSD)
	}
	if cfg.ProviderTimeoutSecs != 60 {
		t.Errorf("ProviderTimeoutSecs = %d, want 60", cfg.ProviderTimeoutSecs)
	}
	if cfg.File.Consensus.MaxRounds != 3 {
		t.Errorf("default MaxRounds = %d, want 3", cfg.File.Consensus.MaxRounds)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("QUORUM_LISTEN_ADDR", ":9090")
	t.Setenv("QUORUM_LOG_LEVEL", "debug")
	t.Setenv("QUORUM_DB_DSN", "file::memory:")
	t.Setenv("QUORUM_VAULT_ENABLED", "false")
	t.Setenv("QUORUM_COST_HARD_LIMIT_USD", "1.5")
	t.Setenv("QUORUM_PROVIDER_TIMEOUT_SECS", "30")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.VaultEnabled {
		t.Error("VaultEnabled = true, want false")
	}
	if cfg.CostHardLimitUSD != 1.5 {
		t.Errorf("CostHardLimitUSD = %f, want 1.5", cfg.CostHardLimitUSD)
	}
	if cfg.ProviderTimeoutSecs != 30 {
		t.Errorf("ProviderTimeoutSecs = %d, want 30", cfg.ProviderTimeoutSecs)
	}
}

func TestLoadConfigInvalidEnvFallsBackToDefaults(t *testing.T) {
	t.Setenv("QUORUM_VAULT_ENABLED", "notabool")
	t.Setenv("QUORUM_COST_HARD_LIMIT_USD", "notafloat")
	t.Setenv("QUORUM_PROVIDER_TIMEOUT_SECS", "notanint")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}

	if !cfg.VaultEnabled {
		t.Error("VaultEnabled = false, want true (default on invalid input)")
	}
	if cfg.CostHardLimitUSD != 10.00 {
		t.Errorf("CostHardLimitUSD = %f, want 10.00 (default on invalid input)", cfg.CostHardLimitUSD)
	}
	if cfg.ProviderTimeoutSecs != 60 {
		t.Errorf("ProviderTimeoutSecs = %d, want 60 (default on invalid input)", cfg.ProviderTimeoutSecs)
	}
}

func TestLoadConfigFile(t *testing.T) {
	yaml := `
providers:
  - id: anthropic
    type: anthropic
    api_key_env: QUORUM_TEST_ANTHROPIC_KEY
    base_url: https://api.anthropic.com
    models:
      - id: claude-sonnet-4-5
        input_cost_per_mtok: 3
        output_cost_per_mtok: 15
  - id: local
    type: vllm
    base_url: http://localhost:8000
consensus:
  max_rounds: 5
  panel: ["anthropic:claude-sonnet-4-5", "local:qwen"]
`
	path := filepath.Join(t.TempDir(), "quorum.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUORUM_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if len(cfg.File.Providers) != 2 {
		t.Fatalf("providers = %d, want 2", len(cfg.File.Providers))
	}
	if cfg.File.Providers[0].APIKeyEnv != "QUORUM_TEST_ANTHROPIC_KEY" {
		t.Errorf("api_key_env = %q", cfg.File.Providers[0].APIKeyEnv)
	}
	if cfg.File.Consensus.MaxRounds != 5 {
		t.Errorf("MaxRounds = %d, want 5", cfg.File.Consensus.MaxRounds)
	}
	if len(cfg.File.Consensus.Panel) != 2 {
		t.Errorf("Panel = %v", cfg.File.Consensus.Panel)
	}
}

func TestLoadConfigFileDuplicateProvider(t *testing.T) {
	yaml := `
providers:
  - id: a
    type: openai
  - id: a
    type: vllm
`
	path := filepath.Join(t.TempDir(), "quorum.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("QUORUM_CONFIG_FILE", path)

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected duplicate provider error")
	}
}

func newTestConfig() Config {
	cfg := Config{
		ListenAddr:          ":0",
		LogLevel:            "error",
		DBDSN:               ":memory:",
		VaultEnabled:        false,
		ProviderTimeoutSecs: 30,
		RateLimitRPS:        60,
		RateLimitBurst:      120,
	}
	cfg.File = FileConfig{}
	return cfg
}

func TestNewServer(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	if srv.Router() == nil {
		t.Fatal("expected non-nil Router()")
	}
}

func TestServerHealthzWithoutProviders(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Router().ServeHTTP(w, req)

	// No providers registered, so the service reports unhealthy.
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", w.Code)
	}
}

func TestServerClose(t *testing.T) {
	srv, err := NewServer(newTestConfig())
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	if err := srv.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
}

func TestServerReload(t *testing.T) {
	cfg := newTestConfig()
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer() error: %v", err)
	}
	defer func() { _ = srv.Close() }()

	newCfg := cfg
	newCfg.LogLevel = "debug"
	newCfg.RateLimitRPS = 100
	srv.Reload(newCfg)

	if srv.cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", srv.cfg.LogLevel)
	}
	if srv.cfg.RateLimitRPS != 100 {
		t.Errorf("RateLimitRPS = %d, want 100", srv.cfg.RateLimitRPS)
	}
}
