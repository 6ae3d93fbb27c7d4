package store

import (
	"context"
	"time"
)

// Store defines the persistence interface for quorum.
type Store interface {
	// Sessions (one row per consensus/voting/decompose run)
	SaveSession(ctx context.Context, s SessionRecord) error
	GetSession(ctx context.Context, threadID string) (*SessionRecord, error)
	ListSessions(ctx context.Context, limit int, offset int) ([]SessionRecord, error)

	// Rounds (one row per archived deliberation round)
	SaveRound(ctx context.Context, r RoundRecord) error
	ListRounds(ctx context.Context, threadID string) ([]RoundRecord, error)

	// Usage log (per model call, for audit and dashboard)
	LogUsage(ctx context.Context, entry UsageLog) error
	ListUsageLogs(ctx context.Context, limit int, offset int) ([]UsageLog, error)

	// Vault persistence
	SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error
	LoadVaultBlob(ctx context.Context) (salt []byte, data map[string]string, err error)

	// Audit logging
	LogAudit(ctx context.Context, entry AuditEntry) error
	ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error)

	// API keys
	CreateAPIKey(ctx context.Context, key APIKeyRecord) error
	GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error)
	ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error)
	UpdateAPIKey(ctx context.Context, key APIKeyRecord) error
	DeleteAPIKey(ctx context.Context, id string) error

	// Schema lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// SessionRecord is the persisted summary of a deliberation session.
type SessionRecord struct {
	ThreadID   string    `json:"thread_id"`
	Question   string    `json:"question"`
	Protocol   string    `json:"protocol"` // consensus, voting, decompose
	State      string    `json:"state"`    // COMPLETE, FAILED, or an in-flight state
	Decision   string    `json:"decision,omitempty"`
	Confidence float64   `json:"confidence"`
	Rigor      float64   `json:"rigor"`
	Dissent    string    `json:"dissent,omitempty"`
	Converged  bool      `json:"converged"`
	Rounds     int       `json:"rounds"`
	CostUSD    float64   `json:"cost_usd"`
	LatencyMs  int64     `json:"latency_ms"`
	ErrorMsg   string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RoundRecord is one archived round of a session. Challenges is the JSON
// encoding of the round's challenge results, including sycophancy flags.
type RoundRecord struct {
	ID            int64   `json:"id"`
	ThreadID      string  `json:"thread_id"`
	RoundNumber   int     `json:"round_number"`
	ProposerModel string  `json:"proposer_model"`
	Proposal      string  `json:"proposal"`
	Challenges    string  `json:"challenges"`
	Revision      string  `json:"revision"`
	Decision      string  `json:"decision"`
	Confidence    float64 `json:"confidence"`
	Rigor         float64 `json:"rigor"`
	Dissent       string  `json:"dissent,omitempty"`
}

// UsageLog captures a single model call for audit/dashboard.
type UsageLog struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	ThreadID     string    `json:"thread_id,omitempty"`
	ProviderID   string    `json:"provider_id"`
	ModelID      string    `json:"model_id"`
	Phase        string    `json:"phase,omitempty"` // propose, challenge, revise, vote, ...
	InputTokens  int64     `json:"input_tokens"`
	OutputTokens int64     `json:"output_tokens"`
	CostUSD      float64   `json:"cost_usd"`
	LatencyMs    int64     `json:"latency_ms"`
	ErrorClass   string    `json:"error_class,omitempty"`
}

// AuditEntry captures an admin mutation for audit trail.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`               // e.g. "apikey.create", "cost.reset", "vault.unlock"
	Resource  string    `json:"resource"`             // e.g. key ID, provider ID
	Detail    string    `json:"detail,omitempty"`     // optional JSON with change details
	RequestID string    `json:"request_id,omitempty"` // correlates to HTTP request ID
}

// APIKeyRecord is the persisted form of an API key. KeyHash is a bcrypt hash;
// the plaintext key is never stored.
type APIKeyRecord struct {
	ID           string     `json:"id"`
	KeyHash      string     `json:"-"`
	KeyPrefix    string     `json:"key_prefix"`
	Name         string     `json:"name"`
	Scopes       string     `json:"scopes"` // JSON array, e.g. ["consensus","vote"]
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
	RotationDays int        `json:"rotation_days"`
	Enabled      bool       `json:"enabled"`
	BudgetUSD    float64    `json:"budget_usd"` // 0 = unlimited
	SpentUSD     float64    `json:"spent_usd"`
}
