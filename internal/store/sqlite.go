package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Enable WAL mode and set busy timeout.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			thread_id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			protocol TEXT NOT NULL DEFAULT 'consensus',
			state TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			rigor REAL NOT NULL DEFAULT 0,
			dissent TEXT NOT NULL DEFAULT '',
			converged INTEGER NOT NULL DEFAULT 0,
			rounds INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_created ON sessions(created_at)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			round_number INTEGER NOT NULL,
			proposer_model TEXT NOT NULL DEFAULT '',
			proposal TEXT NOT NULL DEFAULT '',
			challenges TEXT NOT NULL DEFAULT '[]',
			revision TEXT NOT NULL DEFAULT '',
			decision TEXT NOT NULL DEFAULT '',
			confidence REAL NOT NULL DEFAULT 0,
			rigor REAL NOT NULL DEFAULT 0,
			dissent TEXT NOT NULL DEFAULT '',
			UNIQUE(thread_id, round_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rounds_thread ON rounds(thread_id)`,
		`CREATE TABLE IF NOT EXISTS usage_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			thread_id TEXT NOT NULL DEFAULT '',
			provider_id TEXT NOT NULL,
			model_id TEXT NOT NULL,
			phase TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms INTEGER NOT NULL DEFAULT 0,
			error_class TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_timestamp ON usage_logs(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_logs_thread ON usage_logs(thread_id)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE TABLE IF NOT EXISTS audit_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			action TEXT NOT NULL,
			resource TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			request_id TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp)`,
		`CREATE TABLE IF NOT EXISTS api_keys (
			id TEXT PRIMARY KEY,
			key_hash TEXT NOT NULL,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL,
			scopes TEXT NOT NULL DEFAULT '["consensus","vote"]',
			created_at TEXT NOT NULL,
			last_used_at TEXT,
			expires_at TEXT,
			rotation_days INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 1,
			budget_usd REAL NOT NULL DEFAULT 0,
			spent_usd REAL NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_api_keys_prefix ON api_keys(key_prefix)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Sessions

func (s *SQLiteStore) SaveSession(ctx context.Context, rec SessionRecord) error {
	now := time.Now().UTC().Format(time.RFC3339)
	createdAt := now
	if !rec.CreatedAt.IsZero() {
		createdAt = rec.CreatedAt.UTC().Format(time.RFC3339)
	}
	convergedInt := 0
	if rec.Converged {
		convergedInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (thread_id, question, protocol, state, decision, confidence, rigor,
		   dissent, converged, rounds, cost_usd, latency_ms, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET
		   state=excluded.state,
		   decision=excluded.decision,
		   confidence=excluded.confidence,
		   rigor=excluded.rigor,
		   dissent=excluded.dissent,
		   converged=excluded.converged,
		   rounds=excluded.rounds,
		   cost_usd=excluded.cost_usd,
		   latency_ms=excluded.latency_ms,
		   error=excluded.error,
		   updated_at=excluded.updated_at`,
		rec.ThreadID, rec.Question, rec.Protocol, rec.State, rec.Decision, rec.Confidence, rec.Rigor,
		rec.Dissent, convergedInt, rec.Rounds, rec.CostUSD, rec.LatencyMs, rec.ErrorMsg, createdAt, now)
	return err
}

func (s *SQLiteStore) GetSession(ctx context.Context, threadID string) (*SessionRecord, error) {
	var rec SessionRecord
	var convergedInt int
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT thread_id, question, protocol, state, decision, confidence, rigor,
		   dissent, converged, rounds, cost_usd, latency_ms, error, created_at, updated_at
		 FROM sessions WHERE thread_id = ?`, threadID).
		Scan(&rec.ThreadID, &rec.Question, &rec.Protocol, &rec.State, &rec.Decision, &rec.Confidence,
			&rec.Rigor, &rec.Dissent, &convergedInt, &rec.Rounds, &rec.CostUSD, &rec.LatencyMs,
			&rec.ErrorMsg, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec.Converged = convergedInt != 0
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int, offset int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, question, protocol, state, decision, confidence, rigor,
		   dissent, converged, rounds, cost_usd, latency_ms, error, created_at, updated_at
		 FROM sessions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		var convergedInt int
		var createdAt, updatedAt string
		if err := rows.Scan(&rec.ThreadID, &rec.Question, &rec.Protocol, &rec.State, &rec.Decision,
			&rec.Confidence, &rec.Rigor, &rec.Dissent, &convergedInt, &rec.Rounds, &rec.CostUSD,
			&rec.LatencyMs, &rec.ErrorMsg, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		rec.Converged = convergedInt != 0
		rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Rounds

func (s *SQLiteStore) SaveRound(ctx context.Context, r RoundRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rounds (thread_id, round_number, proposer_model, proposal, challenges,
		   revision, decision, confidence, rigor, dissent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(thread_id, round_number) DO UPDATE SET
		   proposer_model=excluded.proposer_model,
		   proposal=excluded.proposal,
		   challenges=excluded.challenges,
		   revision=excluded.revision,
		   decision=excluded.decision,
		   confidence=excluded.confidence,
		   rigor=excluded.rigor,
		   dissent=excluded.dissent`,
		r.ThreadID, r.RoundNumber, r.ProposerModel, r.Proposal, r.Challenges,
		r.Revision, r.Decision, r.Confidence, r.Rigor, r.Dissent)
	return err
}

func (s *SQLiteStore) ListRounds(ctx context.Context, threadID string) ([]RoundRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, round_number, proposer_model, proposal, challenges,
		   revision, decision, confidence, rigor, dissent
		 FROM rounds WHERE thread_id = ? ORDER BY round_number ASC`, threadID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var recs []RoundRecord
	for rows.Next() {
		var r RoundRecord
		if err := rows.Scan(&r.ID, &r.ThreadID, &r.RoundNumber, &r.ProposerModel, &r.Proposal,
			&r.Challenges, &r.Revision, &r.Decision, &r.Confidence, &r.Rigor, &r.Dissent); err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// Usage Logs

func (s *SQLiteStore) LogUsage(ctx context.Context, entry UsageLog) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_logs (timestamp, thread_id, provider_id, model_id, phase,
		   input_tokens, output_tokens, cost_usd, latency_ms, error_class)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.ThreadID, entry.ProviderID, entry.ModelID, entry.Phase,
		entry.InputTokens, entry.OutputTokens, entry.CostUSD, entry.LatencyMs, entry.ErrorClass)
	return err
}

func (s *SQLiteStore) ListUsageLogs(ctx context.Context, limit int, offset int) ([]UsageLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, thread_id, provider_id, model_id, phase,
		   input_tokens, output_tokens, cost_usd, latency_ms, error_class
		 FROM usage_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []UsageLog
	for rows.Next() {
		var l UsageLog
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.ThreadID, &l.ProviderID, &l.ModelID, &l.Phase,
			&l.InputTokens, &l.OutputTokens, &l.CostUSD, &l.LatencyMs, &l.ErrorClass); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// Vault persistence

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal vault data: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return err
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, fmt.Errorf("unmarshal vault data: %w", err)
	}
	return salt, data, nil
}

// Audit Logs

func (s *SQLiteStore) LogAudit(ctx context.Context, entry AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (timestamp, action, resource, detail, request_id)
		 VALUES (?, ?, ?, ?, ?)`,
		entry.Timestamp, entry.Action, entry.Resource, entry.Detail, entry.RequestID)
	return err
}

func (s *SQLiteStore) ListAuditLogs(ctx context.Context, limit int, offset int) ([]AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, action, resource, detail, request_id
		 FROM audit_logs ORDER BY timestamp DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var logs []AuditEntry
	for rows.Next() {
		var l AuditEntry
		var ts string
		if err := rows.Scan(&l.ID, &ts, &l.Action, &l.Resource, &l.Detail, &l.RequestID); err != nil {
			return nil, err
		}
		l.Timestamp, _ = time.Parse(time.RFC3339, ts)
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// API Keys

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed, expires *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	if key.ExpiresAt != nil {
		t := key.ExpiresAt.UTC().Format(time.RFC3339)
		expires = &t
	}
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_keys (id, key_hash, key_prefix, name, scopes, created_at, last_used_at,
		   expires_at, rotation_days, enabled, budget_usd, spent_usd)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		key.ID, key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		key.CreatedAt.UTC().Format(time.RFC3339), lastUsed, expires,
		key.RotationDays, enabledInt, key.BudgetUSD, key.SpentUSD)
	return err
}

func (s *SQLiteStore) GetAPIKey(ctx context.Context, id string) (*APIKeyRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at,
		   rotation_days, enabled, budget_usd, spent_usd
		 FROM api_keys WHERE id = ?`, id)
	k, err := scanAPIKey(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return k, nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]APIKeyRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, key_hash, key_prefix, name, scopes, created_at, last_used_at, expires_at,
		   rotation_days, enabled, budget_usd, spent_usd
		 FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []APIKeyRecord
	for rows.Next() {
		k, err := scanAPIKey(rows.Scan)
		if err != nil {
			return nil, err
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

func scanAPIKey(scan func(dest ...any) error) (*APIKeyRecord, error) {
	var k APIKeyRecord
	var createdAt string
	var lastUsed, expires sql.NullString
	var enabledInt int
	if err := scan(&k.ID, &k.KeyHash, &k.KeyPrefix, &k.Name, &k.Scopes,
		&createdAt, &lastUsed, &expires, &k.RotationDays, &enabledInt,
		&k.BudgetUSD, &k.SpentUSD); err != nil {
		return nil, err
	}
	k.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if lastUsed.Valid {
		t, _ := time.Parse(time.RFC3339, lastUsed.String)
		k.LastUsedAt = &t
	}
	if expires.Valid {
		t, _ := time.Parse(time.RFC3339, expires.String)
		k.ExpiresAt = &t
	}
	k.Enabled = enabledInt != 0
	return &k, nil
}

func (s *SQLiteStore) UpdateAPIKey(ctx context.Context, key APIKeyRecord) error {
	var lastUsed, expires *string
	if key.LastUsedAt != nil {
		t := key.LastUsedAt.UTC().Format(time.RFC3339)
		lastUsed = &t
	}
	if key.ExpiresAt != nil {
		t := key.ExpiresAt.UTC().Format(time.RFC3339)
		expires = &t
	}
	enabledInt := 0
	if key.Enabled {
		enabledInt = 1
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET key_hash=?, key_prefix=?, name=?, scopes=?, last_used_at=?,
		   expires_at=?, rotation_days=?, enabled=?, budget_usd=?, spent_usd=?
		 WHERE id=?`,
		key.KeyHash, key.KeyPrefix, key.Name, key.Scopes,
		lastUsed, expires, key.RotationDays, enabledInt, key.BudgetUSD, key.SpentUSD, key.ID)
	return err
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	return err
}
