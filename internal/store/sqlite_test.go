package store

import (
	"context"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate(t *testing.T) {
	s := newTestStore(t)
	// Running migrate twice should be idempotent.
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate failed: %v", err)
	}
}

func TestSessionsUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := SessionRecord{
		ThreadID: "thread-1",
		Question: "Should we use PostgreSQL?",
		Protocol: "consensus",
		State:    "PROPOSE",
	}
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := s.GetSession(ctx, "thread-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.State != "PROPOSE" {
		t.Errorf("state = %q, want PROPOSE", got.State)
	}
	created := got.CreatedAt

	// Update in place: same thread, final state.
	rec.State = "COMPLETE"
	rec.Decision = "Yes, with pgbouncer."
	rec.Confidence = 0.85
	rec.Converged = true
	rec.Rounds = 2
	rec.CostUSD = 0.042
	if err := s.SaveSession(ctx, rec); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, _ = s.GetSession(ctx, "thread-1")
	if got.State != "COMPLETE" || !got.Converged || got.Rounds != 2 {
		t.Errorf("unexpected record after update: %+v", got)
	}
	if got.Confidence != 0.85 {
		t.Errorf("confidence = %v, want 0.85", got.Confidence)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("created_at changed on update: %v -> %v", created, got.CreatedAt)
	}

	all, err := s.ListSessions(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 {
		t.Errorf("expected 1 session, got %d", len(all))
	}
}

func TestGetSessionNotFound(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSession(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent session")
	}
}

func TestRoundsOrderedByNumber(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, n := range []int{2, 1} {
		r := RoundRecord{
			ThreadID:    "thread-1",
			RoundNumber: n,
			Proposal:    "proposal",
			Challenges:  `[{"model_ref":"anthropic:claude-sonnet-4-5","sycophantic":false}]`,
			Decision:    "decision",
			Confidence:  0.8,
		}
		if err := s.SaveRound(ctx, r); err != nil {
			t.Fatalf("save round %d failed: %v", n, err)
		}
	}

	rounds, err := s.ListRounds(ctx, "thread-1")
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rounds) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(rounds))
	}
	if rounds[0].RoundNumber != 1 || rounds[1].RoundNumber != 2 {
		t.Errorf("rounds out of order: %d, %d", rounds[0].RoundNumber, rounds[1].RoundNumber)
	}

	// Re-saving a round replaces it rather than duplicating.
	if err := s.SaveRound(ctx, RoundRecord{ThreadID: "thread-1", RoundNumber: 1, Decision: "revised"}); err != nil {
		t.Fatalf("re-save failed: %v", err)
	}
	rounds, _ = s.ListRounds(ctx, "thread-1")
	if len(rounds) != 2 {
		t.Errorf("expected 2 rounds after re-save, got %d", len(rounds))
	}
	if rounds[0].Decision != "revised" {
		t.Errorf("decision = %q, want revised", rounds[0].Decision)
	}
}

func TestUsageLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := UsageLog{
		Timestamp:    time.Now().UTC(),
		ThreadID:     "thread-1",
		ProviderID:   "anthropic",
		ModelID:      "claude-sonnet-4-5",
		Phase:        "propose",
		InputTokens:  1000,
		OutputTokens: 500,
		CostUSD:      0.0105,
		LatencyMs:    812,
	}
	if err := s.LogUsage(ctx, entry); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	logs, err := s.ListUsageLogs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].CostUSD != 0.0105 || logs[0].Phase != "propose" {
		t.Errorf("unexpected log: %+v", logs[0])
	}
}

func TestVaultBlobRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Empty DB loads as nil without error.
	salt, data, err := s.LoadVaultBlob(ctx)
	if err != nil {
		t.Fatalf("load empty failed: %v", err)
	}
	if salt != nil || data != nil {
		t.Error("expected nil salt/data on empty vault")
	}

	want := map[string]string{"anthropic": "encrypted-blob"}
	if err := s.SaveVaultBlob(ctx, []byte("salt1234"), want); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	salt, data, err = s.LoadVaultBlob(ctx)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if string(salt) != "salt1234" {
		t.Errorf("salt = %q", salt)
	}
	if data["anthropic"] != "encrypted-blob" {
		t.Errorf("data = %v", data)
	}

	// Overwrite keeps a single row.
	if err := s.SaveVaultBlob(ctx, []byte("salt5678"), map[string]string{}); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	salt, _, _ = s.LoadVaultBlob(ctx)
	if string(salt) != "salt5678" {
		t.Errorf("salt after overwrite = %q", salt)
	}
}

func TestAuditLogs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	entry := AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    "apikey.create",
		Resource:  "abc123",
		RequestID: "req-1",
	}
	if err := s.LogAudit(ctx, entry); err != nil {
		t.Fatalf("log failed: %v", err)
	}

	logs, err := s.ListAuditLogs(ctx, 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(logs) != 1 || logs[0].Action != "apikey.create" {
		t.Errorf("unexpected logs: %+v", logs)
	}
}

func TestAPIKeysCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	k := APIKeyRecord{
		ID:        "key1",
		KeyHash:   "$2a$10$hash",
		KeyPrefix: "quorum_abcd1234",
		Name:      "ci",
		Scopes:    `["consensus"]`,
		CreatedAt: time.Now().UTC(),
		Enabled:   true,
		BudgetUSD: 5.0,
	}
	if err := s.CreateAPIKey(ctx, k); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	got, err := s.GetAPIKey(ctx, "key1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.KeyPrefix != "quorum_abcd1234" || got.BudgetUSD != 5.0 {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.LastUsedAt != nil {
		t.Error("expected nil last_used_at on fresh key")
	}

	now := time.Now().UTC().Truncate(time.Second)
	got.LastUsedAt = &now
	got.SpentUSD = 1.25
	got.Enabled = false
	if err := s.UpdateAPIKey(ctx, *got); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, "key1")
	if got.Enabled || got.SpentUSD != 1.25 {
		t.Errorf("unexpected record after update: %+v", got)
	}
	if got.LastUsedAt == nil || !got.LastUsedAt.Equal(now) {
		t.Errorf("last_used_at = %v, want %v", got.LastUsedAt, now)
	}

	keys, err := s.ListAPIKeys(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(keys) != 1 {
		t.Errorf("expected 1 key, got %d", len(keys))
	}

	if err := s.DeleteAPIKey(ctx, "key1"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	got, _ = s.GetAPIKey(ctx, "key1")
	if got != nil {
		t.Error("expected nil after delete")
	}
}
