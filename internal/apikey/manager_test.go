package apikey

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jordanhubbard/quorum/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return NewManager(s), s
}

func TestGenerate(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	plaintext, rec, err := mgr.Generate(ctx, "test-key", `["consensus","vote"]`, 5.0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	if !strings.HasPrefix(plaintext, "quorum_") {
		t.Errorf("expected quorum_ prefix, got %s", plaintext[:8])
	}

	// Key should be 7 (prefix) + 64 (32 hex bytes) = 71 chars.
	if len(plaintext) != 71 {
		t.Errorf("expected key length 71, got %d", len(plaintext))
	}

	if rec.Name != "test-key" {
		t.Errorf("expected name test-key, got %s", rec.Name)
	}
	if rec.BudgetUSD != 5.0 {
		t.Errorf("expected budget 5.0, got %v", rec.BudgetUSD)
	}
	if !rec.Enabled {
		t.Error("expected enabled")
	}
	if rec.KeyPrefix != plaintext[:15] { // quorum_ (7) + 8 chars
		t.Errorf("expected prefix %s, got %s", plaintext[:15], rec.KeyPrefix)
	}
}

func TestValidate(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	plaintext, _, err := mgr.Generate(ctx, "test-key", `["consensus"]`, 0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	rec, err := mgr.Validate(ctx, plaintext)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if rec.Name != "test-key" {
		t.Errorf("expected name test-key, got %s", rec.Name)
	}

	if _, err = mgr.Validate(ctx, "quorum_invalid"); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestValidateExpiredKey(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	expired := time.Now().Add(-1 * time.Hour)
	plaintext, _, err := mgr.Generate(ctx, "expired-key", `["consensus"]`, 0, &expired)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	_, err = mgr.Validate(ctx, plaintext)
	if err == nil {
		t.Fatal("expected error for expired key")
	}
	if err.Error() != "api key expired" {
		t.Errorf("expected 'api key expired', got %s", err.Error())
	}
}

func TestValidateDisabledKey(t *testing.T) {
	mgr, s := newTestManager(t)
	ctx := context.Background()

	plaintext, rec, err := mgr.Generate(ctx, "disabled-key", `["consensus"]`, 0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	rec.Enabled = false
	if err := s.UpdateAPIKey(ctx, *rec); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	mgr.InvalidateCache(rec.ID)

	if _, err = mgr.Validate(ctx, plaintext); err == nil {
		t.Error("expected error for disabled key")
	}
}

func TestRotate(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	plaintext, rec, err := mgr.Generate(ctx, "rotate-key", `["consensus"]`, 0, nil)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	// Prime the cache, then rotate.
	if _, err := mgr.Validate(ctx, plaintext); err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	newKey, err := mgr.Rotate(ctx, rec.ID)
	if err != nil {
		t.Fatalf("rotate failed: %v", err)
	}
	if newKey == plaintext {
		t.Error("rotated key should differ from original")
	}

	// Old key no longer validates, new one does.
	if _, err := mgr.Validate(ctx, plaintext); err == nil {
		t.Error("expected old key to be rejected after rotation")
	}
	if _, err := mgr.Validate(ctx, newKey); err != nil {
		t.Errorf("new key failed validation: %v", err)
	}
}

func TestCheckScope(t *testing.T) {
	rec := &store.APIKeyRecord{Scopes: `["consensus"]`}
	if !CheckScope(rec, "/v1/consensus") {
		t.Error("consensus scope should allow /v1/consensus")
	}
	if !CheckScope(rec, "/v1/consensus/stream") {
		t.Error("consensus scope should allow /v1/consensus/stream")
	}
	if CheckScope(rec, "/v1/vote") {
		t.Error("consensus scope should not allow /v1/vote")
	}

	// Empty scopes allow everything.
	open := &store.APIKeyRecord{Scopes: "[]"}
	if !CheckScope(open, "/v1/vote") || !CheckScope(open, "/v1/decompose") {
		t.Error("empty scopes should allow all endpoints")
	}
}
