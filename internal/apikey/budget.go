package apikey

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jordanhubbard/quorum/internal/store"
)

// BudgetExceededError is returned when an API key has exhausted its budget.
type BudgetExceededError struct {
	BudgetUSD float64
	SpentUSD  float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("budget exceeded: budget=$%.2f, spent=$%.4f", e.BudgetUSD, e.SpentUSD)
}

// BudgetChecker validates and charges per-API-key spending limits. Spend is
// tracked on the key record itself; charges are serialized under a mutex so
// concurrent sessions do not lose updates.
type BudgetChecker struct {
	store store.Store
	mgr   *Manager

	mu sync.Mutex
}

// NewBudgetChecker creates a new BudgetChecker.
func NewBudgetChecker(s store.Store, mgr *Manager) *BudgetChecker {
	return &BudgetChecker{store: s, mgr: mgr}
}

// CheckBudget verifies whether the API key is within its spending limit.
// Returns nil if the budget is unlimited (0) or not exceeded.
func (bc *BudgetChecker) CheckBudget(ctx context.Context, rec *store.APIKeyRecord) error {
	if rec == nil || rec.BudgetUSD <= 0 {
		return nil // unlimited
	}

	// Re-read so a cached record does not hide recent charges.
	fresh, err := bc.store.GetAPIKey(ctx, rec.ID)
	if err != nil {
		return fmt.Errorf("budget check: %w", err)
	}
	if fresh == nil {
		return errors.New("api key not found")
	}

	if fresh.SpentUSD >= fresh.BudgetUSD {
		return &BudgetExceededError{
			BudgetUSD: fresh.BudgetUSD,
			SpentUSD:  fresh.SpentUSD,
		}
	}
	return nil
}

// Charge records a completed session's cost against the key and invalidates
// the manager's validation cache so subsequent checks see the new spend.
func (bc *BudgetChecker) Charge(ctx context.Context, keyID string, costUSD float64) error {
	if costUSD <= 0 {
		return nil
	}

	bc.mu.Lock()
	defer bc.mu.Unlock()

	rec, err := bc.store.GetAPIKey(ctx, keyID)
	if err != nil {
		return fmt.Errorf("charge: %w", err)
	}
	if rec == nil {
		return errors.New("api key not found")
	}

	rec.SpentUSD += costUSD
	if err := bc.store.UpdateAPIKey(ctx, *rec); err != nil {
		return fmt.Errorf("charge: %w", err)
	}

	if bc.mgr != nil {
		bc.mgr.InvalidateCache(keyID)
	}
	return nil
}
