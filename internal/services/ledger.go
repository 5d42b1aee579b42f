package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
	"github.com/bolotov-775-hue/finance-bot/internal/storage"
)

// LedgerService orchestrates ledger writes and the daily limit recompute
// that follows them.
type LedgerService struct {
	store storage.Store
}

func NewLedgerService(store storage.Store) *LedgerService {
	return &LedgerService{store: store}
}

// RecordTransaction appends a ledger entry and recomputes the cached daily
// limit. The ledger write is durable on its own: a failed recompute is
// logged and does not roll it back.
func (s *LedgerService) RecordTransaction(ctx context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error) {
	if err := s.store.CreateUser(ctx, userID); err != nil {
		return core.Transaction{}, fmt.Errorf("ensure user: %w", err)
	}

	tx, err := s.store.RecordTransaction(ctx, userID, kind, amount, category, subcategory)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("record transaction: %w", err)
	}

	s.recomputeLimit(ctx, userID)

	return tx, nil
}

// SetGoal stores a new goal, overwriting any prior one, and recomputes the
// cached daily limit.
func (s *LedgerService) SetGoal(ctx context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error {
	if !amount.IsPositive() {
		return core.ErrInvalidAmount
	}
	if deadline.IsZero() {
		return core.ErrInvalidDeadline
	}

	if err := s.store.CreateUser(ctx, userID); err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	if err := s.store.SetGoal(ctx, userID, amount, deadline); err != nil {
		return fmt.Errorf("set goal: %w", err)
	}

	s.recomputeLimit(ctx, userID)

	return nil
}

// ClearGoal resets the goal amount and deadline. The cached limit is
// zeroed by the store in the same statement.
func (s *LedgerService) ClearGoal(ctx context.Context, userID int64) error {
	if err := s.store.ClearGoal(ctx, userID); err != nil {
		return fmt.Errorf("clear goal: %w", err)
	}
	return nil
}

// ComputeDailyLimit reads the goal and ledger aggregates and derives the
// tagged limit result for the current moment.
func (s *LedgerService) ComputeDailyLimit(ctx context.Context, userID int64) (LimitResult, error) {
	goal, err := s.store.Goal(ctx, userID)
	if err != nil {
		return LimitResult{}, fmt.Errorf("load goal: %w", err)
	}

	balance, err := s.store.Balance(ctx, userID)
	if err != nil {
		return LimitResult{}, fmt.Errorf("load balance: %w", err)
	}

	spentToday, err := s.store.SumExpenseToday(ctx, userID)
	if err != nil {
		return LimitResult{}, fmt.Errorf("load today expenses: %w", err)
	}

	return ComputeDailyLimit(goal, balance, spentToday, time.Now()), nil
}

// recomputeLimit refreshes users.daily_limit_cache. Best effort: failures
// are logged, never propagated, so the preceding ledger write stands.
func (s *LedgerService) recomputeLimit(ctx context.Context, userID int64) {
	result, err := s.ComputeDailyLimit(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Daily limit recompute failed",
			"user_id", userID, "error", err)
		return
	}

	cached := decimal.Zero
	if result.Status == LimitOK {
		cached = result.DailyLimit
	}

	if err := s.store.SetDailyLimitCache(ctx, userID, cached); err != nil {
		slog.WarnContext(ctx, "Daily limit cache write failed",
			"user_id", userID, "error", err)
		return
	}

	slog.DebugContext(ctx, "Daily limit recomputed",
		"user_id", userID,
		"status", result.Status,
		"daily_limit", cached.String())
}
