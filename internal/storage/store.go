package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/config"
	"github.com/bolotov-775-hue/finance-bot/internal/core"
)

// deadlineLayout is the wire format for stored goal deadlines.
const deadlineLayout = "2006-01-02"

// topCategoriesLimit caps the monthly category ranking.
const topCategoriesLimit = 5

// Store is the backend-agnostic persistence contract. The numeric core and
// the HTTP layer depend only on this interface, never on a SQL dialect.
type Store interface {
	// CreateUser registers a user id. Creating an existing user is a no-op.
	CreateUser(ctx context.Context, userID int64) error

	// RecordTransaction appends one ledger entry. The category defaults to
	// core.DefaultCategory when blank.
	RecordTransaction(ctx context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error)

	// Balance is sum(income) - sum(expense) over the whole ledger. Zero for
	// a user with no transactions.
	Balance(ctx context.Context, userID int64) (decimal.Decimal, error)

	SumIncome(ctx context.Context, userID int64) (decimal.Decimal, error)
	SumExpenseInPeriod(ctx context.Context, userID int64, period core.Period) (decimal.Decimal, error)
	SumExpenseToday(ctx context.Context, userID int64) (decimal.Decimal, error)

	// BreakdownByCategory returns per-category expense sums for the period,
	// descending by sum.
	BreakdownByCategory(ctx context.Context, userID int64, period core.Period) ([]core.CategorySum, error)

	// MonthlyStats aggregates one calendar month: income total, expense
	// total and the top expense categories.
	MonthlyStats(ctx context.Context, userID int64, year, month int) (core.MonthlyStats, error)

	SetGoal(ctx context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error
	ClearGoal(ctx context.Context, userID int64) error
	Goal(ctx context.Context, userID int64) (core.Goal, error)
	SetDailyLimitCache(ctx context.Context, userID int64, limit decimal.Decimal) error

	AddTask(ctx context.Context, userID int64, text string) (core.Task, error)
	Tasks(ctx context.Context, userID int64) ([]core.Task, error)
	ToggleTask(ctx context.Context, taskID int64) error
	DeleteTask(ctx context.Context, taskID int64) error

	Close() error
}

// Open selects and initializes the configured backend.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.Backend {
	case config.BackendSQLite:
		store, err := NewSQLiteStore(cfg.SQLiteDBPath)
		if err != nil {
			return nil, fmt.Errorf("initialize sqlite backend: %w", err)
		}
		slog.Info("Initialized SQLite backend", "db_path", cfg.SQLiteDBPath)
		return store, nil
	case config.BackendPostgres:
		store, err := NewPostgresStore(ctx, cfg.PostgresDSN, cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("initialize postgres backend: %w", err)
		}
		slog.Info("Initialized Postgres backend", "timezone", cfg.Timezone)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Backend)
	}
}

// parseDeadline turns a stored deadline string back into a date. A corrupt
// value degrades to the zero time with a warning instead of failing the
// read; the limit calculator then reports "no goal".
func parseDeadline(ctx context.Context, raw string, userID int64) time.Time {
	if raw == "" {
		return time.Time{}
	}
	deadline, err := time.Parse(deadlineLayout, raw)
	if err != nil {
		slog.WarnContext(ctx, "Unparseable stored goal deadline, treating goal as unset",
			"user_id", userID, "raw", raw, "error", err)
		return time.Time{}
	}
	return deadline
}

// formatDeadline is the inverse of parseDeadline. Zero time stores as "".
func formatDeadline(deadline time.Time) string {
	if deadline.IsZero() {
		return ""
	}
	return deadline.Format(deadlineLayout)
}

// storageErr tags a backend failure so callers can map it to a service
// availability error without inspecting driver internals.
func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(core.ErrStorageUnavailable, err))
}

// categoryAggregator sums expense amounts per category in first-seen order,
// then sorts descending by total with ties kept in insertion order.
type categoryAggregator struct {
	order []string
	sums  map[string]*core.CategorySum
}

func newCategoryAggregator() *categoryAggregator {
	return &categoryAggregator{sums: make(map[string]*core.CategorySum)}
}

func (a *categoryAggregator) add(category, subcategory string, amount decimal.Decimal) {
	entry, ok := a.sums[category]
	if !ok {
		entry = &core.CategorySum{Category: category, Total: decimal.Zero}
		a.sums[category] = entry
		a.order = append(a.order, category)
	}
	if subcategory != "" && entry.Subcategory == "" {
		entry.Subcategory = subcategory
	}
	entry.Total = entry.Total.Add(amount)
}

func (a *categoryAggregator) sorted(limit int) []core.CategorySum {
	out := make([]core.CategorySum, 0, len(a.order))
	for _, category := range a.order {
		out = append(out, *a.sums[category])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Total.GreaterThan(out[j].Total)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// validateEntry applies the store-level checks shared by both backends.
func validateEntry(kind core.Kind, amount decimal.Decimal) error {
	if !kind.Valid() {
		return core.ErrInvalidKind
	}
	if !amount.IsPositive() {
		return core.ErrInvalidAmount
	}
	return nil
}
