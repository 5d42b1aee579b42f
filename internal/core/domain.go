package core

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	PeriodDay   Period = "day"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodYear  Period = "year"
)

// DefaultCategory is assigned when a transaction is recorded without one.
const DefaultCategory = "other"

type (
	// Kind is the transaction direction: income or expense.
	Kind string

	// Period buckets aggregation queries over the ledger.
	Period string

	// Transaction is a single immutable ledger entry. Entries are never
	// updated or deleted once recorded.
	Transaction struct {
		ID          int64
		UserID      int64
		Kind        Kind
		Amount      decimal.Decimal
		Category    string
		Subcategory string
		OccurredAt  time.Time
	}

	// Goal is the per-user savings target. A zero Amount or zero Deadline
	// means no goal is set.
	Goal struct {
		UserID          int64
		Amount          decimal.Decimal
		Deadline        time.Time
		SavedSoFar      decimal.Decimal
		DailyLimitCache decimal.Decimal
	}

	// Task is a to-do item. Listing order is insertion order.
	Task struct {
		ID     int64
		UserID int64
		Text   string
		IsDone bool
	}

	// CategorySum is one row of a category breakdown, highest sums first.
	CategorySum struct {
		Category    string
		Subcategory string
		Total       decimal.Decimal
	}

	// MonthlyStats aggregates one calendar month of the ledger.
	MonthlyStats struct {
		IncomeTotal   decimal.Decimal
		ExpenseTotal  decimal.Decimal
		TopCategories []CategorySum
	}
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidKind     = errors.New("invalid transaction kind")
	ErrInvalidPeriod   = errors.New("invalid period")
	ErrInvalidDeadline = errors.New("invalid deadline")
	ErrEmptyText       = errors.New("empty text")
	ErrNotFound        = errors.New("not found")

	// ErrStorageUnavailable marks backend failures so transport layers can
	// answer with a service availability status instead of a generic error.
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// Valid reports whether the kind is one of the two enumerated kinds.
func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

// Valid reports whether the period is one of the enumerated buckets.
func (p Period) Valid() bool {
	switch p {
	case PeriodDay, PeriodWeek, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

func (t Transaction) Validate() error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if !t.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}

// Balance derived for display: IncomeTotal - ExpenseTotal.
func (m MonthlyStats) Balance() decimal.Decimal {
	return m.IncomeTotal.Sub(m.ExpenseTotal)
}

// IsSet reports whether a goal is actually configured. Both an amount and
// a deadline are required; either one missing means no goal.
func (g Goal) IsSet() bool {
	return g.Amount.IsPositive() && !g.Deadline.IsZero()
}

func (g Goal) Validate() error {
	if g.Amount.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

func (t Task) Validate() error {
	if len(strings.TrimSpace(t.Text)) == 0 {
		return ErrEmptyText
	}
	if len(t.Text) > 200 {
		return errors.New("text too long (max 200 characters)")
	}
	return nil
}

// NormalizeCategory maps blank categories to the documented default.
func NormalizeCategory(category string) string {
	category = strings.TrimSpace(category)
	if category == "" {
		return DefaultCategory
	}
	return category
}
