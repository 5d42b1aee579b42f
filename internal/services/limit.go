package services

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
)

const (
	// LimitNoGoal means no goal amount or deadline is configured.
	LimitNoGoal LimitStatus = "no_goal"
	// LimitExpired means the goal deadline is today or in the past.
	LimitExpired LimitStatus = "expired"
	// LimitOK carries a computed daily allowance.
	LimitOK LimitStatus = "ok"
)

type (
	LimitStatus string

	// LimitResult is the tagged outcome of a daily limit computation. The
	// numeric fields are meaningful only when Status is LimitOK; Expired
	// additionally carries the goal amount and deadline for display.
	LimitResult struct {
		Status         LimitStatus
		GoalAmount     decimal.Decimal
		Deadline       time.Time
		Saved          decimal.Decimal
		DaysLeft       int
		DailyLimit     decimal.Decimal
		SpentToday     decimal.Decimal
		RemainingToday decimal.Decimal
	}
)

// ComputeDailyLimit derives the recommended daily spending allowance from
// the goal and the ledger aggregates. Canonical formula:
//
//	saved       = current balance
//	toSave      = max(0, goalAmount - saved)
//	dailyLimit  = max(0, toSave / daysLeft)
//
// The historical income-based variant ((income - goalAmount) / daysLeft)
// is intentionally not used; it flips sign whenever the goal exceeds
// total income and produces meaningless zero-clamped limits.
//
// The function is total: empty data yields zeros, never an error.
func ComputeDailyLimit(goal core.Goal, balance, spentToday decimal.Decimal, today time.Time) LimitResult {
	if !goal.IsSet() {
		return LimitResult{Status: LimitNoGoal}
	}

	daysLeft := daysUntil(today, goal.Deadline)
	if daysLeft <= 0 {
		return LimitResult{
			Status:     LimitExpired,
			GoalAmount: goal.Amount,
			Deadline:   goal.Deadline,
		}
	}

	saved := balance
	toSave := decimal.Max(decimal.Zero, goal.Amount.Sub(saved))
	dailyLimit := decimal.Max(decimal.Zero, toSave.Div(decimal.NewFromInt(int64(daysLeft))))
	remainingToday := decimal.Max(decimal.Zero, dailyLimit.Sub(spentToday))

	return LimitResult{
		Status:         LimitOK,
		GoalAmount:     goal.Amount,
		Deadline:       goal.Deadline,
		Saved:          saved,
		DaysLeft:       daysLeft,
		DailyLimit:     dailyLimit,
		SpentToday:     spentToday,
		RemainingToday: remainingToday,
	}
}

// daysUntil counts whole calendar days from today to the deadline,
// ignoring the time-of-day component of both.
func daysUntil(today, deadline time.Time) int {
	from := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(deadline.Year(), deadline.Month(), deadline.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}
