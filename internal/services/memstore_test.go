package services

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
)

// memStore is an in-memory storage.Store used by the service tests.
type memStore struct {
	users        map[int64]*core.Goal
	transactions []core.Transaction
	tasks        []core.Task
	nextTxID     int64
	nextTaskID   int64

	failLimitCache bool
	limitWrites    int
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[int64]*core.Goal),
		nextTxID:   1,
		nextTaskID: 1,
	}
}

func (m *memStore) CreateUser(_ context.Context, userID int64) error {
	if _, ok := m.users[userID]; !ok {
		m.users[userID] = &core.Goal{UserID: userID}
	}
	return nil
}

func (m *memStore) RecordTransaction(_ context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error) {
	if !kind.Valid() {
		return core.Transaction{}, core.ErrInvalidKind
	}
	if !amount.IsPositive() {
		return core.Transaction{}, core.ErrInvalidAmount
	}
	tx := core.Transaction{
		ID:          m.nextTxID,
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Category:    core.NormalizeCategory(category),
		Subcategory: subcategory,
		OccurredAt:  time.Now(),
	}
	m.nextTxID++
	m.transactions = append(m.transactions, tx)
	return tx, nil
}

func (m *memStore) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	balance := decimal.Zero
	for _, tx := range m.transactions {
		if tx.UserID != userID {
			continue
		}
		if tx.Kind == core.Income {
			balance = balance.Add(tx.Amount)
		} else {
			balance = balance.Sub(tx.Amount)
		}
	}
	return balance, nil
}

func (m *memStore) SumIncome(_ context.Context, userID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tx := range m.transactions {
		if tx.UserID == userID && tx.Kind == core.Income {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (m *memStore) SumExpenseInPeriod(_ context.Context, userID int64, period core.Period) (decimal.Decimal, error) {
	if !period.Valid() {
		return decimal.Zero, core.ErrInvalidPeriod
	}
	total := decimal.Zero
	for _, tx := range m.transactions {
		if tx.UserID == userID && tx.Kind == core.Expense && inPeriod(tx.OccurredAt, period) {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (m *memStore) SumExpenseToday(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return m.SumExpenseInPeriod(ctx, userID, core.PeriodDay)
}

func (m *memStore) BreakdownByCategory(_ context.Context, userID int64, period core.Period) ([]core.CategorySum, error) {
	type key struct{ cat, sub string }
	sums := make(map[key]decimal.Decimal)
	order := make(map[key]int)
	for i, tx := range m.transactions {
		if tx.UserID != userID || tx.Kind != core.Expense || !inPeriod(tx.OccurredAt, period) {
			continue
		}
		k := key{tx.Category, tx.Subcategory}
		if _, ok := sums[k]; !ok {
			order[k] = i
		}
		sums[k] = sums[k].Add(tx.Amount)
	}

	var breakdown []core.CategorySum
	for k, total := range sums {
		breakdown = append(breakdown, core.CategorySum{Category: k.cat, Subcategory: k.sub, Total: total})
	}
	sort.SliceStable(breakdown, func(i, j int) bool {
		a, b := breakdown[i], breakdown[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return order[key{a.Category, a.Subcategory}] < order[key{b.Category, b.Subcategory}]
	})
	return breakdown, nil
}

func (m *memStore) MonthlyStats(_ context.Context, userID int64, year, month int) (core.MonthlyStats, error) {
	var stats core.MonthlyStats
	stats.IncomeTotal = decimal.Zero
	stats.ExpenseTotal = decimal.Zero
	catSums := make(map[string]decimal.Decimal)
	catOrder := make(map[string]int)

	for i, tx := range m.transactions {
		if tx.UserID != userID || tx.OccurredAt.Year() != year || int(tx.OccurredAt.Month()) != month {
			continue
		}
		if tx.Kind == core.Income {
			stats.IncomeTotal = stats.IncomeTotal.Add(tx.Amount)
			continue
		}
		stats.ExpenseTotal = stats.ExpenseTotal.Add(tx.Amount)
		if _, ok := catSums[tx.Category]; !ok {
			catOrder[tx.Category] = i
		}
		catSums[tx.Category] = catSums[tx.Category].Add(tx.Amount)
	}

	for cat, total := range catSums {
		stats.TopCategories = append(stats.TopCategories, core.CategorySum{Category: cat, Total: total})
	}
	sort.SliceStable(stats.TopCategories, func(i, j int) bool {
		a, b := stats.TopCategories[i], stats.TopCategories[j]
		if !a.Total.Equal(b.Total) {
			return a.Total.GreaterThan(b.Total)
		}
		return catOrder[a.Category] < catOrder[b.Category]
	})
	if len(stats.TopCategories) > 5 {
		stats.TopCategories = stats.TopCategories[:5]
	}
	return stats, nil
}

func (m *memStore) SetGoal(_ context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error {
	goal, ok := m.users[userID]
	if !ok {
		goal = &core.Goal{UserID: userID}
		m.users[userID] = goal
	}
	goal.Amount = amount
	goal.Deadline = deadline
	goal.SavedSoFar, _ = m.Balance(context.Background(), userID)
	return nil
}

func (m *memStore) ClearGoal(_ context.Context, userID int64) error {
	if goal, ok := m.users[userID]; ok {
		goal.Amount = decimal.Zero
		goal.Deadline = time.Time{}
		goal.SavedSoFar = decimal.Zero
		goal.DailyLimitCache = decimal.Zero
	}
	return nil
}

func (m *memStore) Goal(_ context.Context, userID int64) (core.Goal, error) {
	if goal, ok := m.users[userID]; ok {
		return *goal, nil
	}
	return core.Goal{UserID: userID}, nil
}

func (m *memStore) SetDailyLimitCache(_ context.Context, userID int64, limit decimal.Decimal) error {
	if m.failLimitCache {
		return errors.New("cache write refused")
	}
	m.limitWrites++
	goal, ok := m.users[userID]
	if !ok {
		goal = &core.Goal{UserID: userID}
		m.users[userID] = goal
	}
	goal.DailyLimitCache = limit
	return nil
}

func (m *memStore) AddTask(_ context.Context, userID int64, text string) (core.Task, error) {
	task := core.Task{ID: m.nextTaskID, UserID: userID, Text: text}
	if err := task.Validate(); err != nil {
		return core.Task{}, err
	}
	m.nextTaskID++
	m.tasks = append(m.tasks, task)
	return task, nil
}

func (m *memStore) Tasks(_ context.Context, userID int64) ([]core.Task, error) {
	var tasks []core.Task
	for _, t := range m.tasks {
		if t.UserID == userID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (m *memStore) ToggleTask(_ context.Context, taskID int64) error {
	for i := range m.tasks {
		if m.tasks[i].ID == taskID {
			m.tasks[i].IsDone = !m.tasks[i].IsDone
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *memStore) DeleteTask(_ context.Context, taskID int64) error {
	for i := range m.tasks {
		if m.tasks[i].ID == taskID {
			m.tasks = append(m.tasks[:i], m.tasks[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (m *memStore) Close() error { return nil }

func inPeriod(at time.Time, period core.Period) bool {
	now := time.Now()
	switch period {
	case core.PeriodDay:
		return at.Format("2006-01-02") == now.Format("2006-01-02")
	case core.PeriodWeek:
		_, w1 := at.ISOWeek()
		_, w2 := now.ISOWeek()
		return w1 == w2
	case core.PeriodMonth:
		return at.Format("2006-01") == now.Format("2006-01")
	case core.PeriodYear:
		return at.Year() == now.Year()
	}
	return false
}
