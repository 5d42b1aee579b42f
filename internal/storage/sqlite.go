package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the embedded-file backend. Monetary values are stored as
// decimal strings in TEXT columns and summed in Go: SQLite's NUMERIC
// affinity turns fractional amounts into REAL and SUM() over them drifts.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunSQLiteMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO users (user_id) VALUES (?)`, userID)
	if err != nil {
		return storageErr("create user", err)
	}
	return nil
}

func (s *SQLiteStore) RecordTransaction(ctx context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error) {
	if err := validateEntry(kind, amount); err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Category:    core.NormalizeCategory(category),
		Subcategory: subcategory,
		OccurredAt:  time.Now(),
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO transactions (user_id, kind, amount, category, subcategory, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`,
		tx.UserID, string(tx.Kind), tx.Amount, tx.Category, tx.Subcategory,
		tx.OccurredAt.Format("2006-01-02 15:04:05"),
	).Scan(&tx.ID)
	if err != nil {
		return core.Transaction{}, storageErr("insert transaction", err)
	}

	slog.InfoContext(ctx, "Transaction recorded",
		"id", tx.ID,
		"user_id", tx.UserID,
		"kind", tx.Kind,
		"amount", tx.Amount.String(),
		"category", tx.Category)

	return tx, nil
}

func (s *SQLiteStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, amount FROM transactions WHERE user_id = ?`, userID)
	if err != nil {
		return decimal.Zero, storageErr("query balance", err)
	}
	defer rows.Close()

	balance := decimal.Zero
	for rows.Next() {
		var kind string
		var amount decimal.Decimal
		if err := rows.Scan(&kind, &amount); err != nil {
			return decimal.Zero, storageErr("scan balance row", err)
		}
		if kind == string(core.Income) {
			balance = balance.Add(amount)
		} else {
			balance = balance.Sub(amount)
		}
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, storageErr("iterate balance rows", err)
	}
	return balance, nil
}

func (s *SQLiteStore) SumIncome(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.sumAmounts(ctx,
		`SELECT amount FROM transactions WHERE user_id = ? AND kind = 'income'`, userID)
}

func (s *SQLiteStore) SumExpenseInPeriod(ctx context.Context, userID int64, period core.Period) (decimal.Decimal, error) {
	clause, err := sqlitePeriodClause(period)
	if err != nil {
		return decimal.Zero, err
	}
	return s.sumAmounts(ctx,
		`SELECT amount FROM transactions
		 WHERE user_id = ? AND kind = 'expense' AND `+clause, userID)
}

func (s *SQLiteStore) SumExpenseToday(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.SumExpenseInPeriod(ctx, userID, core.PeriodDay)
}

// sumAmounts adds stored decimal strings in Go for exact results.
func (s *SQLiteStore) sumAmounts(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, storageErr("query amount sum", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, storageErr("scan amount", err)
		}
		total = total.Add(amount)
	}
	if err := rows.Err(); err != nil {
		return decimal.Zero, storageErr("iterate amounts", err)
	}
	return total, nil
}

func (s *SQLiteStore) BreakdownByCategory(ctx context.Context, userID int64, period core.Period) ([]core.CategorySum, error) {
	clause, err := sqlitePeriodClause(period)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT category, subcategory, amount FROM transactions
		 WHERE user_id = ? AND kind = 'expense' AND `+clause+`
		 ORDER BY id ASC`, userID)
	if err != nil {
		return nil, storageErr("query category breakdown", err)
	}
	defer rows.Close()

	agg := newCategoryAggregator()
	for rows.Next() {
		var category, subcategory string
		var amount decimal.Decimal
		if err := rows.Scan(&category, &subcategory, &amount); err != nil {
			return nil, storageErr("scan category row", err)
		}
		agg.add(category, subcategory, amount)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate category breakdown", err)
	}

	return agg.sorted(0), nil
}

func (s *SQLiteStore) MonthlyStats(ctx context.Context, userID int64, year, month int) (core.MonthlyStats, error) {
	yearMonth := fmt.Sprintf("%04d-%02d", year, month)

	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, category, amount FROM transactions
		 WHERE user_id = ? AND strftime('%Y-%m', occurred_at) = ?
		 ORDER BY id ASC`, userID, yearMonth)
	if err != nil {
		return core.MonthlyStats{}, storageErr("query monthly stats", err)
	}
	defer rows.Close()

	stats := core.MonthlyStats{IncomeTotal: decimal.Zero, ExpenseTotal: decimal.Zero}
	agg := newCategoryAggregator()
	for rows.Next() {
		var kind, category string
		var amount decimal.Decimal
		if err := rows.Scan(&kind, &category, &amount); err != nil {
			return core.MonthlyStats{}, storageErr("scan monthly row", err)
		}
		if kind == string(core.Income) {
			stats.IncomeTotal = stats.IncomeTotal.Add(amount)
			continue
		}
		stats.ExpenseTotal = stats.ExpenseTotal.Add(amount)
		agg.add(category, "", amount)
	}
	if err := rows.Err(); err != nil {
		return core.MonthlyStats{}, storageErr("iterate monthly rows", err)
	}

	stats.TopCategories = agg.sorted(topCategoriesLimit)
	return stats, nil
}

func (s *SQLiteStore) SetGoal(ctx context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error {
	if amount.IsNegative() {
		return core.ErrInvalidAmount
	}

	// Snapshot the balance at goal-set time.
	saved, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, goal_amount, goal_deadline, saved_so_far) VALUES (?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
		     goal_amount = excluded.goal_amount,
		     goal_deadline = excluded.goal_deadline,
		     saved_so_far = excluded.saved_so_far`,
		userID, amount, formatDeadline(deadline), saved)
	if err != nil {
		return storageErr("set goal", err)
	}

	slog.InfoContext(ctx, "Goal set",
		"user_id", userID,
		"goal_amount", amount.String(),
		"deadline", formatDeadline(deadline))

	return nil
}

func (s *SQLiteStore) ClearGoal(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET goal_amount = '0', goal_deadline = '', saved_so_far = '0', daily_limit_cache = '0'
		 WHERE user_id = ?`, userID)
	if err != nil {
		return storageErr("clear goal", err)
	}
	return nil
}

func (s *SQLiteStore) Goal(ctx context.Context, userID int64) (core.Goal, error) {
	goal := core.Goal{UserID: userID}
	var rawDeadline string

	err := s.db.QueryRowContext(ctx,
		`SELECT goal_amount, goal_deadline, saved_so_far, daily_limit_cache
		 FROM users WHERE user_id = ?`, userID).
		Scan(&goal.Amount, &rawDeadline, &goal.SavedSoFar, &goal.DailyLimitCache)
	if errors.Is(err, sql.ErrNoRows) {
		return goal, nil
	}
	if err != nil {
		return core.Goal{}, storageErr("query goal", err)
	}

	goal.Deadline = parseDeadline(ctx, rawDeadline, userID)
	return goal, nil
}

func (s *SQLiteStore) SetDailyLimitCache(ctx context.Context, userID int64, limit decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, daily_limit_cache) VALUES (?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET daily_limit_cache = excluded.daily_limit_cache`,
		userID, limit)
	if err != nil {
		return storageErr("set daily limit cache", err)
	}
	return nil
}

func (s *SQLiteStore) AddTask(ctx context.Context, userID int64, text string) (core.Task, error) {
	task := core.Task{UserID: userID, Text: text}
	if err := task.Validate(); err != nil {
		return core.Task{}, err
	}

	err := s.db.QueryRowContext(ctx,
		`INSERT INTO tasks (user_id, text) VALUES (?, ?) RETURNING id`,
		userID, text).Scan(&task.ID)
	if err != nil {
		return core.Task{}, storageErr("insert task", err)
	}

	return task, nil
}

func (s *SQLiteStore) Tasks(ctx context.Context, userID int64) ([]core.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, text, is_done FROM tasks
		 WHERE user_id = ? ORDER BY id ASC`, userID)
	if err != nil {
		return nil, storageErr("query tasks", err)
	}
	defer rows.Close()

	var tasks []core.Task
	for rows.Next() {
		var t core.Task
		if err := rows.Scan(&t.ID, &t.UserID, &t.Text, &t.IsDone); err != nil {
			return nil, storageErr("scan task", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate tasks", err)
	}

	return tasks, nil
}

func (s *SQLiteStore) ToggleTask(ctx context.Context, taskID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET is_done = NOT is_done WHERE id = ?`, taskID)
	if err != nil {
		return storageErr("toggle task", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("toggle task rows affected", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, taskID int64) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks WHERE id = ?`, taskID)
	if err != nil {
		return storageErr("delete task", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete task rows affected", err)
	}
	if affected == 0 {
		return core.ErrNotFound
	}
	return nil
}

// sqlitePeriodClause returns the WHERE fragment bucketing occurred_at.
// Week compares week numbers only, without the year: records from another
// year whose %W string coincides also match. Kept for compatibility with
// the original query shape.
func sqlitePeriodClause(period core.Period) (string, error) {
	switch period {
	case core.PeriodDay:
		return `DATE(occurred_at) = DATE('now', 'localtime')`, nil
	case core.PeriodWeek:
		return `strftime('%W', occurred_at) = strftime('%W', 'now', 'localtime')`, nil
	case core.PeriodMonth:
		return `strftime('%Y-%m', occurred_at) = strftime('%Y-%m', 'now', 'localtime')`, nil
	case core.PeriodYear:
		return `strftime('%Y', occurred_at) = strftime('%Y', 'now', 'localtime')`, nil
	}
	return "", core.ErrInvalidPeriod
}
