package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
)

// PostgresStore is the managed-server backend.
type PostgresStore struct {
	pool     *pgxpool.Pool
	timezone string
}

func NewPostgresStore(ctx context.Context, dsn, timezone string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunPostgresMigrations(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{pool: pool, timezone: timezone}, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO NOTHING`, userID)
	if err != nil {
		return storageErr("create user", err)
	}
	return nil
}

func (s *PostgresStore) RecordTransaction(ctx context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error) {
	if err := validateEntry(kind, amount); err != nil {
		return core.Transaction{}, err
	}

	tx := core.Transaction{
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Category:    core.NormalizeCategory(category),
		Subcategory: subcategory,
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO transactions (user_id, kind, amount, category, subcategory)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, occurred_at`,
		tx.UserID, string(tx.Kind), tx.Amount, tx.Category, tx.Subcategory,
	).Scan(&tx.ID, &tx.OccurredAt)
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

func (s *PostgresStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'income' THEN amount ELSE 0 END), 0) -
		        COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount ELSE 0 END), 0)
		 FROM transactions WHERE user_id = $1`, userID).Scan(&balance)
	if err != nil {
		return decimal.Zero, storageErr("query balance", err)
	}
	return balance, nil
}

func (s *PostgresStore) SumIncome(ctx context.Context, userID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE user_id = $1 AND kind = 'income'`, userID).Scan(&total)
	if err != nil {
		return decimal.Zero, storageErr("query income sum", err)
	}
	return total, nil
}

func (s *PostgresStore) SumExpenseInPeriod(ctx context.Context, userID int64, period core.Period) (decimal.Decimal, error) {
	clause, err := postgresPeriodClause(period)
	if err != nil {
		return decimal.Zero, err
	}

	var total decimal.Decimal
	err = s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM transactions
		 WHERE user_id = $1 AND kind = 'expense' AND `+clause,
		userID, s.timezone).Scan(&total)
	if err != nil {
		return decimal.Zero, storageErr(fmt.Sprintf("query expense sum for period %s", period), err)
	}
	return total, nil
}

func (s *PostgresStore) SumExpenseToday(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return s.SumExpenseInPeriod(ctx, userID, core.PeriodDay)
}

func (s *PostgresStore) BreakdownByCategory(ctx context.Context, userID int64, period core.Period) ([]core.CategorySum, error) {
	clause, err := postgresPeriodClause(period)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT category, subcategory, COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND kind = 'expense' AND `+clause+`
		 GROUP BY category, subcategory
		 ORDER BY SUM(amount) DESC, MIN(id) ASC`,
		userID, s.timezone)
	if err != nil {
		return nil, storageErr("query category breakdown", err)
	}
	defer rows.Close()

	var breakdown []core.CategorySum
	for rows.Next() {
		var cs core.CategorySum
		if err := rows.Scan(&cs.Category, &cs.Subcategory, &cs.Total); err != nil {
			return nil, storageErr("scan category sum", err)
		}
		breakdown = append(breakdown, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate category breakdown", err)
	}

	return breakdown, nil
}

func (s *PostgresStore) MonthlyStats(ctx context.Context, userID int64, year, month int) (core.MonthlyStats, error) {
	yearMonth := fmt.Sprintf("%04d-%02d", year, month)

	var stats core.MonthlyStats
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(CASE WHEN kind = 'income' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN kind = 'expense' THEN amount ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = $1 AND to_char(occurred_at AT TIME ZONE $2, 'YYYY-MM') = $3`,
		userID, s.timezone, yearMonth).Scan(&stats.IncomeTotal, &stats.ExpenseTotal)
	if err != nil {
		return core.MonthlyStats{}, storageErr("query monthly totals", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT category, COALESCE(SUM(amount), 0)
		 FROM transactions
		 WHERE user_id = $1 AND kind = 'expense' AND to_char(occurred_at AT TIME ZONE $2, 'YYYY-MM') = $3
		 GROUP BY category
		 ORDER BY SUM(amount) DESC, MIN(id) ASC
		 LIMIT $4`,
		userID, s.timezone, yearMonth, topCategoriesLimit)
	if err != nil {
		return core.MonthlyStats{}, storageErr("query top categories", err)
	}
	defer rows.Close()

	for rows.Next() {
		var cs core.CategorySum
		if err := rows.Scan(&cs.Category, &cs.Total); err != nil {
			return core.MonthlyStats{}, storageErr("scan top category", err)
		}
		stats.TopCategories = append(stats.TopCategories, cs)
	}
	if err := rows.Err(); err != nil {
		return core.MonthlyStats{}, storageErr("iterate top categories", err)
	}

	return stats, nil
}

func (s *PostgresStore) SetGoal(ctx context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error {
	if amount.IsNegative() {
		return core.ErrInvalidAmount
	}

	// Snapshot the balance at goal-set time.
	saved, err := s.Balance(ctx, userID)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO users (user_id, goal_amount, goal_deadline, saved_so_far) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id) DO UPDATE SET
		     goal_amount = EXCLUDED.goal_amount,
		     goal_deadline = EXCLUDED.goal_deadline,
		     saved_so_far = EXCLUDED.saved_so_far`,
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

func (s *PostgresStore) ClearGoal(ctx context.Context, userID int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE users SET goal_amount = 0, goal_deadline = '', saved_so_far = 0, daily_limit_cache = 0
		 WHERE user_id = $1`, userID)
	if err != nil {
		return storageErr("clear goal", err)
	}
	return nil
}

func (s *PostgresStore) Goal(ctx context.Context, userID int64) (core.Goal, error) {
	goal := core.Goal{UserID: userID}
	var rawDeadline string

	err := s.pool.QueryRow(ctx,
		`SELECT goal_amount, goal_deadline, saved_so_far, daily_limit_cache
		 FROM users WHERE user_id = $1`, userID).
		Scan(&goal.Amount, &rawDeadline, &goal.SavedSoFar, &goal.DailyLimitCache)
	if errors.Is(err, pgx.ErrNoRows) {
		return goal, nil
	}
	if err != nil {
		return core.Goal{}, storageErr("query goal", err)
	}

	goal.Deadline = parseDeadline(ctx, rawDeadline, userID)
	return goal, nil
}

func (s *PostgresStore) SetDailyLimitCache(ctx context.Context, userID int64, limit decimal.Decimal) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (user_id, daily_limit_cache) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET daily_limit_cache = EXCLUDED.daily_limit_cache`,
		userID, limit)
	if err != nil {
		return storageErr("set daily limit cache", err)
	}
	return nil
}

func (s *PostgresStore) AddTask(ctx context.Context, userID int64, text string) (core.Task, error) {
	task := core.Task{UserID: userID, Text: text}
	if err := task.Validate(); err != nil {
		return core.Task{}, err
	}

	err := s.pool.QueryRow(ctx,
		`INSERT INTO tasks (user_id, text) VALUES ($1, $2) RETURNING id`,
		userID, text).Scan(&task.ID)
	if err != nil {
		return core.Task{}, storageErr("insert task", err)
	}

	return task, nil
}

func (s *PostgresStore) Tasks(ctx context.Context, userID int64) ([]core.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, text, is_done FROM tasks
		 WHERE user_id = $1 ORDER BY id ASC`, userID)
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

func (s *PostgresStore) ToggleTask(ctx context.Context, taskID int64) error {
	res, err := s.pool.Exec(ctx,
		`UPDATE tasks SET is_done = NOT is_done WHERE id = $1`, taskID)
	if err != nil {
		return storageErr("toggle task", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteTask(ctx context.Context, taskID int64) error {
	res, err := s.pool.Exec(ctx,
		`DELETE FROM tasks WHERE id = $1`, taskID)
	if err != nil {
		return storageErr("delete task", err)
	}
	if res.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}

// postgresPeriodClause returns the WHERE fragment bucketing occurred_at in
// the user-facing timezone ($2). Week compares ISO week numbers only,
// without the year, the same shape as the sqlite backend.
func postgresPeriodClause(period core.Period) (string, error) {
	switch period {
	case core.PeriodDay:
		return `(occurred_at AT TIME ZONE $2)::date = (now() AT TIME ZONE $2)::date`, nil
	case core.PeriodWeek:
		return `to_char(occurred_at AT TIME ZONE $2, 'IW') = to_char(now() AT TIME ZONE $2, 'IW')`, nil
	case core.PeriodMonth:
		return `to_char(occurred_at AT TIME ZONE $2, 'YYYY-MM') = to_char(now() AT TIME ZONE $2, 'YYYY-MM')`, nil
	case core.PeriodYear:
		return `to_char(occurred_at AT TIME ZONE $2, 'YYYY') = to_char(now() AT TIME ZONE $2, 'YYYY')`, nil
	}
	return "", core.ErrInvalidPeriod
}
