package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
	applog "github.com/bolotov-775-hue/finance-bot/internal/log"
	"github.com/bolotov-775-hue/finance-bot/internal/services"
)

// fakeStore is an in-memory storage.Store for handler tests. Setting
// failWith makes reads fail the way a dead backend would.
type fakeStore struct {
	users map[int64]*core.Goal
	txs   []core.Transaction
	tasks []core.Task

	nextTxID   int64
	nextTaskID int64
	failWith   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[int64]*core.Goal), nextTxID: 1, nextTaskID: 1}
}

func (f *fakeStore) CreateUser(_ context.Context, userID int64) error {
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = &core.Goal{UserID: userID}
	}
	return nil
}

func (f *fakeStore) RecordTransaction(_ context.Context, userID int64, kind core.Kind, amount decimal.Decimal, category, subcategory string) (core.Transaction, error) {
	if !kind.Valid() {
		return core.Transaction{}, core.ErrInvalidKind
	}
	if !amount.IsPositive() {
		return core.Transaction{}, core.ErrInvalidAmount
	}
	tx := core.Transaction{
		ID:          f.nextTxID,
		UserID:      userID,
		Kind:        kind,
		Amount:      amount,
		Category:    core.NormalizeCategory(category),
		Subcategory: subcategory,
		OccurredAt:  time.Now(),
	}
	f.nextTxID++
	f.txs = append(f.txs, tx)
	return tx, nil
}

func (f *fakeStore) Balance(_ context.Context, userID int64) (decimal.Decimal, error) {
	if f.failWith != nil {
		return decimal.Zero, f.failWith
	}
	balance := decimal.Zero
	for _, tx := range f.txs {
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

func (f *fakeStore) SumIncome(_ context.Context, userID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, tx := range f.txs {
		if tx.UserID == userID && tx.Kind == core.Income {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (f *fakeStore) SumExpenseInPeriod(_ context.Context, userID int64, period core.Period) (decimal.Decimal, error) {
	if !period.Valid() {
		return decimal.Zero, core.ErrInvalidPeriod
	}
	total := decimal.Zero
	for _, tx := range f.txs {
		if tx.UserID == userID && tx.Kind == core.Expense {
			total = total.Add(tx.Amount)
		}
	}
	return total, nil
}

func (f *fakeStore) SumExpenseToday(ctx context.Context, userID int64) (decimal.Decimal, error) {
	return f.SumExpenseInPeriod(ctx, userID, core.PeriodDay)
}

func (f *fakeStore) BreakdownByCategory(_ context.Context, userID int64, period core.Period) ([]core.CategorySum, error) {
	if !period.Valid() {
		return nil, core.ErrInvalidPeriod
	}
	sums := make(map[string]decimal.Decimal)
	var order []string
	for _, tx := range f.txs {
		if tx.UserID != userID || tx.Kind != core.Expense {
			continue
		}
		if _, ok := sums[tx.Category]; !ok {
			order = append(order, tx.Category)
		}
		sums[tx.Category] = sums[tx.Category].Add(tx.Amount)
	}
	var breakdown []core.CategorySum
	for _, cat := range order {
		breakdown = append(breakdown, core.CategorySum{Category: cat, Total: sums[cat]})
	}
	return breakdown, nil
}

func (f *fakeStore) MonthlyStats(_ context.Context, userID int64, year, month int) (core.MonthlyStats, error) {
	stats := core.MonthlyStats{IncomeTotal: decimal.Zero, ExpenseTotal: decimal.Zero}
	for _, tx := range f.txs {
		if tx.UserID != userID || tx.OccurredAt.Year() != year || int(tx.OccurredAt.Month()) != month {
			continue
		}
		if tx.Kind == core.Income {
			stats.IncomeTotal = stats.IncomeTotal.Add(tx.Amount)
		} else {
			stats.ExpenseTotal = stats.ExpenseTotal.Add(tx.Amount)
		}
	}
	return stats, nil
}

func (f *fakeStore) SetGoal(_ context.Context, userID int64, amount decimal.Decimal, deadline time.Time) error {
	goal, ok := f.users[userID]
	if !ok {
		goal = &core.Goal{UserID: userID}
		f.users[userID] = goal
	}
	goal.Amount = amount
	goal.Deadline = deadline
	goal.SavedSoFar, _ = f.Balance(context.Background(), userID)
	return nil
}

func (f *fakeStore) ClearGoal(_ context.Context, userID int64) error {
	if goal, ok := f.users[userID]; ok {
		goal.Amount = decimal.Zero
		goal.Deadline = time.Time{}
		goal.SavedSoFar = decimal.Zero
		goal.DailyLimitCache = decimal.Zero
	}
	return nil
}

func (f *fakeStore) Goal(_ context.Context, userID int64) (core.Goal, error) {
	if goal, ok := f.users[userID]; ok {
		return *goal, nil
	}
	return core.Goal{UserID: userID}, nil
}

func (f *fakeStore) SetDailyLimitCache(_ context.Context, userID int64, limit decimal.Decimal) error {
	goal, ok := f.users[userID]
	if !ok {
		goal = &core.Goal{UserID: userID}
		f.users[userID] = goal
	}
	goal.DailyLimitCache = limit
	return nil
}

func (f *fakeStore) AddTask(_ context.Context, userID int64, text string) (core.Task, error) {
	task := core.Task{ID: f.nextTaskID, UserID: userID, Text: text}
	if err := task.Validate(); err != nil {
		return core.Task{}, err
	}
	f.nextTaskID++
	f.tasks = append(f.tasks, task)
	return task, nil
}

func (f *fakeStore) Tasks(_ context.Context, userID int64) ([]core.Task, error) {
	if f.failWith != nil {
		return nil, f.failWith
	}
	var tasks []core.Task
	for _, t := range f.tasks {
		if t.UserID == userID {
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

func (f *fakeStore) ToggleTask(_ context.Context, taskID int64) error {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks[i].IsDone = !f.tasks[i].IsDone
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeStore) DeleteTask(_ context.Context, taskID int64) error {
	for i := range f.tasks {
		if f.tasks[i].ID == taskID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return core.ErrNotFound
}

func (f *fakeStore) Close() error { return nil }

type fakePublisher struct {
	published []reminderCall
	fail      bool
}

type reminderCall struct {
	userID int64
	text   string
	fireAt time.Time
}

func (p *fakePublisher) Publish(_ context.Context, userID int64, text string, fireAt time.Time) error {
	if p.fail {
		return errors.New("broker unreachable")
	}
	p.published = append(p.published, reminderCall{userID, text, fireAt})
	return nil
}

func newTestServer(t *testing.T, store *fakeStore, publisher ReminderPublisher) *Server {
	t.Helper()
	logger := applog.New(applog.DefaultConfig())
	return NewServer(":0", store, services.NewLedgerService(store), publisher, time.UTC, logger)
}

func doRequest(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t, newFakeStore(), nil)
	rec := doRequest(t, s, http.MethodGet, "/healthz", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeResponse(t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestHandleCreateUser(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid", `{"user_id": 7}`, http.StatusCreated},
		{"repeat is idempotent", `{"user_id": 7}`, http.StatusCreated},
		{"zero id", `{"user_id": 0}`, http.StatusBadRequest},
		{"malformed body", `{`, http.StatusBadRequest},
	}

	store := newFakeStore()
	s := newTestServer(t, store, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/users", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
	if len(store.users) != 1 {
		t.Errorf("users registered = %d, want 1", len(store.users))
	}
}

func TestHandleCreateTransaction(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"valid expense", `{"user_id":1,"kind":"expense","amount":"250.50","category":"food"}`, http.StatusCreated},
		{"valid income no category", `{"user_id":1,"kind":"income","amount":"5000"}`, http.StatusCreated},
		{"bad kind", `{"user_id":1,"kind":"transfer","amount":"10"}`, http.StatusBadRequest},
		{"zero amount", `{"user_id":1,"kind":"expense","amount":"0"}`, http.StatusBadRequest},
		{"negative amount", `{"user_id":1,"kind":"expense","amount":"-5"}`, http.StatusBadRequest},
		{"missing user", `{"kind":"expense","amount":"10"}`, http.StatusBadRequest},
	}

	store := newFakeStore()
	s := newTestServer(t, store, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPost, "/transactions", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
		})
	}

	if len(store.txs) != 2 {
		t.Fatalf("recorded transactions = %d, want 2", len(store.txs))
	}
	if store.txs[1].Category != core.DefaultCategory {
		t.Errorf("blank category stored as %q, want %q", store.txs[1].Category, core.DefaultCategory)
	}
}

func TestHandleBalance(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, nil)

	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"income","amount":"5000"}`)
	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"expense","amount":"1200"}`)

	rec := doRequest(t, s, http.MethodGet, "/balance?user_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeResponse(t, rec)
	if body["balance"] != "3800" {
		t.Errorf("balance = %v, want 3800", body["balance"])
	}

	// Unknown user is empty data, not an error
	rec = doRequest(t, s, http.MethodGet, "/balance?user_id=99", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeResponse(t, rec); body["balance"] != "0" {
		t.Errorf("balance = %v, want 0", body["balance"])
	}

	rec = doRequest(t, s, http.MethodGet, "/balance", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing user_id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleExpensesInPeriod(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, nil)

	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"expense","amount":"100","category":"food"}`)
	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"expense","amount":"40","category":"transport"}`)
	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"income","amount":"1000"}`)

	rec := doRequest(t, s, http.MethodGet, "/expenses?user_id=1&period=month", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeResponse(t, rec)
	if body["total"] != "140" {
		t.Errorf("total = %v, want 140", body["total"])
	}
	rows, ok := body["by_category"].([]any)
	if !ok || len(rows) != 2 {
		t.Errorf("by_category = %v, want 2 rows", body["by_category"])
	}

	rec = doRequest(t, s, http.MethodGet, "/expenses?user_id=1&period=decade", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("invalid period status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleGoalLifecycle(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, nil)

	// No goal yet
	rec := doRequest(t, s, http.MethodGet, "/goal?user_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeResponse(t, rec); body["set"] != false {
		t.Errorf("set = %v, want false", body["set"])
	}

	// Set via shorthand; the current balance is snapshotted with the goal.
	doRequest(t, s, http.MethodPost, "/transactions", `{"user_id":1,"kind":"income","amount":"3000"}`)
	rec = doRequest(t, s, http.MethodPut, "/goal", `{"user_id":1,"goal":"50000 31.12.2099"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("set goal status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	if body["deadline"] != "2099-12-31" {
		t.Errorf("deadline = %v, want 2099-12-31", body["deadline"])
	}

	rec = doRequest(t, s, http.MethodGet, "/goal?user_id=1", "")
	body = decodeResponse(t, rec)
	if body["set"] != true {
		t.Errorf("set = %v, want true", body["set"])
	}
	if body["amount"] != "50000" {
		t.Errorf("amount = %v, want 50000", body["amount"])
	}
	if body["saved_so_far"] != "3000" {
		t.Errorf("saved_so_far = %v, want 3000", body["saved_so_far"])
	}

	// Clear
	rec = doRequest(t, s, http.MethodDelete, "/goal?user_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("clear goal status = %d", rec.Code)
	}
	rec = doRequest(t, s, http.MethodGet, "/goal?user_id=1", "")
	if body := decodeResponse(t, rec); body["set"] != false {
		t.Errorf("set after clear = %v, want false", body["set"])
	}
}

func TestHandleSetGoal_Invalid(t *testing.T) {
	s := newTestServer(t, newFakeStore(), nil)

	tests := []struct {
		name string
		body string
	}{
		{"garbled shorthand", `{"user_id":1,"goal":"soon"}`},
		{"negative amount", `{"user_id":1,"goal":"-5 31.12.2099"}`},
		{"bad date", `{"user_id":1,"goal":"500 2099-12-31"}`},
		{"no amount no deadline", `{"user_id":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(t, s, http.MethodPut, "/goal", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want %d: %s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestHandleLimit(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, nil)

	// Without a goal
	rec := doRequest(t, s, http.MethodGet, "/limit?user_id=1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if body := decodeResponse(t, rec); body["status"] != "no_goal" {
		t.Errorf("status field = %v, want no_goal", body["status"])
	}

	// With a goal far in the future
	doRequest(t, s, http.MethodPut, "/goal", `{"user_id":1,"goal":"10000 31.12.2099"}`)
	rec = doRequest(t, s, http.MethodGet, "/limit?user_id=1", "")
	body := decodeResponse(t, rec)
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok: %s", body["status"], rec.Body.String())
	}
	if _, present := body["daily_limit"]; !present {
		t.Error("daily_limit missing from ok response")
	}
}

func TestHandleTasks(t *testing.T) {
	store := newFakeStore()
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodPost, "/tasks", `{"user_id":1,"text":"pay rent"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	doRequest(t, s, http.MethodPost, "/tasks", `{"user_id":1,"text":"renew insurance"}`)

	rec = doRequest(t, s, http.MethodPost, "/tasks", `{"user_id":1,"text":"   "}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("blank text status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doRequest(t, s, http.MethodGet, "/tasks?user_id=1", "")
	body := decodeResponse(t, rec)
	rows, ok := body["tasks"].([]any)
	if !ok || len(rows) != 2 {
		t.Fatalf("tasks = %v, want 2 rows", body["tasks"])
	}

	// Toggle and delete
	rec = doRequest(t, s, http.MethodPost, "/tasks/1/toggle", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d", rec.Code)
	}
	if !store.tasks[0].IsDone {
		t.Error("task 1 not marked done after toggle")
	}

	rec = doRequest(t, s, http.MethodDelete, "/tasks/2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = doRequest(t, s, http.MethodPost, "/tasks/99/toggle", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("toggle missing task status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = doRequest(t, s, http.MethodDelete, "/tasks/99", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("delete missing task status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	rec = doRequest(t, s, http.MethodDelete, "/tasks/abc", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("non-numeric id status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestHandleCreateReminder(t *testing.T) {
	publisher := &fakePublisher{}
	s := newTestServer(t, newFakeStore(), publisher)

	rec := doRequest(t, s, http.MethodPost, "/reminders",
		`{"user_id":1,"text":"top up savings","fire_at":"2099-01-01T09:00:00Z"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if len(publisher.published) != 1 || publisher.published[0].userID != 1 {
		t.Errorf("published = %+v, want one call for user 1", publisher.published)
	}

	rec = doRequest(t, s, http.MethodPost, "/reminders", `{"user_id":1,"text":"","fire_at":"2099-01-01T09:00:00Z"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	rec = doRequest(t, s, http.MethodPost, "/reminders", `{"user_id":1,"text":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing fire_at status = %d, want %d", rec.Code, http.StatusBadRequest)
	}

	publisher.fail = true
	rec = doRequest(t, s, http.MethodPost, "/reminders",
		`{"user_id":1,"text":"x","fire_at":"2099-01-01T09:00:00Z"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("broker failure status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleCreateReminder_NoBroker(t *testing.T) {
	s := newTestServer(t, newFakeStore(), nil)
	rec := doRequest(t, s, http.MethodPost, "/reminders",
		`{"user_id":1,"text":"x","fire_at":"2099-01-01T09:00:00Z"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}

func TestHandleBalance_StorageUnavailable(t *testing.T) {
	store := newFakeStore()
	store.failWith = fmt.Errorf("query balance: %w",
		errors.Join(core.ErrStorageUnavailable, errors.New("disk I/O error at /var/lib/finance.db")))
	s := newTestServer(t, store, nil)

	rec := doRequest(t, s, http.MethodGet, "/balance?user_id=1", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}

	// Backend detail stays out of the response body.
	body := decodeResponse(t, rec)
	if body["error"] != "service temporarily unavailable" {
		t.Errorf("error = %v, want generic availability message", body["error"])
	}
	if strings.Contains(rec.Body.String(), "disk I/O") {
		t.Errorf("response leaks backend detail: %s", rec.Body.String())
	}
}

func TestStatsCacheInvalidation_Timezone(t *testing.T) {
	store := newFakeStore()
	logger := applog.New(applog.DefaultConfig())
	location := time.FixedZone("UTC+14", 14*3600)
	s := NewServer(":0", store, services.NewLedgerService(store), nil, location, logger)

	// 23:00 UTC on Jan 31 is already Feb 1 in the configured zone. The
	// invalidation must drop the February entry, not a January one.
	s.statsCache.Set(s.statsCacheKey(1, 2026, 2), core.MonthlyStats{})
	s.invalidateStats(1, time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC))

	if _, found := s.statsCache.Get(s.statsCacheKey(1, 2026, 2)); found {
		t.Error("February entry survived invalidation for a transaction in its month")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, newFakeStore(), nil)

	tests := []struct {
		method string
		target string
	}{
		{http.MethodGet, "/users"},
		{http.MethodDelete, "/transactions"},
		{http.MethodPost, "/balance"},
		{http.MethodPost, "/limit"},
	}
	for _, tt := range tests {
		rec := doRequest(t, s, tt.method, tt.target, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.target, rec.Code, http.StatusMethodNotAllowed)
		}
	}
}
