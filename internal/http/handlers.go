package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
	applog "github.com/bolotov-775-hue/finance-bot/internal/log"
	"github.com/bolotov-775-hue/finance-bot/internal/services"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		UserID int64 `json:"user_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be a positive integer"})
		return
	}

	if err := s.store.CreateUser(r.Context(), req.UserID); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "User registration failed",
			applog.FieldUserID, req.UserID, applog.FieldError, err)
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"user_id": req.UserID})
}

type transactionResponse struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Kind        core.Kind       `json:"kind"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}

	var req struct {
		UserID      int64           `json:"user_id"`
		Kind        string          `json:"kind"`
		Amount      decimal.Decimal `json:"amount"`
		Category    string          `json:"category"`
		Subcategory string          `json:"subcategory"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be a positive integer"})
		return
	}

	tx, err := s.ledger.RecordTransaction(r.Context(), req.UserID, core.Kind(req.Kind), req.Amount, req.Category, req.Subcategory)
	if err != nil {
		writeError(w, err)
		return
	}

	s.invalidateStats(req.UserID, tx.OccurredAt)

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Transaction recorded",
		applog.FieldUserID, tx.UserID,
		applog.FieldKind, string(tx.Kind),
		applog.FieldAmount, tx.Amount.String(),
		applog.FieldCategory, tx.Category)

	writeJSON(w, http.StatusCreated, transactionResponse{
		ID:          tx.ID,
		UserID:      tx.UserID,
		Kind:        tx.Kind,
		Amount:      tx.Amount,
		Category:    tx.Category,
		Subcategory: tx.Subcategory,
		OccurredAt:  tx.OccurredAt,
	})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	balance, err := s.store.Balance(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"balance": balance,
	})
}

func (s *Server) handleExpensesToday(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	total, err := s.store.SumExpenseToday(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": userID,
		"total":   total,
	})
}

type categorySumResponse struct {
	Category    string          `json:"category"`
	Subcategory string          `json:"subcategory,omitempty"`
	Total       decimal.Decimal `json:"total"`
}

func (s *Server) handleExpensesInPeriod(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	period, err := parsePeriod(r)
	if err != nil {
		writeError(w, err)
		return
	}

	total, err := s.store.SumExpenseInPeriod(r.Context(), userID, period)
	if err != nil {
		writeError(w, err)
		return
	}
	breakdown, err := s.store.BreakdownByCategory(r.Context(), userID, period)
	if err != nil {
		writeError(w, err)
		return
	}

	rows := make([]categorySumResponse, 0, len(breakdown))
	for _, row := range breakdown {
		rows = append(rows, categorySumResponse{
			Category:    row.Category,
			Subcategory: row.Subcategory,
			Total:       row.Total,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"period":      period,
		"total":       total,
		"by_category": rows,
	})
}

func (s *Server) handleMonthlyStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	year, month, err := parseYearMonth(r, s.location)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	stats, err := s.monthlyStats(r.Context(), userID, year, month)
	if err != nil {
		writeError(w, err)
		return
	}

	top := make([]categorySumResponse, 0, len(stats.TopCategories))
	for _, row := range stats.TopCategories {
		top = append(top, categorySumResponse{Category: row.Category, Total: row.Total})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":        userID,
		"year":           year,
		"month":          month,
		"income_total":   stats.IncomeTotal,
		"expense_total":  stats.ExpenseTotal,
		"balance":        stats.Balance(),
		"top_categories": top,
	})
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		s.handleSetGoal(w, r)
	case http.MethodDelete:
		s.handleClearGoal(w, r)
	case http.MethodGet:
		s.handleGetGoal(w, r)
	default:
		methodNotAllowed(w, "GET, PUT, DELETE")
	}
}

func (s *Server) handleSetGoal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   int64           `json:"user_id"`
		Goal     string          `json:"goal"`
		Amount   decimal.Decimal `json:"amount"`
		Deadline string          `json:"deadline"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be a positive integer"})
		return
	}

	amount := req.Amount
	var deadline time.Time
	if req.Goal != "" {
		var err error
		amount, deadline, err = parseGoalText(req.Goal, s.location)
		if err != nil {
			writeError(w, err)
			return
		}
	} else if req.Deadline != "" {
		var err error
		deadline, err = time.ParseInLocation("2006-01-02", req.Deadline, s.location)
		if err != nil {
			writeError(w, core.ErrInvalidDeadline)
			return
		}
	}

	if err := s.ledger.SetGoal(r.Context(), req.UserID, amount, deadline); err != nil {
		writeError(w, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Goal set",
		applog.FieldUserID, req.UserID,
		applog.FieldGoalAmount, amount.String(),
		applog.FieldDeadline, deadline.Format("2006-01-02"))

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  req.UserID,
		"amount":   amount,
		"deadline": deadline.Format("2006-01-02"),
	})
}

func (s *Server) handleClearGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	if err := s.ledger.ClearGoal(r.Context(), userID); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "cleared": true})
}

func (s *Server) handleGetGoal(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	goal, err := s.store.Goal(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"user_id": userID,
		"set":     goal.IsSet(),
	}
	if goal.IsSet() {
		resp["amount"] = goal.Amount
		resp["deadline"] = goal.Deadline.Format("2006-01-02")
		resp["saved_so_far"] = goal.SavedSoFar
		resp["daily_limit_cache"] = goal.DailyLimitCache
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLimit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, "GET")
		return
	}

	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.ledger.ComputeDailyLimit(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]any{
		"user_id": userID,
		"status":  result.Status,
	}
	switch result.Status {
	case services.LimitExpired:
		resp["goal_amount"] = result.GoalAmount
		resp["deadline"] = result.Deadline.Format("2006-01-02")
	case services.LimitOK:
		resp["goal_amount"] = result.GoalAmount
		resp["deadline"] = result.Deadline.Format("2006-01-02")
		resp["saved"] = result.Saved
		resp["days_left"] = result.DaysLeft
		resp["daily_limit"] = result.DailyLimit
		resp["spent_today"] = result.SpentToday
		resp["remaining_today"] = result.RemainingToday
	}
	writeJSON(w, http.StatusOK, resp)
}

type taskResponse struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"user_id"`
	Text   string `json:"text"`
	IsDone bool   `json:"is_done"`
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateTask(w, r)
	case http.MethodGet:
		s.handleListTasks(w, r)
	default:
		methodNotAllowed(w, "GET, POST")
	}
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID int64  `json:"user_id"`
		Text   string `json:"text"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be a positive integer"})
		return
	}
	if err := (core.Task{Text: req.Text}).Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := s.store.CreateUser(r.Context(), req.UserID); err != nil {
		writeError(w, err)
		return
	}
	task, err := s.store.AddTask(r.Context(), req.UserID, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, taskResponse{
		ID: task.ID, UserID: task.UserID, Text: task.Text, IsDone: task.IsDone,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	tasks, err := s.store.Tasks(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	rows := make([]taskResponse, 0, len(tasks))
	for _, task := range tasks {
		rows = append(rows, taskResponse{
			ID: task.ID, UserID: task.UserID, Text: task.Text, IsDone: task.IsDone,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"user_id": userID, "tasks": rows})
}

// handleTaskByID routes POST /tasks/{id}/toggle and DELETE /tasks/{id}.
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")

	if idStr, found := strings.CutSuffix(rest, "/toggle"); found {
		if r.Method != http.MethodPost {
			methodNotAllowed(w, "POST")
			return
		}
		s.toggleTask(w, r, idStr)
		return
	}

	if r.Method != http.MethodDelete {
		methodNotAllowed(w, "DELETE")
		return
	}
	s.deleteTask(w, r, rest)
}

func (s *Server) toggleTask(w http.ResponseWriter, r *http.Request, idStr string) {
	taskID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || taskID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "task id must be a positive integer"})
		return
	}

	if err := s.store.ToggleTask(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}

	applog.FromContext(r.Context()).InfoContext(r.Context(), "Task toggled",
		applog.FieldTaskID, taskID)
	writeJSON(w, http.StatusOK, map[string]any{"id": taskID, "toggled": true})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request, idStr string) {
	taskID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || taskID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "task id must be a positive integer"})
		return
	}

	if err := s.store.DeleteTask(r.Context(), taskID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": taskID, "deleted": true})
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, "POST")
		return
	}
	if s.reminders == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reminder broker not configured"})
		return
	}

	var req struct {
		UserID int64     `json:"user_id"`
		Text   string    `json:"text"`
		FireAt time.Time `json:"fire_at"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "user_id must be a positive integer"})
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, core.ErrEmptyText)
		return
	}
	if req.FireAt.IsZero() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "fire_at is required"})
		return
	}

	if err := s.reminders.Publish(r.Context(), req.UserID, req.Text, req.FireAt); err != nil {
		applog.FromContext(r.Context()).ErrorContext(r.Context(), "Reminder publish failed",
			applog.FieldUserID, req.UserID,
			applog.FieldFireAt, req.FireAt,
			applog.FieldError, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "reminder broker unavailable"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"user_id": req.UserID,
		"fire_at": req.FireAt.Format(time.RFC3339),
	})
}
