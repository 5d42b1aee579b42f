package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/bolotov-775-hue/finance-bot/internal/core"
)

// goalDateLayout is the user-facing deadline format, e.g. "50000 31.12.2025".
const goalDateLayout = "02.01.2006"

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP statuses: validation failures to
// 400, missing rows to 404, unreachable storage to 503, the rest to 500.
// Server-side failures get a fixed message so backend details never reach
// the client.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidPeriod),
		errors.Is(err, core.ErrInvalidDeadline),
		errors.Is(err, core.ErrEmptyText):
		status = http.StatusBadRequest
	case errors.Is(err, core.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, core.ErrStorageUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		status = http.StatusServiceUnavailable
	}

	message := err.Error()
	switch status {
	case http.StatusServiceUnavailable:
		message = "service temporarily unavailable"
	case http.StatusInternalServerError:
		message = "internal server error"
	}
	writeJSON(w, status, errorResponse{Error: message})
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	w.WriteHeader(http.StatusMethodNotAllowed)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return false
	}
	return true
}

// parseUserID reads the user_id query parameter.
func parseUserID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if raw == "" {
		return 0, errors.New("user_id is required")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("user_id must be a positive integer")
	}
	return id, nil
}

// parsePeriod reads the period query parameter, defaulting to month.
func parsePeriod(r *http.Request) (core.Period, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("period"))
	if raw == "" {
		return core.PeriodMonth, nil
	}
	p := core.Period(raw)
	if !p.Valid() {
		return "", core.ErrInvalidPeriod
	}
	return p, nil
}

// parseYearMonth extracts year and month from query parameters, defaulting
// to the current month in the given location.
func parseYearMonth(r *http.Request, location *time.Location) (year, month int, err error) {
	now := time.Now().In(location)
	year = now.Year()
	month = int(now.Month())

	if v := strings.TrimSpace(r.URL.Query().Get("year")); v != "" {
		y, convErr := strconv.Atoi(v)
		if convErr != nil || y < 1970 || y > 9999 {
			return 0, 0, errors.New("year must be a four-digit year")
		}
		year = y
	}
	if v := strings.TrimSpace(r.URL.Query().Get("month")); v != "" {
		m, convErr := strconv.Atoi(v)
		if convErr != nil || m < 1 || m > 12 {
			return 0, 0, errors.New("month must be between 1 and 12")
		}
		month = m
	}
	return year, month, nil
}

// parseGoalText parses the "<amount> DD.MM.YYYY" goal shorthand, e.g.
// "50000 31.12.2025". Either a plain integer amount or a decimal works.
func parseGoalText(text string, location *time.Location) (decimal.Decimal, time.Time, error) {
	parts := strings.Fields(strings.TrimSpace(text))
	if len(parts) != 2 {
		return decimal.Zero, time.Time{}, errors.New(`goal must look like "<amount> DD.MM.YYYY"`)
	}

	amount, err := decimal.NewFromString(parts[0])
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, time.Time{}, core.ErrInvalidAmount
	}

	deadline, err := time.ParseInLocation(goalDateLayout, parts[1], location)
	if err != nil {
		return decimal.Zero, time.Time{}, core.ErrInvalidDeadline
	}

	return amount, deadline, nil
}
