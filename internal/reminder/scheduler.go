package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Notifier delivers a fired reminder to the user. The chat transport
// implements this; the default just logs.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string) error
}

// LogNotifier writes fired reminders to the log. Used when no transport
// is wired in.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID int64, text string) error {
	slog.InfoContext(ctx, "Reminder fired", "user_id", userID, "text", text)
	return nil
}

// Scheduler holds consumed reminders until their fire time and hands due
// ones to the notifier. Missed-fire recovery is not attempted: anything
// already due on arrival fires immediately, per the fire-and-forget
// contract.
type Scheduler struct {
	mu       sync.Mutex
	pending  []*Message
	notifier Notifier

	// now is swapped in tests
	now func() time.Time
}

func NewScheduler(notifier Notifier) *Scheduler {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Scheduler{
		notifier: notifier,
		now:      time.Now,
	}
}

// HandleMessage accepts one consumed reminder. Due reminders fire
// immediately; future ones are parked until FireAt.
func (s *Scheduler) HandleMessage(ctx context.Context, msg *Message) error {
	if msg.Due(s.now()) {
		return s.fire(ctx, msg)
	}

	s.mu.Lock()
	s.pending = append(s.pending, msg)
	pending := len(s.pending)
	s.mu.Unlock()

	slog.InfoContext(ctx, "Reminder parked",
		"user_id", msg.UserID,
		"fire_at", msg.FireAt,
		"pending", pending)

	return nil
}

// Run fires parked reminders as they come due, polling at the given
// interval, until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.FireDue(ctx)
		}
	}
}

// FireDue delivers every parked reminder whose time has come. Failed
// deliveries stay parked for the next tick.
func (s *Scheduler) FireDue(ctx context.Context) int {
	now := s.now()

	s.mu.Lock()
	var due, rest []*Message
	for _, msg := range s.pending {
		if msg.Due(now) {
			due = append(due, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	s.pending = rest
	s.mu.Unlock()

	fired := 0
	for _, msg := range due {
		if err := s.fire(ctx, msg); err != nil {
			slog.ErrorContext(ctx, "Reminder delivery failed, retrying next tick",
				"user_id", msg.UserID, "error", err)
			s.mu.Lock()
			s.pending = append(s.pending, msg)
			s.mu.Unlock()
			continue
		}
		fired++
	}

	return fired
}

// Pending returns the number of parked reminders.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) fire(ctx context.Context, msg *Message) error {
	if err := s.notifier.Notify(ctx, msg.UserID, msg.Text); err != nil {
		return fmt.Errorf("notify user %d: %w", msg.UserID, err)
	}
	return nil
}
