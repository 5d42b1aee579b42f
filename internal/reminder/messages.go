package reminder

import (
	"encoding/json"
	"time"
)

// Message is one scheduled reminder: deliver Text to UserID at FireAt.
// The core treats this as fire-and-forget; delivery guarantees belong to
// the consumer side.
type Message struct {
	UserID    int64     `json:"user_id"`
	Text      string    `json:"text"`
	FireAt    time.Time `json:"fire_at"`
	Timestamp time.Time `json:"timestamp"`
}

// NewMessage creates a reminder message stamped with the current time.
func NewMessage(userID int64, text string, fireAt time.Time) *Message {
	return &Message{
		UserID:    userID,
		Text:      text,
		FireAt:    fireAt,
		Timestamp: time.Now(),
	}
}

// Due reports whether the reminder should fire at the given moment.
func (m *Message) Due(now time.Time) bool {
	return !now.Before(m.FireAt)
}

// ToJSON converts the message to JSON bytes
func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// MessageFromJSON creates a message from JSON bytes
func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
