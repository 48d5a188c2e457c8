package core

import (
	"time"

	"github.com/google/uuid"
)

// Event is one canonicalized log record. Timestamp is event-time, not
// receipt-time, and drives all windowing. Events are never mutated after
// creation; rules receive them by read-only reference.
type Event struct {
	EventID   string                 `json:"event_id"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewEvent creates a new Event with a generated UUID.
func NewEvent(source string, ts time.Time, message string) *Event {
	return &Event{
		EventID:   uuid.New().String(),
		Source:    source,
		Timestamp: ts.UTC(),
		Message:   message,
	}
}
