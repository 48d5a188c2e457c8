package core

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Severity classifies the impact of an alert.
type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// Alert is one accepted rule firing. Timestamp is the triggering event's
// timestamp. Alerts are immutable once built; the sink and the broadcast hub
// both receive the same value and neither mutates it.
type Alert struct {
	AlertID     string    `json:"alert_id"`
	RuleID      string    `json:"rule_id"`
	Type        string    `json:"type"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
	Source      string    `json:"source"`
	IP          string    `json:"ip,omitempty"`
	Key         string    `json:"key,omitempty"`
	Evidence    int       `json:"evidence,omitempty"`
}

// NewAlert builds an Alert for a rule firing against an event.
func NewAlert(rule Rule, event *Event, firing *Firing) *Alert {
	return &Alert{
		AlertID:     uuid.New().String(),
		RuleID:      rule.ID(),
		Type:        rule.Type(),
		Severity:    rule.Severity(),
		Description: firing.Description,
		Timestamp:   event.Timestamp,
		Source:      event.Source,
		IP:          firing.IP,
		Key:         firing.Key,
		Evidence:    firing.Evidence,
	}
}

// AlertSink persists admitted alerts. Implementations retry a bounded number
// of times; the engine calls this off the hot path and still broadcasts when
// persistence fails.
type AlertSink interface {
	Store(ctx context.Context, alert *Alert) error
}
