package core

import (
	"regexp"
	"time"
)

// WindowStore is the stateful backend for windowed rules. Keys are opaque
// strings namespaced per rule; a rule's keys never collide with another
// rule's. Both operations record the observation and return the aggregate
// for the trailing window ending at ts.
type WindowStore interface {
	// RecordCount appends an occurrence for key and returns the number of
	// occurrences with timestamps in [ts-window, ts].
	RecordCount(ruleID, key string, ts time.Time, window time.Duration) int
	// RecordDistinct appends a (ts, value) observation for key and returns
	// the number of distinct values recorded in [ts-window, ts].
	RecordDistinct(ruleID, key string, ts time.Time, window time.Duration, value string) int
}

// Firing describes a single rule match against one event.
type Firing struct {
	Key         string
	IP          string
	Evidence    int
	Description string
}

// Rule is a detection predicate, stateless (pattern) or stateful (windowed
// count/distinct). Rules are independent: evaluation order across rules for
// one event must not affect the outcome.
type Rule interface {
	ID() string
	Type() string
	Severity() Severity
	// Cooldown is the minimum interval between successive admitted alerts
	// for the same (rule, key).
	Cooldown() time.Duration
	// Evaluate inspects the event, updating windows as a side effect for
	// stateful variants, and reports whether the rule fires.
	Evaluate(event *Event, windows WindowStore) (*Firing, bool)
}

// ipPattern extracts an incidental dotted-quad from a message.
var ipPattern = regexp.MustCompile(`(\d+\.\d+\.\d+\.\d+)`)

// PatternRule fires when a single event's message matches a compiled
// pattern. Stateless; evaluated independently per event.
type PatternRule struct {
	RuleID      string
	AlertType   string
	Level       Severity
	CooldownDur time.Duration
	Pattern     *regexp.Regexp
	// Describe builds the alert description from the matched IP, which may
	// be empty when the message carries none.
	Describe func(ip string) string
}

func (r *PatternRule) ID() string              { return r.RuleID }
func (r *PatternRule) Type() string            { return r.AlertType }
func (r *PatternRule) Severity() Severity      { return r.Level }
func (r *PatternRule) Cooldown() time.Duration { return r.CooldownDur }

func (r *PatternRule) Evaluate(event *Event, _ WindowStore) (*Firing, bool) {
	if event.Message == "" || !r.Pattern.MatchString(event.Message) {
		return nil, false
	}
	ip := ipPattern.FindString(event.Message)
	return &Firing{
		Key:         ip,
		IP:          ip,
		Description: r.Describe(ip),
	}, true
}

// CountWindowRule fires when at least Threshold occurrences for the same key
// fall within the trailing Window. The key is attacker-controlled (typically
// a source IP), so state lives in the bounded WindowStore.
type CountWindowRule struct {
	RuleID      string
	AlertType   string
	Level       Severity
	Window      time.Duration
	Threshold   int
	CooldownDur time.Duration
	// ExtractKey returns the windowing key for an event, or false when the
	// event is not relevant to this rule.
	ExtractKey func(event *Event) (string, bool)
	Describe   func(key string, count int) string
}

func (r *CountWindowRule) ID() string         { return r.RuleID }
func (r *CountWindowRule) Type() string       { return r.AlertType }
func (r *CountWindowRule) Severity() Severity { return r.Level }

func (r *CountWindowRule) Cooldown() time.Duration {
	if r.CooldownDur > 0 {
		return r.CooldownDur
	}
	return r.Window
}

func (r *CountWindowRule) Evaluate(event *Event, windows WindowStore) (*Firing, bool) {
	key, ok := r.ExtractKey(event)
	if !ok {
		return nil, false
	}
	count := windows.RecordCount(r.RuleID, key, event.Timestamp, r.Window)
	if count < r.Threshold {
		return nil, false
	}
	return &Firing{
		Key:         key,
		IP:          key,
		Evidence:    count,
		Description: r.Describe(key, count),
	}, true
}

// DistinctWindowRule fires when the number of distinct secondary values for
// the same key within the trailing Window reaches Threshold.
type DistinctWindowRule struct {
	RuleID      string
	AlertType   string
	Level       Severity
	Window      time.Duration
	Threshold   int
	CooldownDur time.Duration
	// Extract returns the windowing key and the secondary value, or false
	// when the event is not relevant to this rule.
	Extract  func(event *Event) (key, value string, ok bool)
	Describe func(key string, distinct int) string
}

func (r *DistinctWindowRule) ID() string         { return r.RuleID }
func (r *DistinctWindowRule) Type() string       { return r.AlertType }
func (r *DistinctWindowRule) Severity() Severity { return r.Level }

func (r *DistinctWindowRule) Cooldown() time.Duration {
	if r.CooldownDur > 0 {
		return r.CooldownDur
	}
	return r.Window
}

func (r *DistinctWindowRule) Evaluate(event *Event, windows WindowStore) (*Firing, bool) {
	key, value, ok := r.Extract(event)
	if !ok {
		return nil, false
	}
	distinct := windows.RecordDistinct(r.RuleID, key, event.Timestamp, r.Window, value)
	if distinct < r.Threshold {
		return nil, false
	}
	return &Firing{
		Key:         key,
		IP:          key,
		Evidence:    distinct,
		Description: r.Describe(key, distinct),
	}, true
}
