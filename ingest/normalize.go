// Package ingest converts raw incoming records into canonical events.
// Drop-or-dead-letter policy for malformed input belongs to the caller.
package ingest

import (
	"fmt"
	"strings"
	"time"

	"argus/core"
)

// Reason classifies why a record could not be normalized.
type Reason string

const (
	ReasonMissingField        Reason = "missing_field"
	ReasonUnparsableTimestamp Reason = "unparsable_timestamp"
)

// NormalizationError reports malformed input. It is never fatal to the
// engine; callers drop or dead-letter the record.
type NormalizationError struct {
	Reason Reason
	Field  string
	Value  string
}

func (e *NormalizationError) Error() string {
	switch e.Reason {
	case ReasonMissingField:
		return fmt.Sprintf("normalization failed: missing field %q", e.Field)
	case ReasonUnparsableTimestamp:
		return fmt.Sprintf("normalization failed: unparsable timestamp %q", e.Value)
	}
	return "normalization failed"
}

// timestampLayouts are tried in order for string timestamps. The original
// agents emit ISO-8601 with or without a zone designator.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Normalize converts an arbitrary decoded record into a canonical Event.
// Required fields are source, timestamp, and message; any remaining fields
// are carried through verbatim. No side effects beyond parsing.
func Normalize(record map[string]interface{}) (*core.Event, error) {
	source, ok := stringField(record, "source")
	if !ok {
		return nil, &NormalizationError{Reason: ReasonMissingField, Field: "source"}
	}
	message, ok := stringField(record, "message")
	if !ok {
		return nil, &NormalizationError{Reason: ReasonMissingField, Field: "message"}
	}
	rawTS, ok := record["timestamp"]
	if !ok || rawTS == nil {
		return nil, &NormalizationError{Reason: ReasonMissingField, Field: "timestamp"}
	}
	ts, err := parseTimestamp(rawTS)
	if err != nil {
		return nil, err
	}

	event := core.NewEvent(source, ts, message)
	for k, v := range record {
		switch k {
		case "source", "timestamp", "message":
			continue
		}
		if event.Fields == nil {
			event.Fields = make(map[string]interface{})
		}
		event.Fields[k] = v
	}
	return event, nil
}

func stringField(record map[string]interface{}, name string) (string, bool) {
	v, ok := record[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// parseTimestamp accepts an already-typed time, an ISO-8601 string, or a
// Unix-seconds number (the fluent-forward wire encoding).
func parseTimestamp(v interface{}) (time.Time, error) {
	switch ts := v.(type) {
	case time.Time:
		return ts, nil
	case string:
		for _, layout := range timestampLayouts {
			if t, err := time.Parse(layout, ts); err == nil {
				return t, nil
			}
		}
		// Agents sometimes append a bare Z to a zoneless timestamp.
		if trimmed := strings.TrimSuffix(ts, "Z"); trimmed != ts {
			for _, layout := range timestampLayouts {
				if t, err := time.Parse(layout, trimmed); err == nil {
					return t.UTC(), nil
				}
			}
		}
		return time.Time{}, &NormalizationError{Reason: ReasonUnparsableTimestamp, Value: ts}
	case int64:
		return time.Unix(ts, 0), nil
	case uint64:
		return time.Unix(int64(ts), 0), nil
	case float64:
		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), nil
	}
	return time.Time{}, &NormalizationError{
		Reason: ReasonUnparsableTimestamp,
		Value:  fmt.Sprintf("%v", v),
	}
}
