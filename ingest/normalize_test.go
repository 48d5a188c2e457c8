package ingest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValidRecord(t *testing.T) {
	event, err := Normalize(map[string]interface{}{
		"source":    "auth",
		"timestamp": "2026-03-01T12:00:00Z",
		"message":   "Failed password for root from 10.0.0.5 port 22 ssh2",
		"extra":     42,
	})
	require.NoError(t, err)
	assert.Equal(t, "auth", event.Source)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), event.Timestamp)
	assert.NotEmpty(t, event.EventID)
	assert.Equal(t, 42, event.Fields["extra"])
}

func TestNormalizeMissingFields(t *testing.T) {
	cases := []struct {
		name   string
		record map[string]interface{}
		field  string
	}{
		{"no source", map[string]interface{}{"timestamp": "2026-03-01T12:00:00Z", "message": "m"}, "source"},
		{"no message", map[string]interface{}{"source": "s", "timestamp": "2026-03-01T12:00:00Z"}, "message"},
		{"no timestamp", map[string]interface{}{"source": "s", "message": "m"}, "timestamp"},
		{"empty source", map[string]interface{}{"source": "", "timestamp": "2026-03-01T12:00:00Z", "message": "m"}, "source"},
		{"non-string message", map[string]interface{}{"source": "s", "timestamp": "2026-03-01T12:00:00Z", "message": 7}, "message"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.record)
			require.Error(t, err)
			nerr, ok := err.(*NormalizationError)
			require.True(t, ok)
			assert.Equal(t, ReasonMissingField, nerr.Reason)
			assert.Equal(t, tc.field, nerr.Field)
		})
	}
}

func TestNormalizeTimestampFormats(t *testing.T) {
	cases := []struct {
		name string
		ts   interface{}
	}{
		{"rfc3339", "2026-03-01T12:00:00Z"},
		{"rfc3339 nano", "2026-03-01T12:00:00.123456789Z"},
		{"zoneless", "2026-03-01T12:00:00"},
		{"space separated", "2026-03-01 12:00:00"},
		{"zoneless with bare Z", "2026-03-01T12:00:00.500000Z"},
		{"unix seconds float", 1772452800.5},
		{"unix seconds int", int64(1772452800)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			event, err := Normalize(map[string]interface{}{
				"source":    "s",
				"timestamp": tc.ts,
				"message":   "m",
			})
			require.NoError(t, err)
			assert.False(t, event.Timestamp.IsZero())
		})
	}
}

func TestNormalizeUnparsableTimestamp(t *testing.T) {
	_, err := Normalize(map[string]interface{}{
		"source":    "s",
		"timestamp": "yesterday at noon",
		"message":   "m",
	})
	require.Error(t, err)
	nerr, ok := err.(*NormalizationError)
	require.True(t, ok)
	assert.Equal(t, ReasonUnparsableTimestamp, nerr.Reason)
}

func TestNormalizeTimestampIsUTC(t *testing.T) {
	event, err := Normalize(map[string]interface{}{
		"source":    "s",
		"timestamp": "2026-03-01T14:00:00+02:00",
		"message":   "m",
	})
	require.NoError(t, err)
	assert.Equal(t, time.UTC, event.Timestamp.Location())
	assert.Equal(t, 12, event.Timestamp.Hour())
}

func TestParseJSON(t *testing.T) {
	event, err := ParseJSON([]byte(`{"source":"web","timestamp":"2026-03-01T12:00:00Z","message":"GET /"}`))
	require.NoError(t, err)
	assert.Equal(t, "web", event.Source)

	_, err = ParseJSON([]byte(`{not json`))
	assert.Error(t, err)

	_, err = ParseJSON([]byte(`["not","an","object"]`))
	assert.Error(t, err)
}
