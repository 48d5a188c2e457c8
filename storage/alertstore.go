package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

const (
	insertRetries   = 3
	insertBackoff   = 100 * time.Millisecond
	maxRecentAlerts = 500
)

// AlertStore persists alerts to SQLite and serves the read side for UI
// collaborators. It implements core.AlertSink.
type AlertStore struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// AlertStats summarizes persisted alerts for the stats endpoint.
type AlertStats struct {
	TotalAlerts  int64 `json:"total_alerts"`
	AlertsLast24 int64 `json:"alerts_last_24h"`
}

// NewAlertStore creates an alert store over an open SQLite handle.
func NewAlertStore(sqlite *SQLite, logger *zap.SugaredLogger) *AlertStore {
	return &AlertStore{sqlite: sqlite, logger: logger}
}

// Store inserts an alert, retrying transient failures a bounded number of
// times. The engine calls this off the hot path and broadcasts regardless
// of the outcome.
func (s *AlertStore) Store(ctx context.Context, alert *core.Alert) error {
	const query = `
INSERT INTO alerts (alert_id, rule_id, type, severity, description, timestamp, source, ip, window_key, evidence)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var lastErr error
	backoff := insertBackoff
	for attempt := 0; attempt < insertRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		_, lastErr = s.sqlite.DB.ExecContext(ctx, query,
			alert.AlertID,
			alert.RuleID,
			alert.Type,
			string(alert.Severity),
			alert.Description,
			alert.Timestamp.UTC().Format(time.RFC3339Nano),
			alert.Source,
			alert.IP,
			alert.Key,
			alert.Evidence,
		)
		if lastErr == nil {
			return nil
		}
		s.logger.Warnw("Alert insert failed",
			"alert_id", alert.AlertID,
			"attempt", attempt+1,
			"error", lastErr)
	}
	return fmt.Errorf("failed to store alert after %d attempts: %w", insertRetries, lastErr)
}

// RecentAlerts returns the newest alerts, most recent first.
func (s *AlertStore) RecentAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	if limit < 1 || limit > maxRecentAlerts {
		limit = maxRecentAlerts
	}
	const query = `
SELECT alert_id, rule_id, type, severity, description, timestamp, source, ip, window_key, evidence
FROM alerts ORDER BY timestamp DESC LIMIT ?`

	rows, err := s.sqlite.DB.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent alerts: %w", err)
	}
	defer rows.Close()

	alerts := make([]core.Alert, 0, limit)
	for rows.Next() {
		var (
			a   core.Alert
			sev string
			ts  string
			ip  sql.NullString
			key sql.NullString
		)
		if err := rows.Scan(&a.AlertID, &a.RuleID, &a.Type, &sev, &a.Description, &ts, &a.Source, &ip, &key, &a.Evidence); err != nil {
			return nil, fmt.Errorf("failed to scan alert row: %w", err)
		}
		a.Severity = core.Severity(sev)
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			a.Timestamp = t
		}
		a.IP = ip.String
		a.Key = key.String
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Stats returns persisted alert totals.
func (s *AlertStore) Stats(ctx context.Context) (*AlertStats, error) {
	stats := &AlertStats{}
	if err := s.sqlite.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&stats.TotalAlerts); err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	cutoff := time.Now().Add(-24 * time.Hour).UTC().Format(time.RFC3339Nano)
	if err := s.sqlite.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts WHERE timestamp >= ?`, cutoff).Scan(&stats.AlertsLast24); err != nil {
		return nil, fmt.Errorf("failed to count recent alerts: %w", err)
	}
	return stats, nil
}
