// Package notify delivers admitted alerts to external webhooks.
package notify

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"net/http"
	"time"

	"argus/core"

	"go.uber.org/zap"
)

var severityOrder = map[core.Severity]int{
	core.SeverityLow:    1,
	core.SeverityMedium: 2,
	core.SeverityHigh:   3,
}

// WebhookNotifier posts admitted alerts to a configured URL. A zero URL
// disables delivery; NotifyAlert then becomes a no-op.
type WebhookNotifier struct {
	url         string
	minSeverity core.Severity
	client      *http.Client
	logger      *zap.SugaredLogger
}

// NewWebhookNotifier creates a webhook notifier. minSeverity filters out
// alerts below the configured level; empty means notify everything.
func NewWebhookNotifier(url string, minSeverity core.Severity, logger *zap.SugaredLogger) *WebhookNotifier {
	return &WebhookNotifier{
		url:         url,
		minSeverity: minSeverity,
		client: &http.Client{
			Timeout: 10 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
			},
		},
		logger: logger,
	}
}

// NotifyAlert delivers one alert. Failures are logged, never retried; the
// webhook is a best-effort side channel, not the system of record.
func (n *WebhookNotifier) NotifyAlert(alert *core.Alert) {
	if n.url == "" {
		return
	}
	if n.minSeverity != "" && severityOrder[alert.Severity] < severityOrder[n.minSeverity] {
		n.logger.Debugw("Alert below notification severity threshold",
			"alert_id", alert.AlertID,
			"severity", alert.Severity)
		return
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		n.logger.Errorw("Failed to marshal alert for webhook", "error", err)
		return
	}

	resp, err := n.client.Post(n.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		n.logger.Errorw("Webhook delivery failed",
			"alert_id", alert.AlertID,
			"error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		n.logger.Warnw("Webhook returned error status",
			"alert_id", alert.AlertID,
			"status", resp.StatusCode)
		return
	}
	n.logger.Debugw("Webhook delivered", "alert_id", alert.AlertID, "status", resp.StatusCode)
}
