package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIngestor struct {
	err     error
	records []map[string]interface{}
}

func (f *fakeIngestor) Ingest(record map[string]interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

type fakeAlertReader struct {
	alerts []core.Alert
	stats  storage.AlertStats
}

func (f *fakeAlertReader) RecentAlerts(ctx context.Context, limit int) ([]core.Alert, error) {
	if limit < len(f.alerts) {
		return f.alerts[:limit], nil
	}
	return f.alerts, nil
}

func (f *fakeAlertReader) Stats(ctx context.Context) (*storage.AlertStats, error) {
	return &f.stats, nil
}

func newTestServer(t *testing.T, engine Ingestor, reader AlertReader) *Server {
	t.Helper()
	cfg := &config.Config{}
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 8081
	cfg.Engine.RateLimit = 1000

	logger := zap.NewNop().Sugar()
	hub := NewHub(context.Background(), logger)
	hub.Start()
	t.Cleanup(hub.Stop)
	return NewServer(engine, reader, hub, cfg, logger)
}

func TestIngestLogAccepted(t *testing.T) {
	engine := &fakeIngestor{}
	srv := newTestServer(t, engine, &fakeAlertReader{})

	body := `{"source":"auth","timestamp":"2026-03-01T12:00:00Z","message":"Failed password for root from 10.0.0.1 port 22 ssh2"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, engine.records, 1)
	assert.Equal(t, "auth", engine.records[0]["source"])
}

func TestIngestLogRejectsInvalidBody(t *testing.T) {
	srv := newTestServer(t, &fakeIngestor{}, &fakeAlertReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(`{broken`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestLogNormalizationFailureIs400(t *testing.T) {
	engine := &fakeIngestor{err: &ingest.NormalizationError{Reason: ingest.ReasonMissingField, Field: "source"}}
	srv := newTestServer(t, engine, &fakeAlertReader{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(`{"message":"m"}`))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "source")
}

func TestIngestLogQueueFullIs503(t *testing.T) {
	engine := &fakeIngestor{err: detect.ErrQueueFull}
	srv := newTestServer(t, engine, &fakeAlertReader{})

	body := `{"source":"s","timestamp":"2026-03-01T12:00:00Z","message":"m"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestLogRateLimited(t *testing.T) {
	engine := &fakeIngestor{}
	srv := newTestServer(t, engine, &fakeAlertReader{})
	srv.limiter.SetLimit(0)
	srv.limiter.SetBurst(0)

	body := `{"source":"s","timestamp":"2026-03-01T12:00:00Z","message":"m"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/logs", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Empty(t, engine.records)
}

func TestGetAlerts(t *testing.T) {
	reader := &fakeAlertReader{alerts: []core.Alert{
		{AlertID: "a1", RuleID: "root-login", Severity: core.SeverityHigh, Timestamp: time.Now()},
		{AlertID: "a2", RuleID: "port-scan", Severity: core.SeverityMedium, Timestamp: time.Now()},
	}}
	srv := newTestServer(t, &fakeIngestor{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Alerts []core.Alert `json:"alerts"`
		Count  int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "a1", resp.Alerts[0].AlertID)
}

func TestGetAlertsHonorsLimit(t *testing.T) {
	reader := &fakeAlertReader{alerts: []core.Alert{{AlertID: "a1"}, {AlertID: "a2"}, {AlertID: "a3"}}}
	srv := newTestServer(t, &fakeIngestor{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/alerts?limit=2", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
}

func TestGetStats(t *testing.T) {
	reader := &fakeAlertReader{stats: storage.AlertStats{TotalAlerts: 42, AlertsLast24: 7}}
	srv := newTestServer(t, &fakeIngestor{}, reader)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/stats", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var stats storage.AlertStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, int64(42), stats.TotalAlerts)
	assert.Equal(t, int64(7), stats.AlertsLast24)
}

func TestHealthCheck(t *testing.T) {
	srv := newTestServer(t, &fakeIngestor{}, &fakeAlertReader{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
