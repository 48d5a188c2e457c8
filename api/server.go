package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/ingest"
	"argus/storage"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// maxBodyBytes bounds a single ingestion request body.
const maxBodyBytes = 1 << 20

// Ingestor accepts raw log records for correlation.
type Ingestor interface {
	Ingest(record map[string]interface{}) error
}

// AlertReader serves the alert read endpoints.
type AlertReader interface {
	RecentAlerts(ctx context.Context, limit int) ([]core.Alert, error)
	Stats(ctx context.Context) (*storage.AlertStats, error)
}

// Server is the HTTP surface: log ingestion, alert reads, WebSocket
// streams, metrics, and health.
type Server struct {
	router  *mux.Router
	server  *http.Server
	engine  Ingestor
	alerts  AlertReader
	hub     *Hub
	limiter *rate.Limiter
	config  *config.Config
	logger  *zap.SugaredLogger
}

// NewServer creates the API server and wires its routes.
func NewServer(engine Ingestor, alerts AlertReader, hub *Hub, cfg *config.Config, logger *zap.SugaredLogger) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		engine:  engine,
		alerts:  alerts,
		hub:     hub,
		limiter: rate.NewLimiter(rate.Limit(cfg.Engine.RateLimit), cfg.Engine.RateLimit*2),
		config:  cfg,
		logger:  logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/api/v1/logs", s.ingestLog).Methods("POST")
	s.router.HandleFunc("/api/v1/alerts", s.getAlerts).Methods("GET")
	s.router.HandleFunc("/api/v1/stats", s.getStats).Methods("GET")
	s.router.HandleFunc("/ws/alerts", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.hub, StreamAlerts, s.logger, w, r)
	})
	s.router.HandleFunc("/ws/logs", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.hub, StreamLogs, s.logger, w, r)
	})
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.HandleFunc("/healthz", s.healthCheck).Methods("GET")
}

// Start runs the HTTP server. Blocks until shutdown or listen failure.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.API.Host, s.config.API.Port)
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Infow("API server listening", "addr", addr)
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ingestLog accepts one raw log record, JSON by default or msgpack when the
// Content-Type says so. 202 means accepted for asynchronous correlation.
func (s *Server) ingestLog(w http.ResponseWriter, r *http.Request) {
	if !s.limiter.Allow() {
		writeJSONError(w, http.StatusTooManyRequests, "ingestion rate limit exceeded")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	var record map[string]interface{}
	if strings.Contains(r.Header.Get("Content-Type"), "msgpack") {
		err = msgpack.Unmarshal(body, &record)
	} else {
		err = json.Unmarshal(body, &record)
	}
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not a valid record")
		return
	}

	if err := s.engine.Ingest(record); err != nil {
		var nerr *ingest.NormalizationError
		switch {
		case errors.As(err, &nerr):
			writeJSONError(w, http.StatusBadRequest, nerr.Error())
		case errors.Is(err, detect.ErrQueueFull), errors.Is(err, detect.ErrEngineNotRunning):
			writeJSONError(w, http.StatusServiceUnavailable, "engine is not accepting events")
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to ingest record")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) getAlerts(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	alerts, err := s.alerts.RecentAlerts(r.Context(), limit)
	if err != nil {
		s.logger.Errorw("Failed to read alerts", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.alerts.Stats(r.Context())
	if err != nil {
		s.logger.Errorw("Failed to read alert stats", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to read stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
