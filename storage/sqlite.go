package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLite holds the database connection for alert persistence.
type SQLite struct {
	DB     *sql.DB
	Path   string
	Logger *zap.SugaredLogger
}

// NewSQLite opens (creating if needed) the SQLite database and applies the
// standard pragmas. WAL mode keeps reads concurrent with the insert path.
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// modernc.org/sqlite serializes writes; a single writer avoids
	// SQLITE_BUSY churn under concurrent dispatch.
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	s := &SQLite{DB: db, Path: dbPath, Logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Infow("SQLite database opened", "path", dbPath)
	return s, nil
}

func (s *SQLite) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	alert_id    TEXT PRIMARY KEY,
	rule_id     TEXT NOT NULL,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	description TEXT NOT NULL,
	timestamp   TEXT NOT NULL,
	source      TEXT NOT NULL,
	ip          TEXT,
	window_key  TEXT,
	evidence    INTEGER NOT NULL DEFAULT 0,
	created_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
);
CREATE INDEX IF NOT EXISTS idx_alerts_timestamp ON alerts(timestamp);
CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id);
`
	if _, err := s.DB.Exec(schema); err != nil {
		return fmt.Errorf("failed to migrate alerts schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() {
	if err := s.DB.Close(); err != nil {
		s.Logger.Errorw("Failed to close SQLite database", "error", err)
	}
}
