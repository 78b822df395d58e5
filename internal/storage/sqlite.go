package storage

import (
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

// NewSQLite opens a SQLite database; an empty DSN uses leadflow.db.
func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:leadflow.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	return &sqliteStore{baseStore{db: db, q: sqliteQueries}}, nil
}

var sqliteQueries = queries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS automation_fallback (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			fallback_key TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			payload_json TEXT NOT NULL,
			error TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fallback_created ON automation_fallback(created_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMP NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			context_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
	insertFallback: `INSERT INTO automation_fallback (fallback_key, workflow_id, session_id, payload_json, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
	listFallback: `SELECT fallback_key, workflow_id, session_id, payload_json, error, created_at
		FROM automation_fallback ORDER BY created_at DESC, id DESC LIMIT ?`,
	insertAlert: `INSERT INTO alerts (id, ts, alert_type, severity, context_json)
		VALUES (?, ?, ?, ?, ?)`,
}
