package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/leadflow?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, q: postgresQueries}}, nil
}

var postgresQueries = queries{
	schema: []string{
		`CREATE TABLE IF NOT EXISTS automation_fallback (
			id BIGSERIAL PRIMARY KEY,
			fallback_key TEXT NOT NULL UNIQUE,
			workflow_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			payload_json JSONB NOT NULL,
			error TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fallback_created ON automation_fallback(created_at)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id TEXT PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			context_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_ts ON alerts(ts)`,
	},
	insertFallback: `INSERT INTO automation_fallback (fallback_key, workflow_id, session_id, payload_json, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
	listFallback: `SELECT fallback_key, workflow_id, session_id, payload_json::text, error, created_at
		FROM automation_fallback ORDER BY created_at DESC, id DESC LIMIT $1`,
	insertAlert: `INSERT INTO alerts (id, ts, alert_type, severity, context_json)
		VALUES ($1, $2, $3, $4, $5)`,
}
