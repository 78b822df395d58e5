package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
)

// FallbackRecord is an automation payload that could not be delivered.
type FallbackRecord struct {
	Key        string          `json:"key"`
	WorkflowID string          `json:"workflow_id"`
	SessionID  string          `json:"session_id"`
	Payload    json.RawMessage `json:"payload"`
	Error      string          `json:"error"`
	CreatedAt  time.Time       `json:"created_at"`
}

// AlertRecord is a persisted monitor alert.
type AlertRecord struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context"`
}

// Store is the local SQL store for failed dispatches and raised alerts.
type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveFallback(ctx context.Context, rec FallbackRecord) error
	ListFallback(ctx context.Context, limit int) ([]FallbackRecord, error)
	SaveAlert(ctx context.Context, alert AlertRecord) error
}

// NewStore opens the configured SQL driver.
func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// queries holds the driver-specific SQL.
type queries struct {
	schema         []string
	insertFallback string
	listFallback   string
	insertAlert    string
}

type baseStore struct {
	db *sql.DB
	q  queries
}

func (b *baseStore) Init(ctx context.Context) error {
	if b.db == nil {
		return nil
	}
	for _, stmt := range b.q.schema {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

func (b *baseStore) SaveFallback(ctx context.Context, rec FallbackRecord) error {
	if b.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = nowUTC()
	}
	_, err := b.db.ExecContext(ctx, b.q.insertFallback,
		rec.Key,
		rec.WorkflowID,
		rec.SessionID,
		string(rec.Payload),
		rec.Error,
		rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save fallback %q: %w", rec.Key, err)
	}
	return nil
}

// ListFallback returns the most recent records first.
func (b *baseStore) ListFallback(ctx context.Context, limit int) ([]FallbackRecord, error) {
	if b.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, b.q.listFallback, limit)
	if err != nil {
		return nil, fmt.Errorf("list fallback: %w", err)
	}
	defer rows.Close()

	var out []FallbackRecord
	for rows.Next() {
		var (
			rec     FallbackRecord
			payload string
		)
		if err := rows.Scan(&rec.Key, &rec.WorkflowID, &rec.SessionID, &payload, &rec.Error, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("list fallback: scan: %w", err)
		}
		rec.Payload = json.RawMessage(payload)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *baseStore) SaveAlert(ctx context.Context, alert AlertRecord) error {
	if b.db == nil {
		return nil
	}
	_, err := b.db.ExecContext(ctx, b.q.insertAlert,
		alert.ID,
		alert.Timestamp.UTC(),
		alert.Type,
		alert.Severity,
		encodeJSON(alert.Context),
	)
	if err != nil {
		return fmt.Errorf("save alert %q: %w", alert.ID, err)
	}
	return nil
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
