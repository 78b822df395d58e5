package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/gosight/gosight/leadflow/internal/config"
)

// ClickHouse writes analytics notifications and lead session snapshots.
type ClickHouse struct {
	conn driver.Conn
}

// AnalyticsRow represents a row in the analytics_events table
type AnalyticsRow struct {
	EventID   string
	EventName string
	SessionID string
	Timestamp time.Time
	Params    string
}

// LeadSessionRow represents a row in the lead_sessions table
type LeadSessionRow struct {
	SessionID      string
	StartedAt      time.Time
	LastActivity   time.Time
	Score          uint32
	Tier           string
	ContentScore   uint32
	BehaviorScore  uint32
	IntentScore    uint32
	GeographyScore uint32
	UrgencyScore   uint32
	PageViews      uint32
	Interactions   uint32
	FunnelEvents   uint32
	Workflows      []string
	Region         string
	Device         string
	Referrer       string
}

func NewClickHouse(cfg config.ClickHouseConfig) (*ClickHouse, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		MaxOpenConns: cfg.MaxOpenConns,
		MaxIdleConns: cfg.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := conn.Ping(context.Background()); err != nil {
		return nil, err
	}

	return &ClickHouse{conn: conn}, nil
}

func (c *ClickHouse) InsertAnalytics(ctx context.Context, events []AnalyticsRow) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO analytics_events (
			event_id, event_name, session_id, timestamp, params
		)
	`)
	if err != nil {
		return err
	}

	for _, e := range events {
		if err := batch.Append(e.EventID, e.EventName, e.SessionID, e.Timestamp, e.Params); err != nil {
			return err
		}
	}

	return batch.Send()
}

// InsertLeadSessions appends session snapshots; the table is expected to
// be a ReplacingMergeTree keyed by session_id.
func (c *ClickHouse) InsertLeadSessions(ctx context.Context, sessions []LeadSessionRow) error {
	if len(sessions) == 0 {
		return nil
	}

	batch, err := c.conn.PrepareBatch(ctx, `
		INSERT INTO lead_sessions (
			session_id, started_at, last_activity,
			score, tier,
			content_score, behavior_score, intent_score, geography_score, urgency_score,
			page_views, interactions, funnel_events, workflows,
			region, device, referrer
		)
	`)
	if err != nil {
		return err
	}

	for _, s := range sessions {
		err := batch.Append(
			s.SessionID, s.StartedAt, s.LastActivity,
			s.Score, s.Tier,
			s.ContentScore, s.BehaviorScore, s.IntentScore, s.GeographyScore, s.UrgencyScore,
			s.PageViews, s.Interactions, s.FunnelEvents, s.Workflows,
			s.Region, s.Device, s.Referrer,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (c *ClickHouse) Close() error {
	return c.conn.Close()
}
