package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/storage"
)

// SnapshotWriter receives session snapshots; *storage.ClickHouse
// implements it.
type SnapshotWriter interface {
	InsertLeadSessions(ctx context.Context, rows []storage.LeadSessionRow) error
}

// Exporter periodically copies sessions that changed since the last run
// into the analytics warehouse.
type Exporter struct {
	store    Store
	writer   SnapshotWriter
	interval time.Duration

	mu      sync.Mutex
	lastRun time.Time
	done    chan struct{}
}

// NewExporter creates a new session exporter
func NewExporter(store Store, writer SnapshotWriter, interval time.Duration) *Exporter {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Exporter{
		store:    store,
		writer:   writer,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start runs the export loop until ctx is cancelled or Stop is called.
func (x *Exporter) Start(ctx context.Context) {
	ticker := time.NewTicker(x.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-x.done:
			return
		case <-ticker.C:
			if _, err := x.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("Failed to export sessions")
			}
		}
	}
}

// Flush writes every session active since the previous flush and returns
// the number of rows written.
func (x *Exporter) Flush(ctx context.Context) (int, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	sessions, err := x.store.List(ctx)
	if err != nil {
		return 0, err
	}

	since := x.lastRun
	started := time.Now()

	rows := make([]storage.LeadSessionRow, 0, len(sessions))
	for _, s := range sessions {
		if !since.IsZero() && s.LastActivity.Before(since) {
			continue
		}
		rows = append(rows, ToRow(s))
	}
	if len(rows) == 0 {
		x.lastRun = started
		return 0, nil
	}

	if err := x.writer.InsertLeadSessions(ctx, rows); err != nil {
		return 0, err
	}
	x.lastRun = started

	log.Info().
		Int("count", len(rows)).
		Dur("duration", time.Since(started)).
		Msg("Exported sessions to ClickHouse")
	return len(rows), nil
}

// Stop ends the export loop.
func (x *Exporter) Stop() {
	close(x.done)
}

// ToRow converts a session into its warehouse row.
func ToRow(s *Session) storage.LeadSessionRow {
	workflows := make([]string, 0, len(s.FiredWorkflows))
	for id := range s.FiredWorkflows {
		workflows = append(workflows, id)
	}
	sort.Strings(workflows)

	funnelEvents := 0
	for _, events := range s.FunnelCompleted {
		funnelEvents += len(events)
	}

	return storage.LeadSessionRow{
		SessionID:      s.ID,
		StartedAt:      s.StartTime,
		LastActivity:   s.LastActivity,
		Score:          uint32(s.Score),
		Tier:           s.Tier,
		ContentScore:   uint32(s.Breakdown[Content]),
		BehaviorScore:  uint32(s.Breakdown[Behavior]),
		IntentScore:    uint32(s.Breakdown[Intent]),
		GeographyScore: uint32(s.Breakdown[Geography]),
		UrgencyScore:   uint32(s.Breakdown[Urgency]),
		PageViews:      uint32(len(s.PageViews)),
		Interactions:   uint32(len(s.Interactions)),
		FunnelEvents:   uint32(funnelEvents),
		Workflows:      workflows,
		Region:         s.Region,
		Device:         s.Device,
		Referrer:       s.Referrer,
	}
}
