package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/storage"
)

// RowWriter stores analytics rows; *storage.ClickHouse implements it.
type RowWriter interface {
	InsertAnalytics(ctx context.Context, rows []storage.AnalyticsRow) error
}

// ClickHouseTracker buffers notifications and writes them in batches.
type ClickHouseTracker struct {
	ch       RowWriter
	batchCfg config.BatchConfig
	onDrop   func(n int)

	buffer []storage.AnalyticsRow

	mu        sync.Mutex
	flushMu   sync.Mutex
	lastFlush time.Time
	ticker    *time.Ticker
	done      chan struct{}
	stopOnce  sync.Once
}

// NewClickHouseTracker creates a tracker and starts its flush loop.
func NewClickHouseTracker(ch RowWriter, batchCfg config.BatchConfig) *ClickHouseTracker {
	if batchCfg.Size <= 0 {
		batchCfg.Size = 1000
	}
	if batchCfg.FlushInterval <= 0 {
		batchCfg.FlushInterval = 5 * time.Second
	}
	t := &ClickHouseTracker{
		ch:        ch,
		batchCfg:  batchCfg,
		buffer:    make([]storage.AnalyticsRow, 0, batchCfg.Size),
		lastFlush: time.Now(),
		done:      make(chan struct{}),
	}

	// Start flush ticker
	t.ticker = time.NewTicker(batchCfg.FlushInterval)
	go t.flushLoop()

	return t
}

// OnDrop registers a callback for rows lost to a failed insert.
func (t *ClickHouseTracker) OnDrop(fn func(n int)) {
	t.onDrop = fn
}

// Track buffers one notification. It never blocks on ClickHouse unless
// the buffer is full.
func (t *ClickHouseTracker) Track(_ context.Context, name string, params Params) {
	row := storage.AnalyticsRow{
		EventID:   uuid.New().String(),
		EventName: name,
		SessionID: params.SessionID(),
		Timestamp: time.Now().UTC(),
		Params:    params.JSON(),
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, row)
	shouldFlush := len(t.buffer) >= t.batchCfg.Size
	t.mu.Unlock()

	if shouldFlush {
		go t.Flush()
	}
}

func (t *ClickHouseTracker) flushLoop() {
	for {
		select {
		case <-t.done:
			return
		case <-t.ticker.C:
			t.Flush()
		}
	}
}

// Flush writes all buffered rows to ClickHouse. Failed batches are dropped.
func (t *ClickHouseTracker) Flush() {
	t.flushMu.Lock()
	defer t.flushMu.Unlock()

	t.mu.Lock()
	if len(t.buffer) == 0 {
		t.mu.Unlock()
		return
	}
	rows := t.buffer
	t.buffer = make([]storage.AnalyticsRow, 0, t.batchCfg.Size)
	t.lastFlush = time.Now()
	t.mu.Unlock()

	ctx := context.Background()
	start := time.Now()

	if err := t.ch.InsertAnalytics(ctx, rows); err != nil {
		log.Error().Err(err).Int("count", len(rows)).Msg("Failed to insert analytics events")
		if t.onDrop != nil {
			t.onDrop(len(rows))
		}
		return
	}
	log.Debug().
		Int("count", len(rows)).
		Dur("duration", time.Since(start)).
		Msg("Flushed analytics events to ClickHouse")
}

// Close stops the flush loop after a final flush.
func (t *ClickHouseTracker) Close() error {
	t.stopOnce.Do(func() {
		t.ticker.Stop()
		close(t.done)
		t.Flush() // Final flush
	})
	return nil
}
