package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/analytics"
	"github.com/gosight/gosight/leadflow/internal/metrics"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
)

// SessionLister provides read-only session copies.
type SessionLister interface {
	List(ctx context.Context) ([]*session.Session, error)
}

// FailureSource counts failed deliveries since a point in time.
type FailureSource interface {
	Failures(since time.Time) int
}

// AlertSaver persists raised alerts.
type AlertSaver interface {
	SaveAlert(ctx context.Context, alert storage.AlertRecord) error
}

// Monitor periodically samples conversion metrics and raises alerts.
type Monitor struct {
	sessions   SessionLister
	failures   FailureSource
	thresholds []Threshold
	tiers      TierNames
	window     time.Duration
	interval   time.Duration

	log     *Store
	saver   AlertSaver
	pager   Pager
	tracker analytics.Tracker
	metrics *metrics.Metrics

	mu      sync.Mutex
	started time.Time
}

// MonitorOption configures optional collaborators.
type MonitorOption func(*Monitor)

// WithFailures adds dispatch failures to each sample.
func WithFailures(f FailureSource) MonitorOption {
	return func(m *Monitor) { m.failures = f }
}

// WithTierNames sets the tiers counted as hot and emergency sessions.
func WithTierNames(n TierNames) MonitorOption {
	return func(m *Monitor) { m.tiers = n }
}

func WithSaver(s AlertSaver) MonitorOption {
	return func(m *Monitor) { m.saver = s }
}

func WithPager(p Pager) MonitorOption {
	return func(m *Monitor) { m.pager = p }
}

func WithTracker(t analytics.Tracker) MonitorOption {
	return func(m *Monitor) { m.tracker = t }
}

func WithMetrics(mt *metrics.Metrics) MonitorOption {
	return func(m *Monitor) { m.metrics = mt }
}

// NewMonitor creates a monitor. The warm-up clock for MinElapsed starts on
// the first Start or Evaluate call.
func NewMonitor(sessions SessionLister, thresholds []Threshold, window, interval time.Duration, logLimit int, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		sessions:   sessions,
		thresholds: thresholds,
		window:     window,
		interval:   interval,
		log:        NewStore(logLimit),
		pager:      LogPager{},
		tracker:    analytics.Nop{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Log returns the in-memory alert log.
func (m *Monitor) Log() *Store {
	return m.log
}

// Start evaluates thresholds every interval until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.startClock(time.Now())
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", m.interval).Dur("window", m.window).Msg("Alert monitor started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Alert monitor stopped")
			return
		case now := <-ticker.C:
			m.Evaluate(ctx, now)
		}
	}
}

func (m *Monitor) startClock(now time.Time) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started.IsZero() {
		m.started = now
	}
	return m.started
}

// Sample computes the current metric values without raising alerts.
func (m *Monitor) Sample(ctx context.Context, now time.Time) (Sample, error) {
	sessions, err := m.sessions.List(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("list sessions: %w", err)
	}
	failures := 0
	if m.failures != nil {
		failures = m.failures.Failures(now.Add(-m.window))
	}
	return sample(sessions, failures, now, m.window, m.tiers), nil
}

// Evaluate runs one monitoring pass and returns the alerts it raised. When
// several thresholds on one metric and direction breach in the same pass,
// only the most severe one is raised.
func (m *Monitor) Evaluate(ctx context.Context, now time.Time) []Alert {
	started := m.startClock(now)
	elapsed := now.Sub(started)

	smp, err := m.Sample(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("Alert monitor sample failed")
		return nil
	}
	m.metrics.SetActiveSessions(int(smp.Values[MetricActiveSessions]))

	var breached []Threshold
	for _, t := range m.thresholds {
		if elapsed < t.MinElapsed || !t.Breached(smp.Values[t.Metric]) {
			continue
		}
		breached = append(breached, t)
	}

	var raised []Alert
	for _, t := range mostSevere(breached) {
		v := smp.Values[t.Metric]
		alert := Alert{
			ID:        uuid.New().String(),
			Type:      t.Name,
			Severity:  t.Severity,
			Timestamp: now,
			Context: map[string]any{
				"metric":     t.Metric,
				"value":      v,
				"threshold":  t.Value,
				"comparison": string(t.Comparison),
				"window":     m.window.String(),
			},
		}
		m.raise(ctx, alert)
		raised = append(raised, alert)
	}
	return raised
}

func (m *Monitor) raise(ctx context.Context, alert Alert) {
	m.log.Add(alert)
	m.metrics.RecordAlert(alert.Type, alert.Severity)

	log.Warn().
		Str("alert_id", alert.ID).
		Str("type", alert.Type).
		Str("severity", alert.Severity).
		Interface("value", alert.Context["value"]).
		Msg("Alert raised")

	if m.saver != nil {
		rec := storage.AlertRecord{
			ID:        alert.ID,
			Type:      alert.Type,
			Severity:  alert.Severity,
			Timestamp: alert.Timestamp,
			Context:   alert.Context,
		}
		if err := m.saver.SaveAlert(ctx, rec); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to persist alert")
		}
	}

	if alert.Severity == SeverityCritical && m.pager != nil {
		if err := m.pager.Page(ctx, alert); err != nil {
			log.Error().Err(err).Str("alert_id", alert.ID).Msg("Failed to page alert")
		}
	}

	m.tracker.Track(ctx, analytics.EventAlertRaised, analytics.Params{
		"alert_id": alert.ID,
		"type":     alert.Type,
		"severity": alert.Severity,
	})
}

func severityRank(s string) int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	}
	return 0
}

// mostSevere drops breaches outranked by another breach of the same
// metric and comparison, keeping configuration order.
func mostSevere(ths []Threshold) []Threshold {
	type key struct {
		metric string
		cmp    Comparison
	}
	top := make(map[key]int)
	for _, t := range ths {
		k := key{t.Metric, t.Comparison}
		if r, ok := top[k]; !ok || severityRank(t.Severity) > r {
			top[k] = severityRank(t.Severity)
		}
	}
	out := ths[:0:0]
	for _, t := range ths {
		if severityRank(t.Severity) == top[key{t.Metric, t.Comparison}] {
			out = append(out, t)
		}
	}
	return out
}
