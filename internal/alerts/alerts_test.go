package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
	"github.com/gosight/gosight/leadflow/internal/tier"
)

var t0 = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

type fakeLister struct {
	sessions []*session.Session
	err      error
}

func (f *fakeLister) List(context.Context) ([]*session.Session, error) {
	return f.sessions, f.err
}

type fakeFailures int

func (f fakeFailures) Failures(time.Time) int { return int(f) }

type fakeSaver struct {
	mu   sync.Mutex
	recs []storage.AlertRecord
	err  error
}

func (f *fakeSaver) SaveAlert(_ context.Context, rec storage.AlertRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return f.err
}

type fakePager struct {
	paged []Alert
}

func (f *fakePager) Page(_ context.Context, a Alert) error {
	f.paged = append(f.paged, a)
	return nil
}

func sessionWith(id, tier string, at time.Time, events ...event.Event) *session.Session {
	s := session.New(id, at)
	s.Tier = tier
	s.LastActivity = at
	s.Interactions = events
	return s
}

// --- Store ---

func TestStoreRing(t *testing.T) {
	s := NewStore(3)
	for i := 0; i < 5; i++ {
		s.Add(Alert{ID: string(rune('a' + i)), Timestamp: t0.Add(time.Duration(i) * time.Minute)})
	}
	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	all := s.List(0)
	if all[0].ID != "c" || all[2].ID != "e" {
		t.Errorf("List = %v, want c..e", all)
	}
	last := s.List(1)
	if len(last) != 1 || last[0].ID != "e" {
		t.Errorf("List(1) = %v", last)
	}
	since := s.Since(t0.Add(3 * time.Minute))
	if len(since) != 2 {
		t.Errorf("Since = %d alerts, want 2", len(since))
	}
}

// --- Thresholds ---

func TestThresholdsFromConfig(t *testing.T) {
	ths, err := ThresholdsFromConfig(config.DefaultThresholds(), time.Hour)
	if err != nil {
		t.Fatalf("ThresholdsFromConfig error: %v", err)
	}
	for _, th := range ths {
		switch th.Comparison {
		case Below:
			if th.MinElapsed != time.Hour {
				t.Errorf("%s MinElapsed = %v, want 1h", th.Name, th.MinElapsed)
			}
		case Above:
			if th.MinElapsed != 0 {
				t.Errorf("%s MinElapsed = %v, want 0", th.Name, th.MinElapsed)
			}
		}
	}

	_, err = ThresholdsFromConfig([]config.ThresholdConfig{{Name: "x", Metric: "bounce_rate", Comparison: "above"}}, 0)
	if err == nil {
		t.Error("expected error for unknown metric")
	}
}

func TestThresholdBreached(t *testing.T) {
	below := Threshold{Comparison: Below, Value: 1}
	if !below.Breached(0) || below.Breached(1) {
		t.Error("below threshold misbehaves at boundary")
	}
	above := Threshold{Comparison: Above, Value: 5}
	if !above.Breached(6) || above.Breached(5) {
		t.Error("above threshold misbehaves at boundary")
	}
}

// --- Sampler ---

func TestSampleRates(t *testing.T) {
	now := t0
	old := now.Add(-2 * time.Hour)
	sessions := []*session.Session{
		sessionWith("a", "hot", now,
			event.New("a", "phone_click", now.Add(-10*time.Minute), nil),
			event.New("a", "phone_call_click", now.Add(-5*time.Minute), nil),
			event.New("a", "phone_click", old, nil),
			event.New("a", "hover", now.Add(-time.Minute), map[string]any{"target": "authority_reversal"}),
		),
		sessionWith("b", "emergency", now,
			event.New("b", "emergency_cta_click", now.Add(-time.Minute), nil),
			event.New("b", "form_submit", now.Add(-time.Minute), nil),
			event.New("b", "funnel", now.Add(-time.Minute), map[string]any{"stage": "interest", "name": "authority_reversal_hover"}),
		),
		sessionWith("c", "hot", old),
	}

	smp := sample(sessions, 3, now, 30*time.Minute, TierNames{Hot: "hot", Emergency: "emergency"})
	want := map[string]float64{
		MetricPhoneCalls:      4,
		MetricCTAClicks:       2,
		MetricFormSubmissions: 2,
		MetricAuthority:       4,
		MetricHotSessions:     1,
		MetricEmergency:       1,
		MetricActiveSessions:  2,
		MetricDispatchFailed:  6,
		MetricLoadTime:        0,
		MetricErrorRate:       0,
	}
	for k, v := range want {
		if smp.Values[k] != v {
			t.Errorf("%s = %v, want %v", k, smp.Values[k], v)
		}
	}
}

func TestSamplePerformance(t *testing.T) {
	now := t0
	sessions := []*session.Session{
		sessionWith("a", "warm", now,
			event.New("a", "page_load", now.Add(-20*time.Minute), map[string]any{"load_time_ms": 400}),
			event.New("a", "page_load", now.Add(-10*time.Minute), map[string]any{"load_time_ms": 1400}),
			event.New("a", "js_error", now.Add(-10*time.Minute), nil),
		),
		sessionWith("b", "cold", now,
			event.New("b", "performance", now.Add(-5*time.Minute), map[string]any{"load_time_ms": 600}),
			event.New("b", "page_load", now.Add(-time.Minute), nil),
			event.New("b", "page_load", now.Add(-3*time.Hour), map[string]any{"load_time_ms": 9000}),
		),
	}

	smp := sample(sessions, 0, now, time.Hour, TierNames{})
	if got := smp.Values[MetricLoadTime]; got != 800 {
		t.Errorf("load_time_ms = %v, want 800", got)
	}
	// one error per three timed loads
	if got := smp.Values[MetricErrorRate]; got < 33.3 || got > 33.4 {
		t.Errorf("error_rate = %v, want ~33.3", got)
	}
}

func TestSampleUsesConfiguredTierNames(t *testing.T) {
	tiers, err := tier.New([]tier.Level{{Name: "cool", Threshold: 0}, {Name: "toasty", Threshold: 50}, {Name: "blazing", Threshold: 100}})
	if err != nil {
		t.Fatalf("tier.New error: %v", err)
	}
	names := TierNamesFrom(tiers)
	if names.Hot != "toasty" || names.Emergency != "blazing" {
		t.Fatalf("TierNamesFrom = %+v", names)
	}

	sessions := []*session.Session{
		sessionWith("a", "toasty", t0),
		sessionWith("b", "blazing", t0),
		sessionWith("c", "blazing", t0),
		sessionWith("d", "hot", t0),
	}
	smp := sample(sessions, 0, t0, time.Hour, names)
	if smp.Values[MetricHotSessions] != 1 || smp.Values[MetricEmergency] != 2 {
		t.Errorf("hot = %v, emergency = %v, want 1 and 2", smp.Values[MetricHotSessions], smp.Values[MetricEmergency])
	}
}

// --- Monitor ---

func TestMonitorWarmUp(t *testing.T) {
	ths, _ := ThresholdsFromConfig(config.DefaultThresholds(), time.Hour)
	saver := &fakeSaver{}
	m := NewMonitor(&fakeLister{}, ths, time.Hour, time.Minute, 10, WithSaver(saver))

	if got := m.Evaluate(context.Background(), t0); len(got) != 0 {
		t.Errorf("alerts during warm-up = %v", got)
	}
	got := m.Evaluate(context.Background(), t0.Add(61*time.Minute))
	if len(got) != 3 {
		t.Fatalf("alerts after warm-up = %d, want 3 low-rate alerts", len(got))
	}
	if m.Log().Len() != 3 || len(saver.recs) != 3 {
		t.Errorf("log = %d, saved = %d, want 3/3", m.Log().Len(), len(saver.recs))
	}
}

func TestMonitorPagesCritical(t *testing.T) {
	ths, _ := ThresholdsFromConfig(config.DefaultThresholds(), time.Hour)
	pager := &fakePager{}
	saver := &fakeSaver{err: errors.New("db down")}
	m := NewMonitor(&fakeLister{}, ths, time.Hour, time.Minute, 10,
		WithFailures(fakeFailures(6)), WithPager(pager), WithSaver(saver))

	got := m.Evaluate(context.Background(), t0)
	if len(got) != 1 || got[0].Type != "dispatch_failures_high" {
		t.Fatalf("alerts = %v, want dispatch_failures_high", got)
	}
	if len(pager.paged) != 1 || pager.paged[0].Severity != SeverityCritical {
		t.Errorf("paged = %v", pager.paged)
	}
	if m.Log().Len() != 1 {
		t.Errorf("alert not logged after persistence failure")
	}

	// No suppression: a second breach raises again.
	if got := m.Evaluate(context.Background(), t0.Add(time.Minute)); len(got) != 1 {
		t.Errorf("second pass = %d alerts, want 1", len(got))
	}
}

func TestMonitorRaisesMostSevereLoadTime(t *testing.T) {
	ths, _ := ThresholdsFromConfig(config.DefaultThresholds(), time.Hour)
	pager := &fakePager{}
	slow := sessionWith("a", "warm", t0,
		event.New("a", "page_load", t0.Add(-time.Minute), map[string]any{"load_time_ms": 1250}),
	)
	m := NewMonitor(&fakeLister{sessions: []*session.Session{slow}}, ths, time.Hour, time.Minute, 10, WithPager(pager))

	got := m.Evaluate(context.Background(), t0)
	if len(got) != 1 || got[0].Type != "load_time_critical" {
		t.Fatalf("alerts = %v, want only load_time_critical", got)
	}
	if len(pager.paged) != 1 {
		t.Errorf("paged = %d, want 1", len(pager.paged))
	}

	medium := sessionWith("b", "warm", t0,
		event.New("b", "page_load", t0.Add(-time.Minute), map[string]any{"load_time_ms": 700}),
	)
	m = NewMonitor(&fakeLister{sessions: []*session.Session{medium}}, ths, time.Hour, time.Minute, 10)
	got = m.Evaluate(context.Background(), t0)
	if len(got) != 1 || got[0].Type != "load_time_warning" || got[0].Severity != SeverityWarning {
		t.Errorf("alerts = %v, want load_time_warning", got)
	}
}

func TestMonitorListError(t *testing.T) {
	m := NewMonitor(&fakeLister{err: errors.New("redis down")}, nil, time.Hour, time.Minute, 10)
	if got := m.Evaluate(context.Background(), t0); got != nil {
		t.Errorf("alerts = %v, want nil", got)
	}
}

// --- Pagers ---

func TestWebhookPager(t *testing.T) {
	var got Alert
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPager(srv.URL, srv.Client())
	if err := p.Page(context.Background(), Alert{ID: "a1", Type: "x", Severity: SeverityCritical}); err != nil {
		t.Fatalf("Page error: %v", err)
	}
	if got.ID != "a1" {
		t.Errorf("received %+v", got)
	}

	fail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer fail.Close()
	if err := NewWebhookPager(fail.URL, fail.Client()).Page(context.Background(), Alert{ID: "a2"}); err == nil {
		t.Error("expected error on 502")
	}
}

type fakePublisher struct {
	name, key string
}

func (f *fakePublisher) Publish(_ context.Context, name, key string, _ any) error {
	f.name, f.key = name, key
	return nil
}

func TestNewPager(t *testing.T) {
	if p, err := NewPager(config.AlertsConfig{Pager: "log"}, nil); err != nil {
		t.Errorf("log pager error: %v", err)
	} else if _, ok := p.(LogPager); !ok {
		t.Errorf("log pager = %T", p)
	}
	if _, err := NewPager(config.AlertsConfig{Pager: "webhook"}, nil); err == nil {
		t.Error("expected error for webhook without url")
	}
	if _, err := NewPager(config.AlertsConfig{Pager: "kafka"}, nil); err == nil {
		t.Error("expected error for kafka without producer")
	}

	pub := &fakePublisher{}
	p, err := NewPager(config.AlertsConfig{Pager: "kafka"}, pub)
	if err != nil {
		t.Fatalf("kafka pager error: %v", err)
	}
	if err := p.Page(context.Background(), Alert{ID: "a3", Type: "dispatch_failures_high"}); err != nil {
		t.Fatalf("Page error: %v", err)
	}
	if pub.name != TopicAlerts || pub.key != "dispatch_failures_high" {
		t.Errorf("published to %q key %q", pub.name, pub.key)
	}
}
