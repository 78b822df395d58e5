package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/funnel"
	"github.com/gosight/gosight/leadflow/internal/scoring"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
	"github.com/gosight/gosight/leadflow/internal/tier"
	"github.com/gosight/gosight/leadflow/internal/workflow"
)

type fakeSink struct {
	mu    sync.Mutex
	calls []workflow.Payload
}

func (f *fakeSink) Send(_ context.Context, p workflow.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return nil
}

func (f *fakeSink) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, p := range f.calls {
		out = append(out, p.WorkflowID)
	}
	return out
}

type nopFallback struct{}

func (nopFallback) SaveFallback(context.Context, storage.FallbackRecord) error { return nil }

type recordingFallback struct {
	mu   sync.Mutex
	recs []storage.FallbackRecord
}

func (f *recordingFallback) SaveFallback(_ context.Context, rec storage.FallbackRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
	return nil
}

// flakyStore fails the next Put once failNext is set.
type flakyStore struct {
	*session.MemoryStore
	mu       sync.Mutex
	failNext bool
}

func (f *flakyStore) Put(ctx context.Context, s *session.Session) error {
	f.mu.Lock()
	fail := f.failNext
	f.failNext = false
	f.mu.Unlock()
	if fail {
		return errors.New("redis unavailable")
	}
	return f.MemoryStore.Put(ctx, s)
}

func newTestEngine(t *testing.T) (*Engine, *fakeSink) {
	t.Helper()
	return newTestEngineWith(t, session.NewMemoryStore(), nopFallback{})
}

func newTestEngineWith(t *testing.T, store session.Store, fb workflow.FallbackStore) (*Engine, *fakeSink) {
	t.Helper()
	cfg := config.Default()

	rules, err := scoring.NewRules(cfg.Scoring)
	if err != nil {
		t.Fatalf("NewRules error: %v", err)
	}
	tiers, err := tier.FromConfig(cfg.Tiers)
	if err != nil {
		t.Fatalf("tier.FromConfig error: %v", err)
	}
	tracker, err := funnel.NewTracker(cfg.Funnel.Stages, cfg.Scoring.ExtendedHoverMs)
	if err != nil {
		t.Fatalf("NewTracker error: %v", err)
	}
	catalog, err := workflow.Compile(cfg.Workflows, tiers)
	if err != nil {
		t.Fatalf("Compile error: %v", err)
	}

	sink := &fakeSink{}
	sched := workflow.NewScheduler(context.Background())
	en := New(Deps{
		Store:      store,
		Scorer:     scoring.NewEngine(rules),
		Tiers:      tiers,
		Funnel:     tracker,
		Catalog:    catalog,
		Dispatcher: workflow.NewDispatcher(sink, fb, sched),
	})
	en.now = func() time.Time { return weekdayNoon }
	return en, sink
}

// weekdayNoon is inside business hours so no timing modifiers apply.
var weekdayNoon = time.Date(2026, 10, 14, 16, 0, 0, 0, time.UTC)

var firstAttrs = map[string]any{
	"path":         "/services/textile-restoration",
	"content_type": "textileRestoration",
	"device":       "desktop",
	"referrer":     "https://www.google.com/",
}

func apply(t *testing.T, en *Engine, name string, at time.Time, attrs map[string]any) Result {
	t.Helper()
	res, err := en.Apply(context.Background(), "s1", event.New("s1", name, at, attrs))
	if err != nil {
		t.Fatalf("Apply(%s) error: %v", name, err)
	}
	return res
}

// --- Scenarios ---

func TestScenariosAThroughC(t *testing.T) {
	en, sink := newTestEngine(t)

	// A: first page view with textile content.
	res := apply(t, en, "page_view", weekdayNoon, firstAttrs)
	if res.Session.Score != 35 || res.Session.Tier != "warm" {
		t.Fatalf("A: score=%d tier=%s, want 35/warm", res.Session.Score, res.Session.Tier)
	}
	if res.PrevTier != "cold" || !res.TierChanged() {
		t.Errorf("A: PrevTier = %q", res.PrevTier)
	}
	if len(res.Funnel) != 1 || res.Funnel[0] != (funnel.Pair{Stage: "awareness", Event: "page_view"}) {
		t.Errorf("A: funnel = %v", res.Funnel)
	}

	// B: emergency CTA.
	res = apply(t, en, "emergency_cta_click", weekdayNoon.Add(time.Minute), nil)
	if res.Session.Score != 85 || res.Session.Tier != "hot" {
		t.Fatalf("B: score=%d tier=%s, want 85/hot", res.Session.Score, res.Session.Tier)
	}

	// C: phone call click.
	res = apply(t, en, "phone_call_click", weekdayNoon.Add(2*time.Minute), nil)
	if res.Session.Score != 160 || res.Session.Tier != "emergency" {
		t.Fatalf("C: score=%d tier=%s, want 160/emergency", res.Session.Score, res.Session.Tier)
	}
	fired := false
	for _, r := range res.Dispatches {
		if r.Payload.WorkflowID == "emergency_tier" && r.Status == workflow.StatusFired {
			fired = true
		}
	}
	if !fired {
		t.Errorf("C: emergency_tier not fired, dispatches = %+v", res.Dispatches)
	}

	// Re-evaluating without new events dispatches nothing.
	again, err := en.Evaluate(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Evaluate error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("re-evaluate dispatched %d workflows", len(again))
	}

	en.Close()
	count := 0
	for _, id := range sink.ids() {
		if id == "emergency_tier" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("emergency_tier sent %d times, want 1 (sent %v)", count, sink.ids())
	}

	s, err := en.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Session error: %v", err)
	}
	if !s.Fired("emergency_tier") || !s.Fired("emergency_cta") {
		t.Errorf("FiredWorkflows = %v", s.FiredWorkflows)
	}
}

func TestFailedSaveDoesNotSendWorkflowTwice(t *testing.T) {
	store := &flakyStore{MemoryStore: session.NewMemoryStore()}
	fb := &recordingFallback{}
	en, sink := newTestEngineWith(t, store, fb)

	apply(t, en, "page_view", weekdayNoon, firstAttrs)
	apply(t, en, "emergency_cta_click", weekdayNoon.Add(time.Minute), nil)

	store.mu.Lock()
	store.failNext = true
	store.mu.Unlock()
	call := event.New("s1", "phone_call_click", weekdayNoon.Add(2*time.Minute), nil)
	if _, err := en.Apply(context.Background(), "s1", call); err == nil {
		t.Fatal("Apply error = nil, want store error")
	}

	s, err := en.Session(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Session error: %v", err)
	}
	if s.Fired("emergency_tier") {
		t.Error("emergency_tier marked fired on a session that was not saved")
	}

	res, err := en.Apply(context.Background(), "s1", call)
	if err != nil {
		t.Fatalf("retry Apply error: %v", err)
	}
	if res.Session.Tier != "emergency" {
		t.Fatalf("Tier = %s, want emergency", res.Session.Tier)
	}
	en.Close()

	count := 0
	for _, id := range sink.ids() {
		if id == "emergency_tier" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("emergency_tier sent %d times, want 1 (sent %v)", count, sink.ids())
	}

	fb.mu.Lock()
	defer fb.mu.Unlock()
	abandoned := false
	for _, rec := range fb.recs {
		if rec.WorkflowID == "emergency_tier" && strings.Contains(rec.Error, "redis unavailable") {
			abandoned = true
		}
	}
	if !abandoned {
		t.Errorf("fallback records = %+v, want abandoned emergency_tier", fb.recs)
	}
}

func TestScenarioDScrollMilestoneOnce(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()

	apply(t, en, "page_view", weekdayNoon, map[string]any{"path": "/", "device": "desktop", "referrer": "x"})
	first := apply(t, en, "scroll_depth", weekdayNoon.Add(time.Second), map[string]any{"depth": 75})
	second := apply(t, en, "scroll_depth", weekdayNoon.Add(2*time.Second), map[string]any{"depth": 75})

	if first.Score.Delta != 8 || second.Score.Delta != 0 {
		t.Errorf("deltas = %d, %d, want 8, 0", first.Score.Delta, second.Score.Delta)
	}
	if second.Session.Score != 13 {
		t.Errorf("Score = %d, want 13", second.Session.Score)
	}
	if len(second.Funnel) != 0 {
		t.Errorf("duplicate scroll recorded funnel %v", second.Funnel)
	}
}

// --- Session seeding ---

func TestFirstEventSeedsSession(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()

	res := apply(t, en, "page_view", weekdayNoon, map[string]any{
		"path":           "/",
		"device":         "mobile",
		"visitor_region": "VA",
	})
	s := res.Session
	if s.Device != "mobile" || s.Region != "VA" || s.Referrer != "" {
		t.Errorf("seeded session = device %q region %q referrer %q", s.Device, s.Region, s.Referrer)
	}
	// page view 5, mobile 15, direct traffic 15
	if s.Score != 35 {
		t.Errorf("Score = %d, want 35", s.Score)
	}
}

func TestApplyRejectsEmptySession(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()
	if _, err := en.Apply(context.Background(), "", event.New("", "page_view", weekdayNoon, nil)); err != ErrEmptySessionID {
		t.Errorf("err = %v, want ErrEmptySessionID", err)
	}
}

// --- Funnel ---

func TestRecordFunnelEvent(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()
	ctx := context.Background()

	ok, err := en.RecordFunnelEvent(ctx, "s1", "interest", "hook_point_view", map[string]any{"section": "hero"})
	if err != nil || !ok {
		t.Fatalf("RecordFunnelEvent = %v, %v", ok, err)
	}
	if ok, _ := en.RecordFunnelEvent(ctx, "s1", "interest", "hook_point_view", nil); ok {
		t.Error("duplicate pair accepted")
	}
	if ok, _ := en.RecordFunnelEvent(ctx, "s1", "interest", "not_a_step", nil); ok {
		t.Error("unknown event accepted")
	}

	s, _ := en.Session(ctx, "s1")
	if !s.HasInteraction(string(event.TypeFunnel)) {
		t.Error("no funnel interaction recorded")
	}
	p, err := en.Progress(ctx, "s1")
	if err != nil {
		t.Fatalf("Progress error: %v", err)
	}
	if p.Overall != 0.2 {
		t.Errorf("Overall = %v, want 0.2", p.Overall)
	}
}

// --- Concurrency ---

func TestConcurrentApplySerializesPerSession(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()

	const n = 40
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := weekdayNoon.Add(time.Duration(i) * time.Minute)
			if _, err := en.Apply(context.Background(), "s1", event.New("s1", "time_on_page", at, map[string]any{"seconds": 10})); err != nil {
				t.Errorf("Apply error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	s, _ := en.Session(context.Background(), "s1")
	if len(s.Interactions) != n {
		t.Errorf("Interactions = %d, want %d", len(s.Interactions), n)
	}
}

func TestRecommendation(t *testing.T) {
	en, _ := newTestEngine(t)
	defer en.Close()
	apply(t, en, "page_view", weekdayNoon, firstAttrs)

	rec, err := en.Recommendation(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Recommendation error: %v", err)
	}
	if rec.Priority != "MEDIUM" {
		t.Errorf("Priority = %q, want MEDIUM for warm lead", rec.Priority)
	}
	if _, err := en.Recommendation(context.Background(), "missing"); err != session.ErrNotFound {
		t.Errorf("missing session err = %v", err)
	}
}
