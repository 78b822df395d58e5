// Package engine applies engagement events to sessions: score, funnel,
// classify and dispatch, committed atomically per session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/analytics"
	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/funnel"
	"github.com/gosight/gosight/leadflow/internal/metrics"
	"github.com/gosight/gosight/leadflow/internal/scoring"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/tier"
	"github.com/gosight/gosight/leadflow/internal/workflow"
)

// ErrEmptySessionID is returned for events without a session id.
var ErrEmptySessionID = errors.New("empty session id")

// Result describes the effect of one Apply call.
type Result struct {
	Session    *session.Session
	Score      scoring.Result
	PrevTier   string
	Funnel     []funnel.Pair
	Dispatches []workflow.Result
}

// TierChanged reports whether the event moved the session to a new tier.
func (r Result) TierChanged() bool {
	return r.PrevTier != r.Session.Tier
}

// Engine is the single entry point for session mutations.
type Engine struct {
	store      session.Store
	locks      *session.Locker
	scorer     *scoring.Engine
	tiers      *tier.Table
	funnel     *funnel.Tracker
	catalog    *workflow.Catalog
	dispatcher *workflow.Dispatcher
	tracker    analytics.Tracker
	metrics    *metrics.Metrics
	now        func() time.Time
}

// Deps are the collaborators of an Engine. Tracker and Metrics are
// optional.
type Deps struct {
	Store      session.Store
	Scorer     *scoring.Engine
	Tiers      *tier.Table
	Funnel     *funnel.Tracker
	Catalog    *workflow.Catalog
	Dispatcher *workflow.Dispatcher
	Tracker    analytics.Tracker
	Metrics    *metrics.Metrics
}

func New(d Deps) *Engine {
	tr := d.Tracker
	if tr == nil {
		tr = analytics.Nop{}
	}
	return &Engine{
		store:      d.Store,
		locks:      session.NewLocker(),
		scorer:     d.Scorer,
		tiers:      d.Tiers,
		funnel:     d.Funnel,
		catalog:    d.Catalog,
		dispatcher: d.Dispatcher,
		tracker:    tr,
		metrics:    d.Metrics,
		now:        time.Now,
	}
}

// Apply scores e against the session, records any funnel progress it
// implies, reclassifies the session and dispatches newly eligible
// workflows. The updated session is stored once all steps are done.
func (en *Engine) Apply(ctx context.Context, sessionID string, e event.Event) (Result, error) {
	if sessionID == "" {
		return Result{}, ErrEmptySessionID
	}
	if e.SessionID == "" {
		e.SessionID = sessionID
	}

	unlock := en.locks.Lock(sessionID)
	defer unlock()

	s, err := en.load(ctx, sessionID, e.Timestamp, e.Attributes)
	if err != nil {
		return Result{}, err
	}

	res := Result{PrevTier: s.Tier}
	res.Score = en.scorer.ApplyEvent(s, e)
	en.metrics.RecordEvent(e.Kind(), res.Score.Delta, res.Score.Err != nil)

	for _, p := range en.funnel.Resolve(e) {
		if en.funnel.Mark(s, p.Stage, p.Event, nil, e.Timestamp) {
			res.Funnel = append(res.Funnel, p)
		}
	}

	en.classify(s, res.PrevTier)
	pending := en.prepare(s)

	if err := en.commit(ctx, s, pending); err != nil {
		return Result{}, err
	}
	res.Session = s
	res.Dispatches = en.start(ctx, s, pending)

	en.notify(ctx, s, e, res)
	return res, nil
}

// RecordFunnelEvent records an explicit funnel event. It returns false
// when the pair is unknown or already recorded.
func (en *Engine) RecordFunnelEvent(ctx context.Context, sessionID, stage, name string, data map[string]any) (bool, error) {
	if sessionID == "" {
		return false, ErrEmptySessionID
	}
	unlock := en.locks.Lock(sessionID)
	defer unlock()

	now := en.now()
	s, err := en.load(ctx, sessionID, now, nil)
	if err != nil {
		return false, err
	}
	if !en.funnel.RecordAt(s, stage, name, data, now) {
		return false, nil
	}
	pending := en.prepare(s)

	if err := en.commit(ctx, s, pending); err != nil {
		return false, err
	}
	en.start(ctx, s, pending)
	en.funnelRecorded(ctx, s, funnel.Pair{Stage: stage, Event: name})
	return true, nil
}

// Evaluate dispatches any workflows the session has become eligible for
// without applying an event. Already fired workflows are not repeated.
func (en *Engine) Evaluate(ctx context.Context, sessionID string) ([]workflow.Result, error) {
	unlock := en.locks.Lock(sessionID)
	defer unlock()

	s, err := en.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	pending := en.prepare(s)
	if len(pending) == 0 {
		return nil, nil
	}
	if err := en.commit(ctx, s, pending); err != nil {
		return nil, err
	}
	return en.start(ctx, s, pending), nil
}

// Session returns a copy of the stored session.
func (en *Engine) Session(ctx context.Context, id string) (*session.Session, error) {
	return en.store.Get(ctx, id)
}

// Recommendation returns follow-up advice for the session.
func (en *Engine) Recommendation(ctx context.Context, id string) (scoring.Recommendation, error) {
	s, err := en.store.Get(ctx, id)
	if err != nil {
		return scoring.Recommendation{}, err
	}
	return scoring.Recommend(s), nil
}

// Progress returns the funnel completion of the session.
func (en *Engine) Progress(ctx context.Context, id string) (funnel.Progress, error) {
	s, err := en.store.Get(ctx, id)
	if err != nil {
		return funnel.Progress{}, err
	}
	return en.funnel.Progress(s), nil
}

// Close cancels deferred dispatches and waits for running deliveries.
func (en *Engine) Close() {
	en.dispatcher.Stop()
}

// load returns the stored session or a new one seeded from the first
// event's device, region and referrer attributes.
func (en *Engine) load(ctx context.Context, id string, at time.Time, attrs event.Attributes) (*session.Session, error) {
	s, err := en.store.Get(ctx, id)
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("load session %q: %w", id, err)
	}

	if at.IsZero() {
		at = en.now()
	}
	s = session.New(id, at)
	s.Device = attrs.StringOr(event.AttrDevice, "")
	s.Region = attrs.StringOr(event.AttrVisitorRegion, "")
	s.Referrer = attrs.StringOr(event.AttrReferrer, "")
	s.Tier = en.tiers.Lowest()
	return s, nil
}

func (en *Engine) classify(s *session.Session, prev string) {
	s.Tier = en.tiers.Classify(s.Score)
	if s.Tier != prev {
		en.metrics.RecordTierChange(prev, s.Tier)
		log.Info().
			Str("session_id", s.ID).
			Str("from", prev).
			Str("to", s.Tier).
			Int("score", s.Score).
			Msg("Lead tier changed")
	}
}

// prepare marks every newly eligible workflow fired on s. Nothing is
// sent until the session is committed.
func (en *Engine) prepare(s *session.Session) []workflow.Pending {
	var out []workflow.Pending
	for _, def := range en.catalog.Evaluate(s) {
		if pd, ok := en.dispatcher.Prepare(s, def); ok {
			out = append(out, pd)
		}
	}
	return out
}

// commit stores s. When the store fails the prepared workflows go to the
// fallback store unsent and the fired marks are lost with s.
func (en *Engine) commit(ctx context.Context, s *session.Session, pending []workflow.Pending) error {
	if err := en.store.Put(ctx, s); err != nil {
		err = fmt.Errorf("store session %q: %w", s.ID, err)
		en.dispatcher.Abandon(ctx, pending, err)
		return err
	}
	return nil
}

func (en *Engine) start(ctx context.Context, s *session.Session, pending []workflow.Pending) []workflow.Result {
	var out []workflow.Result
	for _, pd := range pending {
		r := en.dispatcher.Start(ctx, pd)
		out = append(out, r)
		en.tracker.Track(ctx, analytics.EventWorkflowDispatch, analytics.Params{
			"session_id":  s.ID,
			"workflow_id": pd.Payload.WorkflowID,
			"status":      string(r.Status),
			"priority":    string(pd.Payload.Priority),
		})
	}
	return out
}

func (en *Engine) notify(ctx context.Context, s *session.Session, e event.Event, res Result) {
	if res.Score.Delta != 0 {
		en.tracker.Track(ctx, analytics.EventScoreUpdated, analytics.Params{
			"session_id": s.ID,
			"event_type": e.Kind(),
			"delta":      res.Score.Delta,
			"score":      s.Score,
			"tier":       s.Tier,
		})
	}
	for _, p := range res.Funnel {
		en.funnelRecorded(ctx, s, p)
	}
}

func (en *Engine) funnelRecorded(ctx context.Context, s *session.Session, p funnel.Pair) {
	en.metrics.RecordFunnelEvent(p.Stage)
	en.tracker.Track(ctx, analytics.EventFunnelProgression, analytics.Params{
		"session_id": s.ID,
		"stage":      p.Stage,
		"event":      p.Event,
		"completion": en.funnel.CompletionRatio(s, p.Stage),
	})
}
