package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/metrics"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/storage"
)

// ErrStopped is recorded for immediate dispatches made after Stop.
var ErrStopped = errors.New("dispatcher stopped")

// Status is the outcome of a Dispatch call.
type Status string

const (
	StatusFired     Status = "fired"
	StatusScheduled Status = "scheduled"
	StatusSkipped   Status = "skipped"
	StatusAbandoned Status = "abandoned"
)

// Payload is the automation request sent to the CRM.
type Payload struct {
	WorkflowID   string            `json:"workflowId"`
	AutomationID string            `json:"automationId"`
	SessionID    string            `json:"sessionId"`
	Region       string            `json:"region,omitempty"`
	Score        int               `json:"score"`
	Tier         string            `json:"tier"`
	CustomFields map[string]string `json:"customFields,omitempty"`
	Actions      []string          `json:"actions"`
	Priority     Priority          `json:"priority"`
	SLAWindow    string            `json:"slaWindow,omitempty"`
	DispatchedAt time.Time         `json:"dispatchedAt"`
}

// NewPayload snapshots the session fields a workflow sends.
func NewPayload(def Def, s *session.Session, at time.Time) Payload {
	p := Payload{
		WorkflowID:   def.ID,
		AutomationID: def.AutomationID,
		SessionID:    s.ID,
		Region:       s.Region,
		Score:        s.Score,
		Tier:         s.Tier,
		Actions:      append([]string(nil), def.Actions...),
		Priority:     def.Priority,
		DispatchedAt: at,
	}
	if len(def.CustomFields) > 0 {
		p.CustomFields = make(map[string]string, len(def.CustomFields))
		for k, v := range def.CustomFields {
			p.CustomFields[k] = v
		}
	}
	if def.SLAWindow > 0 {
		p.SLAWindow = def.SLAWindow.String()
	}
	return p
}

// Sink delivers automation payloads. A nil error means the CRM accepted it.
type Sink interface {
	Send(ctx context.Context, p Payload) error
}

// FallbackStore keeps payloads whose delivery failed.
type FallbackStore interface {
	SaveFallback(ctx context.Context, rec storage.FallbackRecord) error
}

// Result describes what Dispatch did.
type Result struct {
	Status  Status
	Payload Payload
	// Task is set for deferred dispatches.
	Task *Task
}

// Outcome is one finished delivery attempt.
type Outcome struct {
	WorkflowID string
	SessionID  string
	At         time.Time
	Err        error
}

// Dispatcher sends workflows to the automation sink. Failed deliveries
// are written to the fallback store and never retried.
type Dispatcher struct {
	sink     Sink
	fallback FallbackStore
	sched    *Scheduler
	metrics  *metrics.Metrics
	timeout  time.Duration
	now      func() time.Time

	// OnDelivered, when set, is called after every delivery attempt.
	OnDelivered func(ctx context.Context, o Outcome, p Payload)

	mu      sync.Mutex
	history []Outcome
	next    int
	full    bool
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMetrics records dispatch metrics.
func WithMetrics(m *metrics.Metrics) DispatcherOption {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithTimeout bounds each sink call.
func WithTimeout(timeout time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithHistory sets the size of the outcome ring.
func WithHistory(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.history = make([]Outcome, n)
		}
	}
}

// NewDispatcher creates a dispatcher running deliveries on sched.
func NewDispatcher(sink Sink, fallback FallbackStore, sched *Scheduler, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:     sink,
		fallback: fallback,
		sched:    sched,
		timeout:  10 * time.Second,
		now:      time.Now,
		history:  make([]Outcome, 1024),
	}
	for _, opt := range opts {
		opt(d)
	}
	if sched.OnPending == nil && d.metrics != nil {
		sched.OnPending = d.metrics.AddPending
	}
	return d
}

// Pending is a workflow marked fired on a session whose payload has not
// been handed to the sink yet.
type Pending struct {
	Payload Payload
	Delay   time.Duration
}

// Prepare marks def as fired on s and snapshots its payload. It reports
// false when def already fired on s. The caller must hold the session lock
// and either Start or Abandon the result once s is persisted or not.
func (d *Dispatcher) Prepare(s *session.Session, def Def) (Pending, bool) {
	now := d.now()
	if !s.MarkFired(def.ID, now) {
		d.metrics.RecordDispatch(def.ID, string(StatusSkipped))
		return Pending{}, false
	}
	return Pending{Payload: NewPayload(def, s, now), Delay: def.Delay}, true
}

// Start hands a prepared payload to the sink, immediately or after its
// delay. Immediate deliveries run on the scheduler and never block.
func (d *Dispatcher) Start(ctx context.Context, pd Pending) Result {
	p := pd.Payload
	deliver := func(runCtx context.Context) { d.deliver(runCtx, p) }

	if pd.Delay <= 0 {
		if !d.sched.Run(deliver) {
			d.saveFallback(ctx, p, ErrStopped)
		}
		d.metrics.RecordDispatch(p.WorkflowID, string(StatusFired))
		log.Info().
			Str("workflow_id", p.WorkflowID).
			Str("session_id", p.SessionID).
			Int("score", p.Score).
			Str("tier", p.Tier).
			Msg("Workflow dispatched")
		return Result{Status: StatusFired, Payload: p}
	}

	task := d.sched.After(pd.Delay, deliver)
	d.metrics.RecordDispatch(p.WorkflowID, string(StatusScheduled))
	log.Info().
		Str("workflow_id", p.WorkflowID).
		Str("session_id", p.SessionID).
		Dur("delay", pd.Delay).
		Msg("Workflow scheduled")
	return Result{Status: StatusScheduled, Payload: p, Task: task}
}

// Abandon writes prepared payloads that will not be sent to the fallback
// store, e.g. when the session that marked them fired could not be saved.
func (d *Dispatcher) Abandon(ctx context.Context, pending []Pending, cause error) {
	for _, pd := range pending {
		d.metrics.RecordDispatch(pd.Payload.WorkflowID, string(StatusAbandoned))
		log.Warn().
			Err(cause).
			Str("workflow_id", pd.Payload.WorkflowID).
			Str("session_id", pd.Payload.SessionID).
			Msg("Workflow abandoned")
		d.saveFallback(ctx, pd.Payload, cause)
	}
}

// Dispatch prepares and starts def in one step. A workflow already fired
// on s is skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, s *session.Session, def Def) Result {
	pd, ok := d.Prepare(s, def)
	if !ok {
		return Result{Status: StatusSkipped}
	}
	return d.Start(ctx, pd)
}

func (d *Dispatcher) deliver(ctx context.Context, p Payload) {
	sendCtx := ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		sendCtx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.sink.Send(sendCtx, p)
	d.metrics.RecordDelivery(p.WorkflowID, err == nil, time.Since(start))

	o := Outcome{WorkflowID: p.WorkflowID, SessionID: p.SessionID, At: d.now(), Err: err}
	d.record(o)

	if err != nil {
		log.Error().
			Err(err).
			Str("workflow_id", p.WorkflowID).
			Str("session_id", p.SessionID).
			Msg("Automation delivery failed")
		d.saveFallback(ctx, p, err)
	}
	if d.OnDelivered != nil {
		d.OnDelivered(ctx, o, p)
	}
}

// FallbackKey formats the fallback store key of a failed delivery.
func FallbackKey(workflowID, sessionID string, at time.Time) string {
	return fmt.Sprintf("automation_fallback_%s_%s_%d", workflowID, sessionID, at.UnixMilli())
}

func (d *Dispatcher) saveFallback(ctx context.Context, p Payload, cause error) {
	if d.fallback == nil {
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		log.Error().Err(err).Str("workflow_id", p.WorkflowID).Msg("Failed to encode fallback payload")
		return
	}
	at := d.now()
	rec := storage.FallbackRecord{
		Key:        FallbackKey(p.WorkflowID, p.SessionID, at),
		WorkflowID: p.WorkflowID,
		SessionID:  p.SessionID,
		Payload:    body,
		Error:      cause.Error(),
		CreatedAt:  at,
	}
	if err := d.fallback.SaveFallback(context.WithoutCancel(ctx), rec); err != nil {
		d.metrics.RecordFallbackWrite(false)
		log.Error().Err(err).Str("key", rec.Key).Msg("Failed to save fallback record")
		return
	}
	d.metrics.RecordFallbackWrite(true)
}

func (d *Dispatcher) record(o Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history[d.next] = o
	d.next = (d.next + 1) % len(d.history)
	if d.next == 0 {
		d.full = true
	}
}

// History returns delivery outcomes at or after since, oldest first.
func (d *Dispatcher) History(since time.Time) []Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()

	var ordered []Outcome
	if d.full {
		ordered = append(ordered, d.history[d.next:]...)
	}
	ordered = append(ordered, d.history[:d.next]...)

	out := ordered[:0:0]
	for _, o := range ordered {
		if !o.At.Before(since) {
			out = append(out, o)
		}
	}
	return out
}

// Failures counts failed deliveries at or after since.
func (d *Dispatcher) Failures(since time.Time) int {
	n := 0
	for _, o := range d.History(since) {
		if o.Err != nil {
			n++
		}
	}
	return n
}

// Stop cancels deferred deliveries and waits for running ones.
func (d *Dispatcher) Stop() {
	if n := d.sched.Stop(); n > 0 {
		log.Warn().Int("count", n).Msg("Dropped pending workflow dispatches")
	}
	d.sched.Wait()
}
