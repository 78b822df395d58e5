// Package funnel tracks descriptive progress through the marketing funnel.
// Stages are not gated: any stage can be recorded at any time.
package funnel

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/session"
)

// Stage is one funnel stage definition.
type Stage struct {
	Name          string
	Order         int
	AllowedEvents []string
	MaxExpected   int
	Values        map[string]int
}

func (st Stage) allows(name string) bool {
	for _, e := range st.AllowedEvents {
		if e == name {
			return true
		}
	}
	return false
}

// Pair is a (stage, event) funnel entry.
type Pair struct {
	Stage string `json:"stage"`
	Event string `json:"event"`
}

// Tracker records funnel events on sessions. It holds no session state.
type Tracker struct {
	stages  []Stage
	byName  map[string]Stage
	byEvent map[string]string

	scroll []int
	times  []int

	extendedHoverMs int64
	now             func() time.Time
}

// NewTracker builds a tracker from the configured stages.
func NewTracker(stages []config.StageConfig, extendedHoverMs int64) (*Tracker, error) {
	if len(stages) == 0 {
		return nil, errors.New("funnel: no stages configured")
	}
	t := &Tracker{
		byName:          make(map[string]Stage, len(stages)),
		byEvent:         make(map[string]string),
		extendedHoverMs: extendedHoverMs,
		now:             time.Now,
	}
	for _, sc := range stages {
		st := Stage{
			Name:          sc.Name,
			Order:         sc.Order,
			AllowedEvents: append([]string(nil), sc.Events...),
			MaxExpected:   sc.MaxExpected,
			Values:        sc.Values,
		}
		if _, dup := t.byName[st.Name]; dup {
			return nil, fmt.Errorf("funnel: duplicate stage %q", st.Name)
		}
		t.stages = append(t.stages, st)
		t.byName[st.Name] = st
		for _, e := range st.AllowedEvents {
			// First stage wins when an event name is listed twice.
			if _, ok := t.byEvent[e]; !ok {
				t.byEvent[e] = st.Name
			}
			if n, ok := threshold(e, "scroll_", ""); ok {
				t.scroll = append(t.scroll, n)
			}
			if n, ok := threshold(e, "time_", "s"); ok {
				t.times = append(t.times, n)
			}
		}
	}
	sort.Slice(t.stages, func(i, j int) bool { return t.stages[i].Order < t.stages[j].Order })
	sort.Ints(t.scroll)
	sort.Ints(t.times)
	return t, nil
}

func threshold(name, prefix, suffix string) (int, bool) {
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Stages returns the stage definitions in order.
func (t *Tracker) Stages() []Stage {
	return append([]Stage(nil), t.stages...)
}

// Stage looks up a stage by name.
func (t *Tracker) Stage(name string) (Stage, bool) {
	st, ok := t.byName[name]
	return st, ok
}

// Mark stores (stage, name) on the session without adding an interaction.
// It returns false when the stage is unknown, the event is not allowed in
// the stage, or the pair was already recorded.
func (t *Tracker) Mark(s *session.Session, stage, name string, data map[string]any, at time.Time) bool {
	st, ok := t.byName[stage]
	if !ok || !st.allows(name) {
		return false
	}
	events := s.FunnelCompleted[stage]
	if _, dup := events[name]; dup {
		return false
	}
	if events == nil {
		events = make(map[string]session.FunnelEntry)
		s.FunnelCompleted[stage] = events
	}
	events[name] = session.FunnelEntry{Stage: stage, Event: name, Data: data, RecordedAt: at}
	return true
}

// Record is Mark plus a correlated funnel interaction on the session.
func (t *Tracker) Record(s *session.Session, stage, name string, data map[string]any) bool {
	return t.RecordAt(s, stage, name, data, t.now())
}

// RecordAt is Record with an explicit timestamp.
func (t *Tracker) RecordAt(s *session.Session, stage, name string, data map[string]any, at time.Time) bool {
	if !t.Mark(s, stage, name, data, at) {
		return false
	}
	attrs := make(map[string]any, len(data)+2)
	for k, v := range data {
		attrs[k] = v
	}
	attrs[event.AttrStage] = stage
	attrs[event.AttrName] = name
	s.Interactions = append(s.Interactions, event.New(s.ID, string(event.TypeFunnel), at, attrs))
	if at.After(s.LastActivity) {
		s.LastActivity = at
	}
	return true
}

// CompletionRatio returns distinct recorded events over MaxExpected. It is
// not clamped to 1. Unknown stages return 0.
func (t *Tracker) CompletionRatio(s *session.Session, stage string) float64 {
	st, ok := t.byName[stage]
	if !ok || st.MaxExpected <= 0 {
		return 0
	}
	return float64(s.StageEvents(stage)) / float64(st.MaxExpected)
}

// Resolve maps an engagement event to the funnel pairs it reaches. Only
// names listed in some stage are returned. Scroll and time events resolve
// to every milestone at or below the reported value, unlike scoring,
// which pays the highest one only.
func (t *Tracker) Resolve(e event.Event) []Pair {
	var names []string
	switch e.Type {
	case event.TypePageView:
		names = append(names, "page_view")
	case event.TypeScrollDepth:
		if sd, err := e.ScrollDepth(); err == nil {
			for _, m := range t.scroll {
				if sd.Depth >= m {
					names = append(names, fmt.Sprintf("scroll_%d", m))
				}
			}
		}
	case event.TypeTimeOnPage:
		if tp, err := e.TimeOnPage(); err == nil {
			for _, b := range t.times {
				if tp.Seconds >= b {
					names = append(names, fmt.Sprintf("time_%ds", b))
				}
			}
		}
	case event.TypeHover:
		if h, err := e.Hover(); err == nil {
			names = append(names, h.Target+"_hover")
			if t.extendedHoverMs > 0 && h.DurationMs >= t.extendedHoverMs {
				names = append(names, h.Target+"_extended_hover")
			}
		}
	case event.TypeClick:
		if c, err := e.Click(); err == nil {
			names = append(names, c.Target+"_click")
		}
	case event.TypeEmergencyCTA:
		names = append(names, "emergency_cta_click")
	case event.TypePhoneClick:
		names = append(names, "phone_call")
	case event.TypeFormFocus:
		names = append(names, "contact_form_focus")
	case event.TypeFormSubmit:
		names = append(names, "form_submission")
	case event.TypeFunnel:
		if f, err := e.Funnel(); err == nil {
			return []Pair{{Stage: f.Stage, Event: f.Name}}
		}
	}

	var out []Pair
	for _, n := range names {
		if stage, ok := t.byEvent[n]; ok {
			out = append(out, Pair{Stage: stage, Event: n})
		}
	}
	return out
}

// StageProgress is the completion of one stage.
type StageProgress struct {
	Name   string  `json:"name"`
	Order  int     `json:"order"`
	Events int     `json:"events"`
	Ratio  float64 `json:"ratio"`
}

// Progress summarizes a session's funnel state.
type Progress struct {
	Stages      []StageProgress `json:"stages"`
	Overall     float64         `json:"overall"`
	Conversions int             `json:"conversion_value"`
}

// Progress returns per-stage ratios, the share of stages touched and the
// summed conversion value of recorded events.
func (t *Tracker) Progress(s *session.Session) Progress {
	p := Progress{Stages: make([]StageProgress, 0, len(t.stages))}
	touched := 0
	for _, st := range t.stages {
		n := s.StageEvents(st.Name)
		if n > 0 {
			touched++
		}
		p.Stages = append(p.Stages, StageProgress{
			Name:   st.Name,
			Order:  st.Order,
			Events: n,
			Ratio:  t.CompletionRatio(s, st.Name),
		})
	}
	if len(t.stages) > 0 {
		p.Overall = float64(touched) / float64(len(t.stages))
	}
	p.Conversions = t.Conversions(s)
	return p
}

// Conversions sums the configured values of recorded events.
func (t *Tracker) Conversions(s *session.Session) int {
	total := 0
	for _, st := range t.stages {
		for name := range s.FunnelCompleted[st.Name] {
			total += st.Values[name]
		}
	}
	return total
}
