package session

import (
	"time"

	"github.com/gosight/gosight/leadflow/internal/event"
)

// Category is a score bucket.
type Category string

const (
	Content   Category = "content"
	Behavior  Category = "behavior"
	Intent    Category = "intent"
	Geography Category = "geography"
	Urgency   Category = "urgency"
)

// Categories lists every score bucket in reporting order.
var Categories = []Category{Content, Behavior, Intent, Geography, Urgency}

// PageView is one entry of a session's page history.
type PageView struct {
	Path        string    `json:"path"`
	ContentType string    `json:"content_type,omitempty"`
	Region      string    `json:"region,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// FunnelEntry records a completed (stage, event) pair.
type FunnelEntry struct {
	Stage      string         `json:"stage"`
	Event      string         `json:"event"`
	Data       map[string]any `json:"data,omitempty"`
	RecordedAt time.Time      `json:"recorded_at"`
}

// Session is the mutable engagement record of one visit.
type Session struct {
	ID              string                            `json:"id"`
	StartTime       time.Time                         `json:"start_time"`
	LastActivity    time.Time                         `json:"last_activity"`
	Score           int                               `json:"score"`
	Breakdown       map[Category]int                  `json:"breakdown"`
	Tier            string                            `json:"tier"`
	PageViews       []PageView                        `json:"page_views"`
	Interactions    []event.Event                     `json:"interactions"`
	FunnelCompleted map[string]map[string]FunnelEntry `json:"funnel_completed"`
	FiredWorkflows  map[string]time.Time              `json:"fired_workflows"`
	Milestones      map[string]bool                   `json:"milestones"`
	Region          string                            `json:"region,omitempty"`
	Device          string                            `json:"device,omitempty"`
	Referrer        string                            `json:"referrer,omitempty"`
}

// New creates an empty session.
func New(id string, start time.Time) *Session {
	s := &Session{
		ID:           id,
		StartTime:    start,
		LastActivity: start,
	}
	s.init()
	return s
}

// init allocates nil maps, e.g. after decoding.
func (s *Session) init() {
	if s.Breakdown == nil {
		s.Breakdown = make(map[Category]int, len(Categories))
	}
	if s.FunnelCompleted == nil {
		s.FunnelCompleted = make(map[string]map[string]FunnelEntry)
	}
	if s.FiredWorkflows == nil {
		s.FiredWorkflows = make(map[string]time.Time)
	}
	if s.Milestones == nil {
		s.Milestones = make(map[string]bool)
	}
}

// Sum returns the total of the breakdown buckets.
func (s *Session) Sum() int {
	total := 0
	for _, v := range s.Breakdown {
		total += v
	}
	return total
}

// Milestone reports whether key has already fired.
func (s *Session) Milestone(key string) bool {
	return s.Milestones[key]
}

// MarkMilestone records key and reports whether it was new.
func (s *Session) MarkMilestone(key string) bool {
	if s.Milestones[key] {
		return false
	}
	s.Milestones[key] = true
	return true
}

// Fired reports whether the workflow id has been dispatched.
func (s *Session) Fired(workflowID string) bool {
	_, ok := s.FiredWorkflows[workflowID]
	return ok
}

// MarkFired records a workflow dispatch and reports whether it was new.
func (s *Session) MarkFired(workflowID string, at time.Time) bool {
	if s.Fired(workflowID) {
		return false
	}
	s.FiredWorkflows[workflowID] = at
	return true
}

// HasInteraction reports whether any interaction of the given kind exists.
func (s *Session) HasInteraction(kind string) bool {
	for _, e := range s.Interactions {
		if e.Kind() == kind {
			return true
		}
	}
	return false
}

// CountInteractions counts interactions of kind at or after since.
func (s *Session) CountInteractions(kind string, since time.Time) int {
	n := 0
	for _, e := range s.Interactions {
		if e.Kind() == kind && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n
}

// ViewedContent reports whether any page view carried contentType.
func (s *Session) ViewedContent(contentType string) bool {
	for _, pv := range s.PageViews {
		if pv.ContentType == contentType {
			return true
		}
	}
	return false
}

// ContentTypes returns distinct content types in first-seen order.
func (s *Session) ContentTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, pv := range s.PageViews {
		if pv.ContentType == "" || seen[pv.ContentType] {
			continue
		}
		seen[pv.ContentType] = true
		out = append(out, pv.ContentType)
	}
	return out
}

// StageEvents returns the number of distinct events recorded for stage.
func (s *Session) StageEvents(stage string) int {
	return len(s.FunnelCompleted[stage])
}

// Clone returns a deep copy. Event attribute maps are shared since events
// are never modified.
func (s *Session) Clone() *Session {
	c := *s
	c.Breakdown = make(map[Category]int, len(s.Breakdown))
	for k, v := range s.Breakdown {
		c.Breakdown[k] = v
	}
	c.PageViews = append([]PageView(nil), s.PageViews...)
	c.Interactions = append([]event.Event(nil), s.Interactions...)
	c.FunnelCompleted = make(map[string]map[string]FunnelEntry, len(s.FunnelCompleted))
	for stage, events := range s.FunnelCompleted {
		m := make(map[string]FunnelEntry, len(events))
		for k, v := range events {
			m[k] = v
		}
		c.FunnelCompleted[stage] = m
	}
	c.FiredWorkflows = make(map[string]time.Time, len(s.FiredWorkflows))
	for k, v := range s.FiredWorkflows {
		c.FiredWorkflows[k] = v
	}
	c.Milestones = make(map[string]bool, len(s.Milestones))
	for k, v := range s.Milestones {
		c.Milestones[k] = v
	}
	return &c
}
