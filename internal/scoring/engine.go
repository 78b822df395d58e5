// Package scoring turns engagement events into per-category lead points.
package scoring

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/session"
)

const modifiersMilestone = "session:modifiers"

// Award is one point grant made while applying an event.
type Award struct {
	Category  session.Category `json:"category"`
	Key       string           `json:"key"`
	Points    int              `json:"points"`
	Milestone string           `json:"milestone,omitempty"`
}

// Result describes what ApplyEvent did.
type Result struct {
	Awards []Award
	Delta  int
	// Err is set when the event's attributes did not match its schema. The
	// event is still recorded.
	Err error
}

type handler func(s *session.Session, e event.Event, res *Result) error

// Engine applies events to sessions using a Rules table.
type Engine struct {
	rules    *Rules
	handlers map[event.Type]handler
}

// NewEngine creates a scoring engine.
func NewEngine(rules *Rules) *Engine {
	en := &Engine{rules: rules}
	en.handlers = map[event.Type]handler{
		event.TypePageView:     en.pageView,
		event.TypeScrollDepth:  en.scrollDepth,
		event.TypeTimeOnPage:   en.timeOnPage,
		event.TypeHover:        en.hover,
		event.TypeClick:        en.click,
		event.TypeEmergencyCTA: en.flat(session.Intent, "emergencyCtaClick"),
		event.TypePhoneClick:   en.flat(session.Intent, "phoneCallClick"),
		event.TypeFormView:     en.flat(session.Intent, "contactFormView"),
		event.TypeFormSubmit:   en.formSubmit,
	}
	return en
}

// Rules returns the engine's point table.
func (en *Engine) Rules() *Rules {
	return en.rules
}

// ApplyEvent records e on s and adds any points it earns. Session
// modifiers are applied on the first call for a session. Unknown event
// types score nothing. The caller must serialize calls per session.
func (en *Engine) ApplyEvent(s *session.Session, e event.Event) Result {
	var res Result

	if !s.Milestone(modifiersMilestone) {
		en.applyModifiers(s, &res)
	}

	s.Interactions = append(s.Interactions, e)
	if e.Timestamp.After(s.LastActivity) {
		s.LastActivity = e.Timestamp
	}

	if h, ok := en.handlers[e.Type]; ok {
		if err := h(s, e, &res); err != nil {
			res.Err = err
			log.Debug().Err(err).
				Str("session_id", s.ID).
				Str("type", e.Kind()).
				Msg("Event scored as zero")
		}
	}

	s.Score = s.Sum()
	return res
}

// award adds the points of key to category c. A non-empty milestone is
// claimed first and the award is skipped when it was already claimed.
func (en *Engine) award(s *session.Session, res *Result, c session.Category, key, milestone string) {
	if milestone != "" && !s.MarkMilestone(milestone) {
		return
	}
	pts, ok := en.rules.Points(c, key)
	if !ok || pts == 0 {
		return
	}

	before := s.Breakdown[c]
	after := before + pts
	if limit := en.rules.Cap(c); limit > 0 && after > limit {
		after = limit
	}
	if after == before {
		return
	}
	s.Breakdown[c] = after
	res.Delta += after - before
	res.Awards = append(res.Awards, Award{Category: c, Key: key, Points: after - before, Milestone: milestone})
}

func (en *Engine) applyModifiers(s *session.Session, res *Result) {
	s.MarkMilestone(modifiersMilestone)
	r := en.rules

	if s.Device == "mobile" {
		en.award(s, res, session.Intent, "mobileAccess", "modifier:mobile")
	}
	if r.afterHours(s.StartTime) {
		en.award(s, res, session.Intent, "afterHoursAccess", "modifier:after_hours")
	}
	if r.weekend(s.StartTime) {
		en.award(s, res, session.Intent, "weekendAccess", "modifier:weekend")
	}
	if !r.ignoreDirect && s.Referrer == "" {
		en.award(s, res, session.Urgency, "directTraffic", "modifier:direct")
	}
	if s.Region != "" && r.serviceAreas[strings.ToUpper(s.Region)] {
		en.award(s, res, session.Geography, "serviceAreaMatch", "modifier:service_area")
	}
}

func (en *Engine) flat(c session.Category, key string) handler {
	return func(s *session.Session, _ event.Event, res *Result) error {
		en.award(s, res, c, key, "")
		return nil
	}
}

func (en *Engine) pageView(s *session.Session, e event.Event, res *Result) error {
	pv, err := e.PageView()
	if err != nil {
		return err
	}
	s.PageViews = append(s.PageViews, session.PageView{
		Path:        pv.Path,
		ContentType: pv.ContentType,
		Region:      pv.Region,
		Timestamp:   e.Timestamp,
	})

	en.award(s, res, session.Behavior, "pageView", "")

	// Content scores once per distinct content type.
	if pv.ContentType != "" {
		en.award(s, res, session.Content, pv.ContentType, "content:"+pv.ContentType)
	}
	if len(s.ContentTypes()) >= 2 {
		en.award(s, res, session.Content, "multipleContentTypes", "content:multiple")
	}
	if s.ViewedContent("militaryUniform") && s.ViewedContent("textileRestoration") {
		en.award(s, res, session.Content, "uniformTextileCombo", "content:uniform_textile")
	}
	if len(s.PageViews) > 2 {
		en.award(s, res, session.Behavior, "multiplePageViews", "behavior:multiple_pages")
	}

	if regional(pv.Region) {
		en.award(s, res, session.Geography, "regionalContent", "geo:regional")
		if focusedRegion(s.PageViews) {
			en.award(s, res, session.Geography, "focusedRegion", "geo:focused")
		}
	}

	if n := len(s.PageViews); n >= en.rules.rapidPages && n > 1 {
		span := s.PageViews[n-1].Timestamp.Sub(s.PageViews[0].Timestamp)
		if span/time.Duration(n-1) < en.rules.rapidAvg {
			en.award(s, res, session.Urgency, "rapidNavigation", "urgency:rapid_navigation")
		}
	}
	return nil
}

// scrollDepth awards only the highest milestone the depth reaches. A jump
// straight to 90% earns the 75% milestone and leaves 25% and 50%
// unclaimed; the funnel still records every crossed milestone.
func (en *Engine) scrollDepth(s *session.Session, e event.Event, res *Result) error {
	sd, err := e.ScrollDepth()
	if err != nil {
		return err
	}
	m, ok := en.rules.scrollMilestone(sd.Depth)
	if !ok {
		return nil
	}
	en.award(s, res, session.Behavior, fmt.Sprintf("scrollDepth_%d", m), fmt.Sprintf("scroll:%d", m))
	return nil
}

// timeOnPage awards the highest bucket reached, like scrollDepth.
func (en *Engine) timeOnPage(s *session.Session, e event.Event, res *Result) error {
	tp, err := e.TimeOnPage()
	if err != nil {
		return err
	}
	b, ok := en.rules.timeBucket(tp.Seconds)
	if !ok {
		return nil
	}
	en.award(s, res, session.Behavior, b.Key, "time:"+b.Key)
	return nil
}

func (en *Engine) hover(s *session.Session, e event.Event, res *Result) error {
	h, err := e.Hover()
	if err != nil {
		return err
	}
	if h.DurationMs >= en.rules.extendedHoverMs {
		en.award(s, res, session.Behavior, "extendedHover", "hover:"+h.Target)
	}
	return nil
}

func (en *Engine) click(s *session.Session, e event.Event, res *Result) error {
	c, err := e.Click()
	if err != nil {
		return err
	}
	if key, ok := en.rules.clickTargets[c.Target]; ok {
		en.award(s, res, session.Intent, key, "")
	}
	return nil
}

func (en *Engine) formSubmit(s *session.Session, e event.Event, res *Result) error {
	f, err := e.FormSubmit()
	if err != nil {
		return err
	}
	en.award(s, res, session.Intent, "contactFormSubmit", "")
	if f.Message != "" && en.rules.hasKeyword(f.Message) {
		en.award(s, res, session.Urgency, "emergencyKeywords", "urgency:keywords")
	}
	return nil
}

func regional(region string) bool {
	return region != "" && !strings.EqualFold(region, "general")
}

// focusedRegion reports whether at least two regional page views exist
// and all of them name the same region.
func focusedRegion(views []session.PageView) bool {
	var (
		first string
		count int
	)
	for _, pv := range views {
		if !regional(pv.Region) {
			continue
		}
		if first == "" {
			first = pv.Region
		} else if !strings.EqualFold(first, pv.Region) {
			return false
		}
		count++
	}
	return count >= 2
}
