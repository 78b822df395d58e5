// Package workflow evaluates automation triggers against sessions and
// dispatches each workflow at most once per session.
package workflow

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/tier"
)

var errEmptyCondition = errors.New("empty trigger condition")

// Priority orders workflows. Lower ranks dispatch first.
type Priority string

const (
	PriorityImmediate Priority = "immediate"
	PriorityHigh      Priority = "high"
	PriorityMedium    Priority = "medium"
	PriorityLow       Priority = "low"
)

var priorityRank = map[Priority]int{
	PriorityImmediate: 0,
	PriorityHigh:      1,
	PriorityMedium:    2,
	PriorityLow:       3,
}

// Rank returns the ordinal of p; unknown priorities sort last.
func (p Priority) Rank() int {
	r, ok := priorityRank[p]
	if !ok {
		return len(priorityRank)
	}
	return r
}

// Predicate decides whether a workflow applies to a session.
type Predicate func(s *session.Session) bool

// Def is a compiled workflow definition.
type Def struct {
	ID           string
	AutomationID string
	Trigger      Predicate
	Priority     Priority
	Delay        time.Duration
	Actions      []string
	SLAWindow    time.Duration
	CustomFields map[string]string
}

// Catalog is the ordered set of workflow definitions.
type Catalog struct {
	defs []Def
}

// NewCatalog builds a catalog from already compiled definitions.
func NewCatalog(defs ...Def) *Catalog {
	c := &Catalog{defs: append([]Def(nil), defs...)}
	sortDefs(c.defs)
	return c
}

// Compile turns declarative workflow config into a catalog. Tier names in
// conditions are resolved against tiers.
func Compile(cfgs []config.WorkflowConfig, tiers *tier.Table) (*Catalog, error) {
	defs := make([]Def, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, wc := range cfgs {
		if seen[wc.ID] {
			return nil, fmt.Errorf("workflow %q: duplicate id", wc.ID)
		}
		seen[wc.ID] = true

		pred, err := compileCondition(wc.When, tiers)
		if err != nil {
			return nil, fmt.Errorf("workflow %q: %w", wc.ID, err)
		}
		automationID := wc.AutomationID
		if automationID == "" {
			automationID = strings.ToUpper(wc.ID)
		}
		defs = append(defs, Def{
			ID:           wc.ID,
			AutomationID: automationID,
			Trigger:      pred,
			Priority:     Priority(wc.Priority),
			Delay:        wc.Delay,
			Actions:      append([]string(nil), wc.Actions...),
			SLAWindow:    wc.SLAWindow,
			CustomFields: wc.CustomFields,
		})
	}
	return NewCatalog(defs...), nil
}

// Defs returns the definitions in dispatch order.
func (c *Catalog) Defs() []Def {
	return append([]Def(nil), c.defs...)
}

// Get looks up a definition by id.
func (c *Catalog) Get(id string) (Def, bool) {
	for _, d := range c.defs {
		if d.ID == id {
			return d, true
		}
	}
	return Def{}, false
}

// Evaluate returns the workflows whose trigger holds and which have not
// fired on s, ordered by priority rank then id.
func (c *Catalog) Evaluate(s *session.Session) []Def {
	var out []Def
	for _, d := range c.defs {
		if s.Fired(d.ID) {
			continue
		}
		if d.Trigger != nil && d.Trigger(s) {
			out = append(out, d)
		}
	}
	return out
}

func sortDefs(defs []Def) {
	sort.SliceStable(defs, func(i, j int) bool {
		ri, rj := defs[i].Priority.Rank(), defs[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return defs[i].ID < defs[j].ID
	})
}

// compileCondition builds the conjunction of every set field.
func compileCondition(cc config.ConditionConfig, tiers *tier.Table) (Predicate, error) {
	var preds []Predicate

	if cc.MinScore > 0 {
		minScore := cc.MinScore
		preds = append(preds, func(s *session.Session) bool { return s.Score >= minScore })
	}
	if cc.MaxScore > 0 {
		maxScore := cc.MaxScore
		preds = append(preds, func(s *session.Session) bool { return s.Score <= maxScore })
	}
	if cc.Tier != "" {
		if tiers.Rank(cc.Tier) < 0 {
			return nil, fmt.Errorf("unknown tier %q", cc.Tier)
		}
		name := cc.Tier
		preds = append(preds, func(s *session.Session) bool { return s.Tier == name })
	}
	if cc.MinTier != "" {
		minRank := tiers.Rank(cc.MinTier)
		if minRank < 0 {
			return nil, fmt.Errorf("unknown min_tier %q", cc.MinTier)
		}
		preds = append(preds, func(s *session.Session) bool { return tiers.Rank(s.Tier) >= minRank })
	}
	if len(cc.HasInteraction) > 0 {
		kinds := cc.HasInteraction
		preds = append(preds, func(s *session.Session) bool { return hasAny(s, kinds) })
	}
	if len(cc.LacksInteraction) > 0 {
		kinds := cc.LacksInteraction
		preds = append(preds, func(s *session.Session) bool { return !hasAny(s, kinds) })
	}
	if len(cc.ContentTypes) > 0 {
		types := cc.ContentTypes
		preds = append(preds, func(s *session.Session) bool {
			for _, ct := range types {
				if s.ViewedContent(ct) {
					return true
				}
			}
			return false
		})
	}
	if len(cc.Regions) > 0 {
		regions := make(map[string]bool, len(cc.Regions))
		for _, r := range cc.Regions {
			regions[strings.ToUpper(r)] = true
		}
		preds = append(preds, func(s *session.Session) bool { return regions[strings.ToUpper(s.Region)] })
	}
	if cc.HasRegion {
		preds = append(preds, func(s *session.Session) bool { return s.Region != "" })
	}

	if len(preds) == 0 {
		return nil, errEmptyCondition
	}
	return func(s *session.Session) bool {
		for _, p := range preds {
			if !p(s) {
				return false
			}
		}
		return true
	}, nil
}

func hasAny(s *session.Session, kinds []string) bool {
	for _, k := range kinds {
		if s.HasInteraction(k) {
			return true
		}
	}
	return false
}
