package scoring

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
	"github.com/gosight/gosight/leadflow/internal/session"
)

// Rules is the read-only point table compiled from configuration.
type Rules struct {
	points map[session.Category]map[string]int
	caps   map[session.Category]int

	scroll       []int
	timeBuckets  []config.TimeBucketConfig
	clickTargets map[string]string
	keywords     []string
	serviceAreas map[string]bool

	extendedHoverMs int64
	rapidPages      int
	rapidAvg        time.Duration

	openHour  int
	closeHour int
	loc       *time.Location

	ignoreDirect bool
}

// NewRules compiles the scoring section of the config.
func NewRules(cfg config.ScoringConfig) (*Rules, error) {
	loc, err := time.LoadLocation(cfg.BusinessHours.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business hours timezone: %w", err)
	}

	r := &Rules{
		points:          make(map[session.Category]map[string]int),
		caps:            make(map[session.Category]int),
		clickTargets:    make(map[string]string, len(cfg.ClickTargets)),
		serviceAreas:    make(map[string]bool, len(cfg.ServiceAreas)),
		extendedHoverMs: cfg.ExtendedHoverMs,
		rapidPages:      cfg.RapidNavigation.MinPages,
		rapidAvg:        time.Duration(cfg.RapidNavigation.MaxAvgSeconds) * time.Second,
		openHour:        cfg.BusinessHours.Start,
		closeHour:       cfg.BusinessHours.End,
		loc:             loc,
		ignoreDirect:    cfg.IgnoreDirect,
	}

	for name, cat := range cfg.Categories {
		c := session.Category(name)
		r.points[c] = make(map[string]int, len(cat.Points))
		for k, v := range cat.Points {
			r.points[c][k] = v
		}
		if cat.Cap > 0 {
			r.caps[c] = cat.Cap
		}
	}

	r.scroll = append(r.scroll, cfg.ScrollMilestones...)
	sort.Ints(r.scroll)

	r.timeBuckets = append(r.timeBuckets, cfg.TimeBuckets...)
	sort.Slice(r.timeBuckets, func(i, j int) bool {
		return r.timeBuckets[i].AfterSeconds < r.timeBuckets[j].AfterSeconds
	})

	for target, key := range cfg.ClickTargets {
		r.clickTargets[target] = key
	}
	for _, kw := range cfg.EmergencyKeywords {
		r.keywords = append(r.keywords, strings.ToLower(kw))
	}
	for _, area := range cfg.ServiceAreas {
		r.serviceAreas[strings.ToUpper(area)] = true
	}
	return r, nil
}

// Points returns the configured value of key in category.
func (r *Rules) Points(c session.Category, key string) (int, bool) {
	v, ok := r.points[c][key]
	return v, ok
}

// Cap returns the category cap, 0 when uncapped.
func (r *Rules) Cap(c session.Category) int {
	return r.caps[c]
}

// scrollMilestone returns the highest milestone reached by depth.
func (r *Rules) scrollMilestone(depth int) (int, bool) {
	best, ok := 0, false
	for _, m := range r.scroll {
		if depth < m {
			break
		}
		best, ok = m, true
	}
	return best, ok
}

// timeBucket returns the highest bucket reached by seconds.
func (r *Rules) timeBucket(seconds int) (config.TimeBucketConfig, bool) {
	var (
		best config.TimeBucketConfig
		ok   bool
	)
	for _, b := range r.timeBuckets {
		if seconds < b.AfterSeconds {
			break
		}
		best, ok = b, true
	}
	return best, ok
}

func (r *Rules) afterHours(t time.Time) bool {
	h := t.In(r.loc).Hour()
	return h < r.openHour || h > r.closeHour
}

func (r *Rules) weekend(t time.Time) bool {
	d := t.In(r.loc).Weekday()
	return d == time.Saturday || d == time.Sunday
}

func (r *Rules) hasKeyword(text string) bool {
	text = strings.ToLower(text)
	for _, kw := range r.keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
