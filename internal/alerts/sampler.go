package alerts

import (
	"strings"
	"time"

	"github.com/gosight/gosight/leadflow/internal/event"
	"github.com/gosight/gosight/leadflow/internal/session"
	"github.com/gosight/gosight/leadflow/internal/tier"
)

// Metric names understood by the monitor.
const (
	MetricPhoneCalls      = "phone_calls_per_hour"
	MetricCTAClicks       = "cta_clicks_per_hour"
	MetricFormSubmissions = "form_submissions_per_hour"
	MetricAuthority       = "authority_interactions_per_hour"
	MetricHotSessions     = "hot_sessions"
	MetricEmergency       = "emergency_sessions"
	MetricActiveSessions  = "active_sessions"
	MetricDispatchFailed  = "dispatch_failures_per_hour"
	MetricLoadTime        = "load_time_ms"
	MetricErrorRate       = "error_rate"
)

func knownMetric(name string) bool {
	switch name {
	case MetricPhoneCalls, MetricCTAClicks, MetricFormSubmissions, MetricAuthority,
		MetricHotSessions, MetricEmergency, MetricActiveSessions, MetricDispatchFailed,
		MetricLoadTime, MetricErrorRate:
		return true
	}
	return false
}

// TierNames names the tiers counted by the hot and emergency session
// gauges.
type TierNames struct {
	Hot       string
	Emergency string
}

// TierNamesFrom takes the two highest tiers of t, emergency being the top
// one. A single-tier table has no hot tier.
func TierNamesFrom(t *tier.Table) TierNames {
	levels := t.Levels()
	var n TierNames
	n.Emergency = levels[len(levels)-1].Name
	if len(levels) > 1 {
		n.Hot = levels[len(levels)-2].Name
	}
	return n
}

// Sample is one evaluation of every metric over a window.
type Sample struct {
	At     time.Time
	Window time.Duration
	Values map[string]float64
}

// window counts interactions in [cutoff, now] and scales them to hourly
// rates.
type window struct {
	cutoff time.Time
	hours  float64

	phone, cta, forms, authority int
	hot, emergency, active       int

	loads, jsErrors int
	loadMs          float64
}

// sample computes the session-derived metrics. failures is the number of
// failed deliveries inside the window. load_time_ms is the mean over page
// loads in the window and error_rate is JS errors per 100 page loads; both
// are 0 without page loads.
func sample(sessions []*session.Session, failures int, now time.Time, span time.Duration, tiers TierNames) Sample {
	w := window{cutoff: now.Add(-span), hours: span.Hours()}
	if w.hours <= 0 {
		w.hours = 1
	}

	for _, s := range sessions {
		if s.LastActivity.Before(w.cutoff) {
			continue
		}
		w.active++
		switch {
		case tiers.Emergency != "" && s.Tier == tiers.Emergency:
			w.emergency++
		case tiers.Hot != "" && s.Tier == tiers.Hot:
			w.hot++
		}
		for _, e := range s.Interactions {
			if e.Timestamp.Before(w.cutoff) || e.Timestamp.After(now) {
				continue
			}
			w.add(e)
		}
	}

	var loadTime, errorRate float64
	if w.loads > 0 {
		loadTime = w.loadMs / float64(w.loads)
		errorRate = float64(w.jsErrors) * 100 / float64(w.loads)
	}

	return Sample{
		At:     now,
		Window: span,
		Values: map[string]float64{
			MetricPhoneCalls:      float64(w.phone) / w.hours,
			MetricCTAClicks:       float64(w.cta) / w.hours,
			MetricFormSubmissions: float64(w.forms) / w.hours,
			MetricAuthority:       float64(w.authority) / w.hours,
			MetricHotSessions:     float64(w.hot),
			MetricEmergency:       float64(w.emergency),
			MetricActiveSessions:  float64(w.active),
			MetricDispatchFailed:  float64(failures) / w.hours,
			MetricLoadTime:        loadTime,
			MetricErrorRate:       errorRate,
		},
	}
}

func (w *window) add(e event.Event) {
	switch e.Type {
	case event.TypePhoneClick:
		w.phone++
	case event.TypeEmergencyCTA:
		w.cta++
	case event.TypeFormSubmit:
		w.forms++
	case event.TypeHover, event.TypeClick:
		if strings.HasPrefix(e.Attributes.StringOr(event.AttrTarget, ""), "authority") {
			w.authority++
		}
	case event.TypeFunnel:
		if strings.HasPrefix(e.Attributes.StringOr(event.AttrName, ""), "authority") {
			w.authority++
		}
	case event.TypePageLoad:
		if pl, err := e.PageLoad(); err == nil {
			w.loads++
			w.loadMs += pl.LoadTimeMs
		}
	case event.TypeJSError:
		w.jsErrors++
	}
}
