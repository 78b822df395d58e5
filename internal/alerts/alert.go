// Package alerts watches rolling conversion rates and raises alerts when
// they cross configured thresholds.
package alerts

import (
	"fmt"
	"time"

	"github.com/gosight/gosight/leadflow/internal/config"
)

const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alert is one threshold breach. Alerts are never modified once raised.
type Alert struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Severity  string         `json:"severity"`
	Timestamp time.Time      `json:"timestamp"`
	Context   map[string]any `json:"context"`
}

// Comparison is the direction of a threshold.
type Comparison string

const (
	Below Comparison = "below"
	Above Comparison = "above"
)

// Threshold is one alert rule.
type Threshold struct {
	Name       string
	Metric     string
	Comparison Comparison
	Value      float64
	Severity   string
	// MinElapsed suppresses the rule until the monitor has run this long.
	MinElapsed time.Duration
}

// Breached reports whether v violates the threshold.
func (t Threshold) Breached(v float64) bool {
	switch t.Comparison {
	case Below:
		return v < t.Value
	case Above:
		return v > t.Value
	}
	return false
}

// ThresholdsFromConfig converts and checks configured thresholds. Below
// thresholds without their own warm-up inherit defaultMinElapsed.
func ThresholdsFromConfig(cfgs []config.ThresholdConfig, defaultMinElapsed time.Duration) ([]Threshold, error) {
	out := make([]Threshold, 0, len(cfgs))
	for _, c := range cfgs {
		if !knownMetric(c.Metric) {
			return nil, fmt.Errorf("alert threshold %q: unknown metric %q", c.Name, c.Metric)
		}
		t := Threshold{
			Name:       c.Name,
			Metric:     c.Metric,
			Comparison: Comparison(c.Comparison),
			Value:      c.Value,
			Severity:   c.Severity,
			MinElapsed: c.MinElapsed,
		}
		if t.Name == "" {
			t.Name = c.Metric + "_" + c.Comparison
		}
		if t.MinElapsed == 0 && t.Comparison == Below {
			t.MinElapsed = defaultMinElapsed
		}
		out = append(out, t)
	}
	return out, nil
}
