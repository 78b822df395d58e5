// Package tier classifies lead scores into ordered temperature tiers.
package tier

import (
	"errors"
	"fmt"

	"github.com/gosight/gosight/leadflow/internal/config"
)

// ErrEmptyTable is returned when no tiers are configured.
var ErrEmptyTable = errors.New("tier table is empty")

// Level is one (threshold, name) pair.
type Level struct {
	Name      string
	Threshold int
}

// Table is an ascending list of tier levels. It is immutable after New.
type Table struct {
	levels []Level
	rank   map[string]int
}

// New validates levels and builds a Table. Levels must be strictly
// ascending by threshold with unique names.
func New(levels []Level) (*Table, error) {
	if len(levels) == 0 {
		return nil, ErrEmptyTable
	}
	t := &Table{
		levels: make([]Level, len(levels)),
		rank:   make(map[string]int, len(levels)),
	}
	for i, l := range levels {
		if l.Name == "" {
			return nil, fmt.Errorf("tier %d: empty name", i)
		}
		if _, dup := t.rank[l.Name]; dup {
			return nil, fmt.Errorf("tier %q: duplicate name", l.Name)
		}
		if i > 0 && l.Threshold <= levels[i-1].Threshold {
			return nil, fmt.Errorf("tier %q: threshold %d not above %d", l.Name, l.Threshold, levels[i-1].Threshold)
		}
		t.levels[i] = l
		t.rank[l.Name] = i
	}
	return t, nil
}

// FromConfig builds a Table from the configured tier list.
func FromConfig(tiers []config.TierConfig) (*Table, error) {
	levels := make([]Level, 0, len(tiers))
	for _, t := range tiers {
		levels = append(levels, Level{Name: t.Name, Threshold: t.Threshold})
	}
	return New(levels)
}

// Classify returns the tier with the highest threshold <= score, or the
// lowest tier when score is below every threshold.
func (t *Table) Classify(score int) string {
	name := t.levels[0].Name
	for _, l := range t.levels {
		if score < l.Threshold {
			break
		}
		name = l.Name
	}
	return name
}

// Rank returns the ordinal of a tier name, lowest tier 0. Unknown names
// rank -1.
func (t *Table) Rank(name string) int {
	r, ok := t.rank[name]
	if !ok {
		return -1
	}
	return r
}

// Lowest returns the name of the first tier.
func (t *Table) Lowest() string {
	return t.levels[0].Name
}

// Levels returns a copy of the table.
func (t *Table) Levels() []Level {
	out := make([]Level, len(t.levels))
	copy(out, t.levels)
	return out
}
