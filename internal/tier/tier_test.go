package tier

import (
	"errors"
	"testing"

	"github.com/gosight/gosight/leadflow/internal/config"
)

func defaultTable(t *testing.T) *Table {
	t.Helper()
	table, err := FromConfig(config.DefaultTiers())
	if err != nil {
		t.Fatalf("FromConfig error: %v", err)
	}
	return table
}

func TestClassify(t *testing.T) {
	table := defaultTable(t)
	tests := []struct {
		score int
		want  string
	}{
		{-5, "cold"},
		{0, "cold"},
		{24, "cold"},
		{25, "warm"},
		{35, "warm"},
		{50, "hot"},
		{85, "hot"},
		{99, "hot"},
		{100, "emergency"},
		{160, "emergency"},
	}
	for _, tt := range tests {
		if got := table.Classify(tt.score); got != tt.want {
			t.Errorf("Classify(%d) = %q, want %q", tt.score, got, tt.want)
		}
	}
}

func TestClassifyBelowAllThresholds(t *testing.T) {
	table, err := New([]Level{{Name: "lukewarm", Threshold: 10}, {Name: "hot", Threshold: 40}})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	if got := table.Classify(3); got != "lukewarm" {
		t.Errorf("Classify(3) = %q, want lowest tier", got)
	}
}

func TestClassifyMonotonic(t *testing.T) {
	table := defaultTable(t)
	prev := table.Rank(table.Classify(0))
	for score := 1; score <= 500; score++ {
		r := table.Rank(table.Classify(score))
		if r < prev {
			t.Fatalf("rank dropped at score %d: %d < %d", score, r, prev)
		}
		prev = r
	}
}

func TestNewRejectsBadTables(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrEmptyTable) {
		t.Errorf("New(nil) error = %v, want ErrEmptyTable", err)
	}
	if _, err := New([]Level{{Name: "a", Threshold: 0}, {Name: "a", Threshold: 5}}); err == nil {
		t.Error("expected duplicate name error")
	}
	if _, err := New([]Level{{Name: "a", Threshold: 10}, {Name: "b", Threshold: 10}}); err == nil {
		t.Error("expected non-ascending threshold error")
	}
}

func TestRank(t *testing.T) {
	table := defaultTable(t)
	if table.Rank("cold") != 0 || table.Rank("emergency") != 3 {
		t.Errorf("Rank(cold)=%d Rank(emergency)=%d", table.Rank("cold"), table.Rank("emergency"))
	}
	if table.Rank("tepid") != -1 {
		t.Errorf("Rank(unknown) = %d, want -1", table.Rank("tepid"))
	}
}
