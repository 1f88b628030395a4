package stats

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestTierFor(t *testing.T) {
	tests := []struct {
		pct  float64
		want string
	}{
		{pct: 0, want: TierCritical},
		{pct: 74.99, want: TierCritical},
		{pct: 75, want: TierWarning},
		{pct: 84.99, want: TierWarning},
		{pct: 85, want: TierGood},
		{pct: 100, want: TierGood},
	}
	for _, tt := range tests {
		if got := TierFor(tt.pct); got != tt.want {
			t.Errorf("TierFor(%.2f) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name            string
		total, attended int
		wantPct         float64
		wantTier        string
	}{
		{name: "no completed sessions", total: 0, attended: 0, wantPct: 100, wantTier: TierGood},
		{name: "perfect", total: 10, attended: 10, wantPct: 100, wantTier: TierGood},
		{name: "warning band", total: 10, attended: 8, wantPct: 80, wantTier: TierWarning},
		{name: "critical", total: 10, attended: 7, wantPct: 70, wantTier: TierCritical},
		{name: "attended clamped to total", total: 5, attended: 9, wantPct: 100, wantTier: TierGood},
		{name: "all absent", total: 4, attended: 0, wantPct: 0, wantTier: TierCritical},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := Compute("stu-1", "course-1", tt.total, tt.attended, now)
			if st.Percentage != tt.wantPct {
				t.Errorf("percentage = %.2f, want %.2f", st.Percentage, tt.wantPct)
			}
			if st.Tier != tt.wantTier {
				t.Errorf("tier = %s, want %s", st.Tier, tt.wantTier)
			}
			if st.Percentage < 0 || st.Percentage > 100 {
				t.Errorf("percentage %.2f out of [0,100]", st.Percentage)
			}
			if st.AttendedSessions > st.TotalSessions {
				t.Errorf("attended %d exceeds total %d", st.AttendedSessions, st.TotalSessions)
			}
		})
	}
}

type fakeSource struct {
	total, attended int
	calls           int
}

func (f *fakeSource) Counts(context.Context, string, string, time.Time, time.Time) (int, int, error) {
	f.calls++
	return f.total, f.attended, nil
}

func TestGetStatsWithoutCache(t *testing.T) {
	src := &fakeSource{total: 8, attended: 6}
	agg := NewAggregator(src, nil, time.Second, testLogger())

	st, err := agg.GetStats(context.Background(), "stu-1", "course-1", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if st.Percentage != 75 || st.Tier != TierWarning {
		t.Errorf("stat = %.2f/%s, want 75/warning", st.Percentage, st.Tier)
	}

	// Without a cache every read recomputes.
	if _, err := agg.GetStats(context.Background(), "stu-1", "course-1", time.Time{}, time.Time{}); err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if src.calls != 2 {
		t.Errorf("source calls = %d, want 2", src.calls)
	}
}

func TestTierTransitionWithoutCacheNeverFires(t *testing.T) {
	src := &fakeSource{total: 10, attended: 2}
	agg := NewAggregator(src, nil, time.Second, testLogger())

	_, cur, changed, err := agg.TierTransition(context.Background(), "stu-1", "course-1")
	if err != nil {
		t.Fatalf("TierTransition() error = %v", err)
	}
	if cur != TierCritical {
		t.Errorf("tier = %s, want critical", cur)
	}
	if changed {
		t.Error("transition detection needs tier state; without it nothing may fire")
	}
}
