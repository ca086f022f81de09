package catalog

import (
	"testing"
	"time"
)

func TestDaysBetweenUpdates(t *testing.T) {
	cases := []struct {
		frequency string
		want      int
	}{
		{"Daily", 1},
		{"Weekly", 7},
		{"Bi-weekly", 14},
		{"Monthly", 30},
		{"Quarterly", 90},
		{"Semi-annual", 180},
		{"Annual", 365},
		{"Occasional", 180},
		{"Unknown", 180},
		{"Census", 180},
		{"", 180},
		{"monthly", 180}, // labels are case-sensitive
	}

	for _, tc := range cases {
		if got := DaysBetweenUpdates(tc.frequency); got != tc.want {
			t.Errorf("DaysBetweenUpdates(%q) = %d, want %d", tc.frequency, got, tc.want)
		}
	}
}

func TestUpdateDueBoundary(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"exactly 30 days", 30 * 24 * time.Hour, true},
		{"29 days", 29 * 24 * time.Hour, false},
		{"31 days", 31 * 24 * time.Hour, true},
		{"29 days 23 hours truncates to 29", 29*24*time.Hour + 23*time.Hour, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			last := now.Add(-tc.elapsed)
			if got := UpdateDue("Monthly", last, now); got != tc.want {
				t.Errorf("UpdateDue(Monthly, -%v) = %v, want %v", tc.elapsed, got, tc.want)
			}
		})
	}
}

func TestUpdateDueUnknownFrequencyUsesDefault(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	last := now.AddDate(0, 0, -179)
	if UpdateDue("SomethingElse", last, now) {
		t.Error("179 days should not be due under the 180-day default")
	}
	last = now.AddDate(0, 0, -180)
	if !UpdateDue("SomethingElse", last, now) {
		t.Error("180 days should be due under the 180-day default")
	}
}
