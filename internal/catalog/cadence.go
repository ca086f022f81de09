package catalog

import "time"

// defaultCadenceDays is used for unrecognized or empty frequency labels.
// Six months is conservative enough to avoid hammering rarely-updated tables.
const defaultCadenceDays = 180

var cadenceDays = map[string]int{
	"Daily":       1,
	"Weekly":      7,
	"Bi-weekly":   14,
	"Monthly":     30,
	"Quarterly":   90,
	"Semi-annual": 180,
	"Annual":      365,
	"Occasional":  180,
}

// DaysBetweenUpdates maps a frequency label to the minimum number of days
// between refreshes. Unknown labels fall back to the conservative default.
func DaysBetweenUpdates(frequency string) int {
	if days, ok := cadenceDays[frequency]; ok {
		return days
	}
	return defaultCadenceDays
}

// UpdateDue reports whether enough whole days have elapsed since the last
// ingestion for the dataset's cadence. The boundary is inclusive: exactly
// N days counts as due.
func UpdateDue(frequency string, lastIngestion, now time.Time) bool {
	days := int(now.Sub(lastIngestion).Hours() / 24)
	return days >= DaysBetweenUpdates(frequency)
}
