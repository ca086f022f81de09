package wds

import (
	"sort"
	"time"

	"github.com/statmirror/statmirror/internal/catalog"
)

// Score rates a dataset's interestingness on a rough 0-130 scale:
// a base of 50, plus bonuses for frequent updates, recent releases
// and dimensional richness. Used only to order discovery output.
func Score(d catalog.Dataset, now time.Time) int {
	score := 50

	switch d.Frequency {
	case "Monthly", "Weekly":
		score += 20
	case "Occasional", "Biannual":
		score += 10
	}

	if rel, err := time.Parse(time.RFC3339, d.ReleaseTime); err == nil {
		days := int(now.Sub(rel).Hours() / 24)
		if days < 30 {
			score += 20
		} else if days < 90 {
			score += 10
		}
	}

	bonus := int(d.Dimensions) * 3
	if bonus > 30 {
		bonus = 30
	}
	return score + bonus
}

// RankCatalog returns a copy of the snapshot ordered by descending
// score. Ties keep catalog order.
func RankCatalog(snapshot []catalog.Dataset, now time.Time) []catalog.Dataset {
	out := make([]catalog.Dataset, len(snapshot))
	copy(out, snapshot)
	sort.SliceStable(out, func(i, j int) bool {
		return Score(out[i], now) > Score(out[j], now)
	})
	return out
}
