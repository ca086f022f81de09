package catalog

import "strings"

// HiddenMarker flags massive internal tables that are excluded from
// ingestion by default. Case-sensitive substring match on the title.
const HiddenMarker = "INVISIBLE"

// Filter removes records already present in the object store and,
// optionally, records whose title carries the hidden marker. A
// non-negative limit truncates the result to the first limit records in
// original order; limit < 0 means unlimited.
func Filter(snapshot []Dataset, existing map[int64]bool, skipHidden bool, limit int) []Dataset {
	var out []Dataset
	for _, d := range snapshot {
		if existing[d.ProductID] {
			continue
		}
		if skipHidden && strings.Contains(d.Title, HiddenMarker) {
			continue
		}
		out = append(out, d)
	}
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// DropMaterialized removes "new" decisions for datasets that already
// have a folder in the object store. The store listing is the ground
// truth for what was ingested: a dataset with data but no ingestion
// stamp is not onboarded a second time. "update_due" decisions are
// kept, they refer to datasets that are supposed to exist.
func DropMaterialized(decisions []Decision, existing map[int64]bool) []Decision {
	var out []Decision
	for _, d := range decisions {
		if d.Reason == ReasonNew && existing[d.ProductID] {
			continue
		}
		out = append(out, d)
	}
	return out
}

// LimitNew caps only the "new" decisions at limit, keeping every
// "update_due" decision: refresh obligations for tracked datasets must
// never be starved by a cap meant to bound onboarding. Relative order is
// preserved within each partition; limit < 0 means unlimited.
func LimitNew(decisions []Decision, limit int) []Decision {
	if limit < 0 {
		return decisions
	}

	var fresh, due []Decision
	for _, d := range decisions {
		if d.Reason == ReasonNew {
			fresh = append(fresh, d)
		} else {
			due = append(due, d)
		}
	}
	if len(fresh) > limit {
		fresh = fresh[:limit]
	}
	return append(fresh, due...)
}

// SelectDecided returns the snapshot records matching the given decisions,
// in decision order. Decisions without a matching record are dropped.
func SelectDecided(snapshot []Dataset, decisions []Decision) []Dataset {
	byID := make(map[int64]Dataset, len(snapshot))
	for _, d := range snapshot {
		byID[d.ProductID] = d
	}

	var out []Dataset
	for _, dec := range decisions {
		if d, ok := byID[dec.ProductID]; ok {
			out = append(out, d)
		}
	}
	return out
}
