package catalog

import "time"

// Reconcile compares a freshly fetched catalog against the previously
// persisted one and returns the datasets that need action this run.
//
// A dataset is "new" when it is absent from the previous snapshot, or
// present but never successfully ingested (nil LastIngestion). A dataset
// present in both with an ingestion stamp is "update_due" only when its
// cadence interval has elapsed; otherwise it produces no decision.
//
// Datasets present in previous but missing from fresh (delisted upstream)
// produce no decision: deletions are not surfaced here.
func Reconcile(fresh, previous []Dataset, now time.Time) []Decision {
	prevByID := make(map[int64]Dataset, len(previous))
	for _, d := range previous {
		prevByID[d.ProductID] = d
	}

	var out []Decision
	for _, d := range fresh {
		prev, seen := prevByID[d.ProductID]
		switch {
		case !seen || prev.LastIngestion == nil:
			out = append(out, Decision{
				ProductID: d.ProductID,
				Title:     d.Title,
				Frequency: d.Frequency,
				Reason:    ReasonNew,
			})
		case UpdateDue(d.Frequency, *prev.LastIngestion, now):
			out = append(out, Decision{
				ProductID: d.ProductID,
				Title:     d.Title,
				Frequency: d.Frequency,
				Reason:    ReasonUpdateDue,
			})
		}
	}
	return out
}

// MergeMetadata combines a fresh catalog with the previous snapshot.
// Fresh descriptive fields always win; only the last ingestion stamp is
// carried over from the previous snapshot, joined on ProductID. Every
// ProductID in fresh appears exactly once in the output. Neither input
// is mutated.
func MergeMetadata(fresh, previous []Dataset) []Dataset {
	stamps := make(map[int64]*time.Time, len(previous))
	for _, d := range previous {
		if d.LastIngestion != nil {
			t := *d.LastIngestion
			stamps[d.ProductID] = &t
		}
	}

	out := make([]Dataset, len(fresh))
	copy(out, fresh)
	for i := range out {
		out[i].LastIngestion = stamps[out[i].ProductID]
	}
	return out
}

// StampIngested returns a copy of the snapshot with LastIngestion set to
// when for every record whose ProductID is in ingested. Prior stamps are
// overwritten; re-ingestion always refreshes the stamp. The input snapshot
// is not modified.
func StampIngested(snapshot []Dataset, ingested map[int64]bool, when time.Time) []Dataset {
	out := make([]Dataset, len(snapshot))
	copy(out, snapshot)
	for i := range out {
		if ingested[out[i].ProductID] {
			t := when
			out[i].LastIngestion = &t
		}
	}
	return out
}

// MarkAvailable recomputes the derived Available flag from the set of
// product IDs actually present in the object store. Returns a new
// snapshot; the input is not modified.
func MarkAvailable(snapshot []Dataset, existing map[int64]bool) []Dataset {
	out := make([]Dataset, len(snapshot))
	copy(out, snapshot)
	for i := range out {
		out[i].Available = existing[out[i].ProductID]
	}
	return out
}
