package ingest

import "sync"

// Accumulator is the run's shared state: cumulative converted size and
// the manifest entries recorded so far. Only bookkeeping happens under
// the lock; fetch and conversion never do.
type Accumulator struct {
	mu      sync.Mutex
	totalMB float64
	entries []ManifestEntry
}

// Record adds one materialized dataset.
func (a *Accumulator) Record(e ManifestEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalMB += e.SizeMB
	a.entries = append(a.entries, e)
}

// TotalMB returns the cumulative converted size.
func (a *Accumulator) TotalMB() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalMB
}

// CapReached reports whether the cumulative size has hit the cap.
func (a *Accumulator) CapReached(maxGB float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.totalMB/1000 >= maxGB
}

// Entries returns a copy of the manifest entries recorded so far.
func (a *Accumulator) Entries() []ManifestEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ManifestEntry, len(a.entries))
	copy(out, a.entries)
	return out
}
