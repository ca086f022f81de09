// Package ingest orchestrates a batch run: a bounded worker pool pulls
// datasets through fetch and conversion, a shared accumulator tracks
// what landed, and a cumulative size cap stops submission of new work.
package ingest

// State tracks a dataset through its run lifecycle.
type State string

const (
	StateFetching State = "fetching"
	StateDone     State = "done"
	StateSkipped  State = "skipped"
	StateFailed   State = "failed"
)

// ManifestEntry records one materialized dataset. The parquet tags
// define the persisted manifest schema.
type ManifestEntry struct {
	ProductID int64   `parquet:"productId"`
	Title     string  `parquet:"title,optional"`
	SizeMB    float64 `parquet:"size_mb"`
	FilePath  string  `parquet:"file_path,optional"`
}

// Summary is the outcome of one batch run.
type Summary struct {
	Ingested   int
	Skipped    int
	Failed     int
	TotalMB    float64
	CapReached bool
}
