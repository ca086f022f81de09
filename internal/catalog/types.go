// Package catalog holds the dataset catalog model: descriptors, the
// frequency cadence table, reconciliation of fresh against persisted
// snapshots, and the selection filters that decide what a run ingests.
package catalog

import "time"

// Dataset describes one remote table in the catalog snapshot.
// The parquet tags define the persisted snapshot schema.
type Dataset struct {
	// Primary identifier, stable across runs.
	ProductID int64 `parquet:"productId"`

	// Descriptive metadata from the remote catalog.
	Title       string `parquet:"title,optional"`
	Subject     string `parquet:"subject,optional"`
	Frequency   string `parquet:"frequency,optional"` // decoded label, e.g. "Monthly"
	ReleaseTime string `parquet:"releaseTime,optional"`
	Dimensions  int32  `parquet:"dimensions"`
	Datapoints  int64  `parquet:"nbDatapoints"`

	// Derived: true iff a matching folder existed in the object store at
	// the last recomputation. Never authoritative between recomputations.
	Available bool `parquet:"available"`

	// When this dataset was last successfully materialized. Nil means
	// never ingested, which is treated the same as a brand-new dataset.
	LastIngestion *time.Time `parquet:"last_ingestion_date,optional"`
}

// Reason classifies why a dataset was selected for processing.
type Reason string

const (
	ReasonNew       Reason = "new"
	ReasonUpdateDue Reason = "update_due"
)

// Decision is the ephemeral output of Reconcile: one dataset that needs
// action this run, and why. Never persisted.
type Decision struct {
	ProductID int64
	Title     string
	Frequency string
	Reason    Reason
}
