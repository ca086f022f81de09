package ingest

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/convert"
	"github.com/statmirror/statmirror/internal/fetch"
	"github.com/statmirror/statmirror/internal/logging"
	"github.com/statmirror/statmirror/internal/metrics"
)

// Fetcher materializes one dataset. Implemented by fetch.Fetcher.
type Fetcher interface {
	Fetch(ctx context.Context, productID int64, title string) (fetch.Result, error)
}

// Config bounds a batch run.
type Config struct {
	// Workers is the pool size. Values below 1 mean 1; the default is
	// sequential processing to keep peak memory flat.
	Workers int
	// MaxTotalGB stops submission of new datasets once the cumulative
	// converted size reaches it. Work already in flight finishes, so
	// the final total can overshoot by at most Workers datasets.
	MaxTotalGB float64
	// Source labels metrics.
	Source string
}

// Orchestrator runs a batch of datasets through the fetcher.
type Orchestrator struct {
	fetcher Fetcher
	cfg     Config
	log     *slog.Logger
}

// New creates an orchestrator.
func New(fetcher Fetcher, cfg Config) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		fetcher: fetcher,
		cfg:     cfg,
		log:     logging.Component("ingest"),
	}
}

// Run processes the datasets in order and returns the run summary plus
// the manifest entries for everything that landed. One dataset failing
// or being skipped never stops the batch; only the size cap and context
// cancellation do.
//
// A worker slot is acquired before the cap is checked, so under the
// default single worker the check always sees the finished totals of
// every previous dataset.
func (o *Orchestrator) Run(ctx context.Context, datasets []catalog.Dataset) (Summary, []ManifestEntry) {
	acc := &Accumulator{}
	tally := &runTally{}
	sem := make(chan struct{}, o.cfg.Workers)
	var wg sync.WaitGroup

	capReached := false
	for _, d := range datasets {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			o.log.Warn("run cancelled", "error", ctx.Err())
			wg.Wait()
			return o.summarize(acc, tally, capReached), acc.Entries()
		}

		// Re-check after the acquire: with both channels ready the
		// select picks arbitrarily.
		if ctx.Err() != nil {
			<-sem
			o.log.Warn("run cancelled", "error", ctx.Err())
			break
		}

		if o.cfg.MaxTotalGB > 0 && acc.CapReached(o.cfg.MaxTotalGB) {
			<-sem
			capReached = true
			o.log.Info("size cap reached, draining in-flight work",
				"total_mb", acc.TotalMB(), "cap_gb", o.cfg.MaxTotalGB)
			break
		}

		wg.Add(1)
		go func(d catalog.Dataset) {
			defer wg.Done()
			defer func() { <-sem }()
			o.process(ctx, d, acc, tally)
		}(d)
	}

	wg.Wait()
	return o.summarize(acc, tally, capReached), acc.Entries()
}

func (o *Orchestrator) summarize(acc *Accumulator, tally *runTally, capReached bool) Summary {
	ingested, skipped, failed := tally.snapshot()
	s := Summary{
		Ingested:   ingested,
		Skipped:    skipped,
		Failed:     failed,
		TotalMB:    acc.TotalMB(),
		CapReached: capReached,
	}
	o.log.Info("run complete",
		"ingested", s.Ingested,
		"skipped", s.Skipped,
		"failed", s.Failed,
		"total_gb", s.TotalMB/1000,
		"cap_reached", s.CapReached)
	return s
}

// process runs one dataset through its state machine. Everything that
// can go wrong is caught here; workers never propagate errors.
func (o *Orchestrator) process(ctx context.Context, d catalog.Dataset, acc *Accumulator, tally *runTally) {
	log := logging.DatasetLogger(logging.RunID(ctx), d.ProductID, fetch.DisplayTitle(d.ProductID, d.Title))

	if m := metrics.Get(); m != nil {
		m.IncInFlightDatasets()
		defer m.DecInFlightDatasets()
	}

	log.Debug("state change", "state", StateFetching)
	res, err := o.fetcher.Fetch(ctx, d.ProductID, d.Title)
	switch {
	case err == nil:
		acc.Record(ManifestEntry{
			ProductID: d.ProductID,
			Title:     d.Title,
			SizeMB:    res.SizeMB,
			FilePath:  res.FilePath,
		})
		tally.add(StateDone)
		if m := metrics.Get(); m != nil {
			m.IncDatasetsIngested(o.cfg.Source)
			m.AddBytesIngested(o.cfg.Source, res.SizeMB*1e6)
		}
		log.Info("state change", "state", StateDone, "size_mb", res.SizeMB)

	case errors.Is(err, fetch.ErrSkipped):
		tally.add(StateSkipped)
		if m := metrics.Get(); m != nil {
			m.IncDatasetsSkipped(o.cfg.Source)
		}
		log.Info("state change", "state", StateSkipped, "reason", FormatError(err))

	case errors.Is(err, convert.ErrTimeout):
		tally.add(StateFailed)
		if m := metrics.Get(); m != nil {
			m.IncDatasetsFailed(o.cfg.Source)
			m.IncConversionTimeouts(o.cfg.Source)
		}
		log.Error("state change", "state", StateFailed, "error", FormatError(err))

	default:
		tally.add(StateFailed)
		if m := metrics.Get(); m != nil {
			m.IncDatasetsFailed(o.cfg.Source)
		}
		log.Error("state change", "state", StateFailed, "error", FormatError(err))
	}
}

// runTally counts outcomes across workers.
type runTally struct {
	mu       sync.Mutex
	ingested int
	skipped  int
	failed   int
}

func (t *runTally) add(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch s {
	case StateDone:
		t.ingested++
	case StateSkipped:
		t.skipped++
	case StateFailed:
		t.failed++
	}
}

func (t *runTally) snapshot() (ingested, skipped, failed int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ingested, t.skipped, t.failed
}

// FormatError keeps log lines readable: messages over 50 characters
// collapse to the innermost error in the chain.
func FormatError(err error) string {
	const maxLen = 50
	msg := err.Error()
	if len(msg) <= maxLen {
		return msg
	}
	root := err
	for {
		u := errors.Unwrap(root)
		if u == nil {
			break
		}
		root = u
	}
	msg = root.Error()
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}
