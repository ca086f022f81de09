// Command statmirror mirrors an open-data table catalog into a parquet
// lake. Subcommands cover the individual pipeline stages; "run"
// executes the whole pass.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/statmirror/statmirror/internal/catalog"
	"github.com/statmirror/statmirror/internal/config"
	"github.com/statmirror/statmirror/internal/convert"
	"github.com/statmirror/statmirror/internal/crawler"
	"github.com/statmirror/statmirror/internal/fetch"
	"github.com/statmirror/statmirror/internal/ingest"
	"github.com/statmirror/statmirror/internal/logging"
	"github.com/statmirror/statmirror/internal/metrics"
	"github.com/statmirror/statmirror/internal/store"
	"github.com/statmirror/statmirror/internal/wds"
)

const usage = `usage: statmirror <command> [flags]

commands:
  discover  fetch and rank the remote catalog, write a local snapshot
  plan      report which datasets a run would ingest and why
  ingest    materialize due datasets and write the run manifest
  sync      reconcile the persisted catalog with store ground truth
  crawl     push new data folders to the external crawler
  run       discover, ingest, sync and crawl in one pass
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	// The hidden conversion worker must stay free of config and
	// logging setup: it is exec'd per dataset and only converts.
	if cmd == convert.WorkerCommand {
		runConvertWorker(os.Args[2:])
		return
	}

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	cfgPath := fs.String("config", "", "path to YAML config file")
	outPath := fs.String("out", "catalog.parquet", "local snapshot path (discover)")
	fs.Parse(os.Args[2:])

	cfg := config.MustLoad(*cfgPath)
	logging.Setup(cfg.Logging)
	runID := logging.GenerateRunID()
	log := logging.Component("main").With("run_id", runID)

	if cfg.Metrics.Enabled {
		metrics.Init("")
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Address); err != nil {
				log.Error("metrics server failed", "error", err)
			}
		}()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithRunID(ctx, runID)

	var err error
	switch cmd {
	case "discover":
		err = runDiscover(ctx, cfg, *outPath)
	case "plan":
		err = runPlan(ctx, cfg)
	case "ingest":
		err = runIngest(ctx, cfg)
	case "sync":
		err = runSync(ctx, cfg)
	case "crawl":
		err = runCrawl(ctx, cfg)
	case "run":
		err = runAll(ctx, cfg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
}

func runConvertWorker(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: statmirror "+convert.WorkerCommand+" <input.csv> <output.parquet>")
		os.Exit(2)
	}
	if err := convert.Convert(args[0], args[1]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDiscover(ctx context.Context, cfg config.Config, outPath string) error {
	log := logging.Component("discover")

	fresh, err := wds.New(cfg.APIBase).ListAllDatasets(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ranked := wds.RankCatalog(fresh, now)

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := parquet.Write[catalog.Dataset](f, ranked); err != nil {
		f.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	top := ranked
	if len(top) > 10 {
		top = top[:10]
	}
	for _, d := range top {
		log.Info("top dataset",
			"product_id", d.ProductID,
			"title", d.Title,
			"score", wds.Score(d, now))
	}
	log.Info("snapshot written", "path", outPath, "datasets", len(ranked))
	return nil
}

func runPlan(ctx context.Context, cfg config.Config) error {
	log := logging.Component("plan")

	st, err := store.Open(ctx, cfg.Storage, cfg.Source)
	if err != nil {
		return err
	}
	defer st.Close()

	merged, decisions, err := reconcile(ctx, cfg, st)
	if err != nil {
		return err
	}

	var fresh, due int
	for _, d := range decisions {
		switch d.Reason {
		case catalog.ReasonNew:
			fresh++
		case catalog.ReasonUpdateDue:
			due++
		}
		log.Info("would ingest",
			"product_id", d.ProductID,
			"title", d.Title,
			"frequency", d.Frequency,
			"reason", d.Reason)
	}
	log.Info("plan complete", "catalog", len(merged), "new", fresh, "update_due", due)
	return nil
}

func runIngest(ctx context.Context, cfg config.Config) error {
	st, err := store.Open(ctx, cfg.Storage, cfg.Source)
	if err != nil {
		return err
	}
	defer st.Close()
	return ingestBatch(ctx, cfg, st)
}

func runSync(ctx context.Context, cfg config.Config) error {
	st, err := store.Open(ctx, cfg.Storage, cfg.Source)
	if err != nil {
		return err
	}
	defer st.Close()

	fresh, err := wds.New(cfg.APIBase).ListAllDatasets(ctx)
	if err != nil {
		return err
	}
	return syncCatalog(ctx, cfg, st, fresh)
}

func runCrawl(ctx context.Context, cfg config.Config) error {
	st, err := store.Open(ctx, cfg.Storage, cfg.Source)
	if err != nil {
		return err
	}
	defer st.Close()
	return crawlFolders(ctx, cfg, st)
}

// runAll is one full mirror pass.
func runAll(ctx context.Context, cfg config.Config) error {
	log := logging.Component("run")

	st, err := store.Open(ctx, cfg.Storage, cfg.Source)
	if err != nil {
		return err
	}
	defer st.Close()

	fresh, err := wds.New(cfg.APIBase).ListAllDatasets(ctx)
	if err != nil {
		return err
	}

	if err := ingestBatchWithCatalog(ctx, cfg, st, fresh); err != nil {
		return err
	}
	if err := syncCatalog(ctx, cfg, st, fresh); err != nil {
		return err
	}

	// Crawler sync failing never fails the run: the data and catalog
	// are already persisted, the next pass retries.
	if cfg.Crawler.Enabled {
		if err := crawlFolders(ctx, cfg, st); err != nil {
			log.Warn("crawler sync failed", "error", err)
			if m := metrics.Get(); m != nil {
				m.IncCrawlerErrors(cfg.Source)
			}
		}
	}
	return nil
}

// reconcile fetches the fresh catalog, merges the persisted stamps in
// and computes the capped decision list.
func reconcile(ctx context.Context, cfg config.Config, st *store.Store) ([]catalog.Dataset, []catalog.Decision, error) {
	fresh, err := wds.New(cfg.APIBase).ListAllDatasets(ctx)
	if err != nil {
		return nil, nil, err
	}
	existing, err := st.ExistingIDs(ctx)
	if err != nil {
		return nil, nil, err
	}
	merged, decisions := reconcileWith(cfg, st.ReadCatalog(ctx), fresh, existing)
	return merged, decisions, nil
}

// reconcileWith computes the decision list from the fresh catalog, the
// persisted snapshot and the store's folder listing. The listing is the
// ground truth for "already have": datasets with a folder are never
// onboarded as new again even when the snapshot lost their stamp.
func reconcileWith(cfg config.Config, previous, fresh []catalog.Dataset, existing map[int64]bool) ([]catalog.Dataset, []catalog.Decision) {
	now := time.Now().UTC()
	ranked := wds.RankCatalog(fresh, now)
	merged := catalog.MergeMetadata(ranked, previous)
	decisions := catalog.Reconcile(merged, previous, now)
	decisions = catalog.DropMaterialized(decisions, existing)
	decisions = catalog.LimitNew(decisions, cfg.Ingest.Limit)
	return merged, decisions
}

func ingestBatch(ctx context.Context, cfg config.Config, st *store.Store) error {
	fresh, err := wds.New(cfg.APIBase).ListAllDatasets(ctx)
	if err != nil {
		return err
	}
	return ingestBatchWithCatalog(ctx, cfg, st, fresh)
}

// ingestBatchWithCatalog runs the batch orchestrator over the decided
// selection, persists the manifest and uploads the payloads.
func ingestBatchWithCatalog(ctx context.Context, cfg config.Config, st *store.Store, fresh []catalog.Dataset) error {
	log := logging.Component("ingest")

	existing, err := st.ExistingIDs(ctx)
	if err != nil {
		return err
	}
	merged, decisions := reconcileWith(cfg, st.ReadCatalog(ctx), fresh, existing)

	selected := catalog.SelectDecided(merged, decisions)
	selected = catalog.Filter(selected, nil, cfg.Ingest.SkipHidden, -1)
	log.Info("selection ready", "decisions", len(decisions), "after_hidden_filter", len(selected))

	client := wds.New(cfg.APIBase)
	runner, err := convert.NewRunner(time.Duration(cfg.Ingest.ConversionTimeoutSeconds) * time.Second)
	if err != nil {
		return err
	}
	fetcher := fetch.New(client, runner, fetch.Config{
		MaxDownloadMB:     cfg.Ingest.MaxDownloadMB,
		MaxUncompressedMB: cfg.Ingest.MaxUncompressedMB,
		DataDir:           cfg.Ingest.DataDir,
		TempDir:           cfg.Ingest.TempDir,
	})

	orch := ingest.New(fetcher, ingest.Config{
		Workers:    cfg.Ingest.Workers,
		MaxTotalGB: cfg.Ingest.MaxTotalGB,
		Source:     cfg.Source,
	})
	summary, entries := orch.Run(ctx, selected)

	// Uploads run first so the manifest only records payloads that
	// actually landed; anything else stays unstamped and is retried as
	// new on the next run. Losing the manifest is fatal even when it is
	// empty.
	uploaded := st.UploadEntries(ctx, cfg.Ingest.DataDir, entries)
	if err := st.WriteManifest(ctx, uploaded); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStoreErrors(cfg.Source, "write_manifest")
		}
		return err
	}

	log.Info("batch done",
		"ingested", summary.Ingested,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"total_gb", summary.TotalMB/1000,
		"cap_reached", summary.CapReached)
	return nil
}

// syncCatalog folds the manifest and store ground truth back into the
// persisted catalog snapshot.
func syncCatalog(ctx context.Context, cfg config.Config, st *store.Store, fresh []catalog.Dataset) error {
	log := logging.Component("sync")
	now := time.Now().UTC()

	merged := catalog.MergeMetadata(wds.RankCatalog(fresh, now), st.ReadCatalog(ctx))

	manifest, err := st.ReadManifest(ctx)
	if err != nil {
		return err
	}
	ingested := make(map[int64]bool, len(manifest))
	for _, e := range manifest {
		ingested[e.ProductID] = true
	}
	merged = catalog.StampIngested(merged, ingested, now)

	existing, err := st.ExistingIDs(ctx)
	if err != nil {
		return err
	}
	merged = catalog.MarkAvailable(merged, existing)

	if err := st.WriteCatalog(ctx, merged); err != nil {
		if m := metrics.Get(); m != nil {
			m.IncStoreErrors(cfg.Source, "write_catalog")
		}
		return err
	}

	available := 0
	for _, d := range merged {
		if d.Available {
			available++
		}
	}
	log.Info("catalog synced",
		"datasets", len(merged),
		"available", available,
		"stamped", len(ingested))
	return nil
}

func crawlFolders(ctx context.Context, cfg config.Config, st *store.Store) error {
	folders, err := st.ExistingFolders(ctx)
	if err != nil {
		return err
	}
	syncer, err := crawler.New(cfg.Crawler)
	if err != nil {
		return err
	}
	return syncer.Sync(ctx, folders)
}
