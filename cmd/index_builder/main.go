// Command index_builder performs a one-shot bulk index of a JSONL
// corpus: ingest every record, then drive the background task runner
// until the catalog's etl_doc/compact_level backlog drains, rather than
// leaving workers running as a long-lived service. Grounded on the
// teacher's cmd/server/main.go flag/env/slog/signal idiom, adapted from
// an HTTP server's lifecycle to a batch job's.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oysyn/plagindex"
	"github.com/oysyn/plagindex/corpus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	outDir := flag.String("out", "", "Root directory for shard/segment output (overrides config root_dir)")
	concurrency := flag.Int("concurrency", 4, "Number of background worker goroutines")
	flag.Parse()
	corpusPaths := flag.Args()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(corpusPaths) == 0 {
		slog.Error("usage: index_builder [-config path] [-out dir] <corpus.jsonl> [more.jsonl...]")
		os.Exit(2)
	}

	cfg := plagindex.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}
	if *outDir != "" {
		cfg.RootDir = *outDir
	}
	if v := os.Getenv("PLAGINDEX_ROOT_DIR"); v != "" {
		cfg.RootDir = v
	}
	if v := os.Getenv("PLAGINDEX_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}

	store, err := corpus.OpenJSONLStore(corpusPaths...)
	if err != nil {
		slog.Error("loading corpus", "error", err)
		os.Exit(1)
	}

	engine, err := plagindex.New(cfg, store)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records := store.All()
	slog.Info("ingesting corpus", "documents", len(records), "files", len(corpusPaths))
	for _, rec := range records {
		if _, err := engine.IngestDocument(ctx, rec); err != nil {
			slog.Error("ingest failed", "doc_id", rec.DocID, "error", err)
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	runDone := make(chan error, 1)
	go func() { runDone <- engine.StartWorkers(runCtx, *concurrency) }()

	if err := waitForDrain(ctx, engine, 5*time.Second); err != nil {
		slog.Error("waiting for index to drain", "error", err)
	}
	cancelRun()
	<-runDone

	stats, err := engine.Stats(ctx)
	if err != nil {
		slog.Error("reading final stats", "error", err)
		os.Exit(1)
	}
	slog.Info("index build complete",
		"documents", stats.DocumentCount, "segments", stats.SegmentCount,
		"ready_segments", stats.ReadySegments, "pending_tasks", stats.PendingTasks)
}

// waitForDrain polls the catalog's pending-task count until it reaches
// zero or ctx is cancelled.
func waitForDrain(ctx context.Context, engine plagindex.Engine, pollEvery time.Duration) error {
	ticker := time.NewTicker(pollEvery)
	defer ticker.Stop()
	for {
		stats, err := engine.Stats(ctx)
		if err != nil {
			return err
		}
		if stats.PendingTasks == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
