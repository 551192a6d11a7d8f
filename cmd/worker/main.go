// Command worker runs the background task runner as a long-lived
// service: it drains etl_doc and compact_level tasks enqueued by
// another process (e.g. an ingest API) against a shared catalog, until
// terminated. Grounded on the teacher's cmd/server/main.go signal-driven
// graceful-shutdown idiom, with the HTTP listener replaced by the task
// runner's own blocking Run loop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/oysyn/plagindex"
	"github.com/oysyn/plagindex/corpus"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	concurrency := flag.Int("concurrency", 4, "Number of background worker goroutines")
	corpusFlag := flag.String("corpus", "", "Comma-separated JSONL corpus files backing doc re-ingest for compaction")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

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
	if v := os.Getenv("PLAGINDEX_ROOT_DIR"); v != "" {
		cfg.RootDir = v
	}
	if v := os.Getenv("PLAGINDEX_CATALOG_PATH"); v != "" {
		cfg.CatalogPath = v
	}

	paths := splitNonEmpty(*corpusFlag, ',')
	store, err := corpus.OpenJSONLStore(paths...)
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

	slog.Info("worker starting", "concurrency", *concurrency)
	if err := engine.StartWorkers(ctx, *concurrency); err != nil && err != context.Canceled {
		slog.Error("worker exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("worker stopped")
}

func splitNonEmpty(s string, sep byte) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
