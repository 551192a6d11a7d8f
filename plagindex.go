// Package plagindex is the shingle/SimHash/MinHash similarity-search
// engine: Engine is the single entry point wiring together the Segment
// Store (catalog), the Segment Builder/format (segment), the
// background Work Queue (queue), the Compactor, and query-time Search.
// Grounded on the teacher's goreason.Engine: an interface + functional-
// options public API, a concrete unexported struct, New/Close, with
// ingest decomposed into discrete stages logged at each boundary.
package plagindex

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/oysyn/plagindex/catalog"
	"github.com/oysyn/plagindex/compactor"
	"github.com/oysyn/plagindex/corpus"
	"github.com/oysyn/plagindex/queue"
	"github.com/oysyn/plagindex/search"
	"github.com/oysyn/plagindex/segment"
)

// Engine is the main entry point for the similarity index.
type Engine interface {
	// IngestDocument records doc, stores its text in the source store,
	// and enqueues an etl_doc task that builds it into a level-1
	// segment. Returns the enqueued task's id.
	IngestDocument(ctx context.Context, doc corpus.Record) (int64, error)

	// Query runs a similarity search for text against every live
	// segment and returns the top ranked hits.
	Query(ctx context.Context, text string, opts ...QueryOption) (*search.Result, error)

	// Compact merges the oldest eligible ready segments of (shardID,
	// level) into one rebuilt segment at level+1. Returns
	// compactor.ErrNotEnoughSegments if the fan-in threshold isn't met
	// yet; that is not a failure, just "not ready."
	Compact(ctx context.Context, shardID uint16, level uint8) (*compactor.Result, error)

	// RebuildMonolith enqueues the 5th tier's bulk build: every ready
	// segment of shardID at or below the configured MaxAutoLevel is
	// folded into one new monolith segment. Returns the enqueued task's
	// id; the actual rebuild runs asynchronously via StartWorkers.
	RebuildMonolith(ctx context.Context, shardID uint16) (int64, error)

	// StartWorkers runs the background task runner (etl_doc and
	// compact_level handlers) until ctx is cancelled. Blocks; run it in
	// its own goroutine.
	StartWorkers(ctx context.Context, concurrency int) error

	// Stats reports catalog-wide counters for diagnostics.
	Stats(ctx context.Context) (catalog.Stats, error)

	// Store exposes the underlying catalog for diagnostic/admin access.
	Store() *catalog.Store

	// Close shuts down the engine's catalog connection.
	Close() error
}

// QueryOption configures a single Query call.
type QueryOption func(*queryOptions)

type queryOptions struct {
	topK int
}

// WithTopK overrides the default number of ranked hits returned.
func WithTopK(n int) QueryOption {
	return func(o *queryOptions) { o.topK = n }
}

const defaultTopK = 10

// engine is the concrete implementation of Engine.
type engine struct {
	cfg    Config
	store  *catalog.Store
	src    corpus.SourceStore
	q      *queue.Queue
	runner *queue.Runner
}

// New opens the catalog at cfg's resolved path, wires the task queue's
// handlers, and returns a ready-to-use Engine. src supplies raw text
// for both original ingest's build step and the Compactor's re-ingest
// step.
func New(cfg Config, src corpus.SourceStore) (Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	store, err := catalog.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("plagindex: open catalog: %w", err)
	}

	e := &engine{
		cfg:   cfg,
		store: store,
		src:   src,
		q:     queue.New(store.DB()),
	}
	e.runner = queue.NewRunner(e.q, 0)
	e.runner.Register(queue.TaskETLDoc, e.handleETLDoc)
	e.runner.Register(queue.TaskCompactLevel, e.handleCompactLevel)
	e.runner.Register(queue.TaskRebuildL5Monolith, e.handleRebuildL5Monolith)
	return e, nil
}

func (e *engine) IngestDocument(ctx context.Context, doc corpus.Record) (int64, error) {
	if put, ok := e.src.(interface{ Put(corpus.Record) }); ok {
		put.Put(doc)
	}
	if err := e.store.UpsertDocument(ctx, catalog.DocumentRecord{
		DocID: doc.DocID, ShardID: e.shardFor(doc.DocID), Status: catalog.StatusUploaded,
		Title: doc.Title, Author: doc.Author,
	}); err != nil {
		return 0, fmt.Errorf("plagindex: upsert document %s: %w", doc.DocID, err)
	}

	taskID, err := e.q.Enqueue(ctx, queue.TaskETLDoc, etlPayload{DocID: doc.DocID, ShardID: e.shardFor(doc.DocID)})
	if err != nil {
		return 0, fmt.Errorf("plagindex: enqueue etl_doc for %s: %w", doc.DocID, err)
	}
	slog.Info("plagindex: document queued", "doc_id", doc.DocID, "task_id", taskID)
	return taskID, nil
}

type etlPayload struct {
	DocID   string `json:"doc_id"`
	ShardID uint16 `json:"shard_id"`
}

// handleETLDoc builds a single document into its own level-1 segment.
// Real deployments would batch many pending documents per segment
// (cfg.DocsPerL1 of them) before building; this engine builds one
// document per task and relies on the Compactor's regular fan-in to
// merge small segments up, keeping the task handler itself simple and
// idempotent (retrying it just re-builds the same one document).
func (e *engine) handleETLDoc(ctx context.Context, task queue.Task) error {
	var payload etlPayload
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("plagindex: decode etl_doc payload: %w", err)
	}

	text, err := e.src.FetchText(ctx, payload.DocID)
	if err != nil {
		_ = e.store.RecordIndexError(ctx, payload.DocID, "etl", "MISSING_SOURCE", err.Error())
		return err
	}

	rec := corpus.Record{DocID: payload.DocID, Text: text}
	if getter, ok := e.src.(interface {
		Get(string) (corpus.Record, bool)
	}); ok {
		if full, ok := getter.Get(payload.DocID); ok {
			rec = full
		}
	}

	segID, err := e.store.AllocateSegment(ctx, payload.ShardID, 1)
	if err != nil {
		return fmt.Errorf("plagindex: allocate segment: %w", err)
	}

	built, err := segment.Build(payload.ShardID, segID, 1, []segment.BuildDoc{
		{DocID: rec.DocID, Text: rec.Text, Title: rec.Title, Author: rec.Author},
	}, e.cfg)
	if err != nil {
		_ = e.store.MarkSegmentError(ctx, segID)
		return fmt.Errorf("plagindex: build segment: %w", err)
	}
	if len(built.Skipped) > 0 {
		for _, sk := range built.Skipped {
			_ = e.store.RecordIndexError(ctx, sk.DocID, sk.Stage, sk.Code, "below w_min_doc")
		}
		_ = e.store.MarkSegmentError(ctx, segID)
		return nil // TOO_SHORT is an expected, non-retryable outcome, not a task failure
	}

	dir := segment.SegmentDir(e.cfg.RootDir, payload.ShardID, segID)
	if err := segment.Write(dir, built.Segment); err != nil {
		_ = e.store.MarkSegmentError(ctx, segID)
		return fmt.Errorf("plagindex: write segment: %w", err)
	}

	var shingleCount uint64
	for _, c := range built.Segment.Stats {
		shingleCount += c
	}
	if err := e.store.PublishSegment(ctx, segID, payload.ShardID, catalog.SegmentStats{
		Path: dir, DocCount: uint32(len(built.Segment.DocIDs)), ShingleCount: shingleCount,
		DocIDs: built.Segment.DocIDs,
	}); err != nil {
		_ = e.store.MarkSegmentError(ctx, segID)
		return fmt.Errorf("plagindex: publish segment: %w", err)
	}
	return nil
}

type compactPayload struct {
	ShardID uint16 `json:"shard_id"`
	Level   uint8  `json:"level"`
}

func (e *engine) handleCompactLevel(ctx context.Context, task queue.Task) error {
	var payload compactPayload
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("plagindex: decode compact_level payload: %w", err)
	}
	_, err := compactor.Compact(ctx, e.store, e.src, e.cfg, payload.ShardID, payload.Level)
	if err == compactor.ErrNotEnoughSegments {
		return nil // not a failure, just not ready yet
	}
	return err
}

type monolithPayload struct {
	ShardID uint16 `json:"shard_id"`
}

// handleRebuildL5Monolith runs the 5th tier's special bulk build: every
// ready segment of the shard at or below cfg.MaxAutoLevel is folded
// into one monolith segment, bypassing the regular per-level fan-in
// threshold entirely. Operators enqueue this directly. Neither this
// task nor compact_level has an automatic trigger: the engine itself
// enqueues only etl_doc tasks, and compact_level checks its count
// threshold only when a task for it is run.
func (e *engine) handleRebuildL5Monolith(ctx context.Context, task queue.Task) error {
	var payload monolithPayload
	if err := json.Unmarshal([]byte(task.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("plagindex: decode rebuild_l5_monolith payload: %w", err)
	}
	_, err := compactor.RebuildMonolith(ctx, e.store, e.src, e.cfg, payload.ShardID)
	if err == compactor.ErrNotEnoughSegments {
		return nil // nothing below the monolith level yet, not a failure
	}
	return err
}

func (e *engine) Query(ctx context.Context, text string, opts ...QueryOption) (*search.Result, error) {
	options := &queryOptions{topK: defaultTopK}
	for _, o := range opts {
		o(options)
	}
	return search.Query(ctx, e.store, text, e.cfg, options.topK)
}

func (e *engine) Compact(ctx context.Context, shardID uint16, level uint8) (*compactor.Result, error) {
	return compactor.Compact(ctx, e.store, e.src, e.cfg, shardID, level)
}

func (e *engine) RebuildMonolith(ctx context.Context, shardID uint16) (int64, error) {
	taskID, err := e.q.Enqueue(ctx, queue.TaskRebuildL5Monolith, monolithPayload{ShardID: shardID})
	if err != nil {
		return 0, fmt.Errorf("plagindex: enqueue rebuild_l5_monolith for shard %d: %w", shardID, err)
	}
	slog.Info("plagindex: monolith rebuild queued", "shard_id", shardID, "task_id", taskID)
	return taskID, nil
}

func (e *engine) StartWorkers(ctx context.Context, concurrency int) error {
	if concurrency > 0 {
		e.runner = queue.NewRunner(e.q, concurrency)
		e.runner.Register(queue.TaskETLDoc, e.handleETLDoc)
		e.runner.Register(queue.TaskCompactLevel, e.handleCompactLevel)
		e.runner.Register(queue.TaskRebuildL5Monolith, e.handleRebuildL5Monolith)
	}
	return e.runner.Run(ctx)
}

func (e *engine) Stats(ctx context.Context) (catalog.Stats, error) {
	return e.store.Stats(ctx)
}

func (e *engine) Store() *catalog.Store { return e.store }

func (e *engine) Close() error {
	return e.store.Close()
}

// shardFor maps a doc_id to a shard index. Single-shard configurations
// (the default) always return 0; multi-shard configurations hash the
// doc_id, grounded on the original system's static-partition sharding.
func (e *engine) shardFor(docID string) uint16 {
	if e.cfg.ShardCount <= 1 {
		return 0
	}
	var h uint32
	for i := 0; i < len(docID); i++ {
		h = h*31 + uint32(docID[i])
	}
	return uint16(int(h) % e.cfg.ShardCount)
}
