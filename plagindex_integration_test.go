package plagindex_test

// End-to-end scenarios against the public Engine API, one per
// documented behavior: exact-duplicate detection, query-length
// rejection, partial overlap scoring, compaction result preservation,
// corrupt-segment isolation, and the level-5 monolith rebuild. The
// compaction, corruption and monolith scenarios also publish segments
// directly through the catalog and segment packages. Grounded on the teacher's
// integration-style tests in goreason_test.go, which exercise the
// whole Engine rather than one package at a time.

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/oysyn/plagindex"
	"github.com/oysyn/plagindex/catalog"
	"github.com/oysyn/plagindex/corpus"
	"github.com/oysyn/plagindex/search"
	"github.com/oysyn/plagindex/segment"
)

func newTestConfig(t *testing.T) plagindex.Config {
	t.Helper()
	cfg := plagindex.DefaultConfig()
	cfg.RootDir = t.TempDir()
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.db")
	return cfg
}

func newTestEngine(t *testing.T, cfg plagindex.Config) (plagindex.Engine, *corpus.JSONLStore) {
	t.Helper()
	store, err := corpus.OpenJSONLStore()
	if err != nil {
		t.Fatalf("OpenJSONLStore: %v", err)
	}
	engine, err := plagindex.New(cfg, store)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine, store
}

// drain ingests recs through the normal IngestDocument -> etl_doc task
// path and runs the background workers until the task backlog empties.
func drain(t *testing.T, ctx context.Context, engine plagindex.Engine, recs []corpus.Record) {
	t.Helper()
	for _, rec := range recs {
		if _, err := engine.IngestDocument(ctx, rec); err != nil {
			t.Fatalf("IngestDocument(%s): %v", rec.DocID, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- engine.StartWorkers(runCtx, 2) }()

	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := engine.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.PendingTasks == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for task backlog to drain")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

// buildL1Segment bypasses the task queue to publish a segment directly
// at level 1, for scenarios (compaction, corruption) that need control
// over segment boundaries the one-doc-per-task ETL path doesn't give.
func buildL1Segment(t *testing.T, ctx context.Context, store *catalog.Store, cfg plagindex.Config, docs []segment.BuildDoc) uint64 {
	t.Helper()
	for _, d := range docs {
		if err := store.UpsertDocument(ctx, catalog.DocumentRecord{DocID: d.DocID, ShardID: 0}); err != nil {
			t.Fatalf("UpsertDocument(%s): %v", d.DocID, err)
		}
	}
	segID, err := store.AllocateSegment(ctx, 0, 1)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	built, err := segment.Build(0, segID, 1, docs, cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	dir := segment.SegmentDir(cfg.RootDir, 0, segID)
	if err := segment.Write(dir, built.Segment); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := store.PublishSegment(ctx, segID, 0, catalog.SegmentStats{
		Path: dir, DocCount: uint32(len(built.Segment.DocIDs)), DocIDs: built.Segment.DocIDs,
	}); err != nil {
		t.Fatalf("PublishSegment: %v", err)
	}
	return segID
}

func TestS1_IdenticalTextIsPlagiarism(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	engine, _ := newTestEngine(t, cfg)

	text := "the quick brown fox jumps over the lazy dog and a cat too"
	drain(t, ctx, engine, []corpus.Record{{DocID: "D1", Text: text}})

	result, err := engine.Query(ctx, text)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Hits) != 1 {
		t.Fatalf("expected exactly one hit, got %d: %+v", len(result.Hits), result.Hits)
	}
	hit := result.Hits[0]
	if hit.DocID != "D1" {
		t.Fatalf("expected hit for D1, got %s", hit.DocID)
	}
	if hit.Score < cfg.PlagThreshold {
		t.Fatalf("expected score >= plag_thr (%f), got %f", cfg.PlagThreshold, hit.Score)
	}
	if hit.Decision != search.DecisionPlagiarism {
		t.Fatalf("expected decision plagiarism, got %s", hit.Decision)
	}
}

func TestS2_ShortQueryRejected(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	engine, _ := newTestEngine(t, cfg)

	_, err := engine.Query(ctx, "abc def ghi")
	if err == nil {
		t.Fatalf("expected an error for a query under w_min_query tokens")
	}
}

func TestS3_PartialOverlapScoresBelowPlagiarism(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	engine, _ := newTestEngine(t, cfg)

	docText := "A B C D E F G H I J K L M"
	queryText := "A B C D E F G H I X Y Z W"
	drain(t, ctx, engine, []corpus.Record{{DocID: "D2", Text: docText}})

	result, err := engine.Query(ctx, queryText)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Hits) == 0 {
		t.Fatalf("expected at least one hit for the overlapping prefix")
	}
	hit := result.Hits[0]
	if hit.DocID != "D2" {
		t.Fatalf("expected hit for D2, got %s", hit.DocID)
	}
	if !(hit.Score > 0 && hit.Score < cfg.PlagThreshold) {
		t.Fatalf("expected 0 < score < plag_thr for a partial-prefix match, got %f", hit.Score)
	}
}

func TestS4_CompactionPreservesResults(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.SegmentsPerLx = 3
	engine, store := newTestEngine(t, cfg)
	catStore := engine.Store()

	groups := [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}, {8, 9}}
	docs := make([]corpus.Record, 10)
	for i := range docs {
		docs[i] = corpus.Record{
			DocID: fmt.Sprintf("doc-%d", i),
			Text:  fmt.Sprintf("document number %d contains enough unique tokens to pass the minimum word count threshold", i),
		}
		store.Put(docs[i])
	}

	for _, idxs := range groups {
		group := make([]segment.BuildDoc, 0, len(idxs))
		for _, i := range idxs {
			group = append(group, segment.BuildDoc{DocID: docs[i].DocID, Text: docs[i].Text})
		}
		buildL1Segment(t, ctx, catStore, cfg, group)
	}

	before, err := engine.Query(ctx, docs[0].Text)
	if err != nil {
		t.Fatalf("Query before compaction: %v", err)
	}
	if len(before.Hits) == 0 || before.Hits[0].DocID != docs[0].DocID {
		t.Fatalf("expected doc-0 as the top hit before compaction: %+v", before.Hits)
	}
	beforeScore := before.Hits[0].Score

	result, err := engine.Compact(ctx, 0, 1)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.DocCount != 10 {
		t.Fatalf("expected all 10 docs merged into the new segment, got %d", result.DocCount)
	}

	live := catStore.LiveSegments()
	if len(live) != 1 {
		t.Fatalf("expected exactly one live segment after compaction, got %d", len(live))
	}
	if live[0].Level != 2 {
		t.Fatalf("expected the merged segment at level 2, got level %d", live[0].Level)
	}

	after, err := engine.Query(ctx, docs[0].Text)
	if err != nil {
		t.Fatalf("Query after compaction: %v", err)
	}
	if len(after.Hits) == 0 || after.Hits[0].DocID != docs[0].DocID {
		t.Fatalf("expected doc-0 still found after compaction: %+v", after.Hits)
	}
	if after.Hits[0].Score != beforeScore {
		t.Fatalf("expected compaction to preserve the score exactly: before=%f after=%f", beforeScore, after.Hits[0].Score)
	}
}

func TestS5_CorruptSegmentIsSkippedNotCrashed(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	engine, store := newTestEngine(t, cfg)
	catStore := engine.Store()

	good := corpus.Record{DocID: "good", Text: "a perfectly fine document with plenty of unique words for indexing purposes today"}
	bad := corpus.Record{DocID: "bad", Text: "another distinct document that will end up corrupted on disk after indexing completes"}
	store.Put(good)
	store.Put(bad)

	goodSegID := buildL1Segment(t, ctx, catStore, cfg, []segment.BuildDoc{{DocID: good.DocID, Text: good.Text}})
	badSegID := buildL1Segment(t, ctx, catStore, cfg, []segment.BuildDoc{{DocID: bad.DocID, Text: bad.Text}})
	_ = goodSegID

	badPath := filepath.Join(segment.SegmentDir(cfg.RootDir, 0, badSegID), segment.BinaryFile)
	corruptLastBodyByte(t, badPath)

	result, err := engine.Query(ctx, good.Text)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Hits) == 0 || result.Hits[0].DocID != good.DocID {
		t.Fatalf("expected the surviving segment's document still found, got %+v", result.Hits)
	}

	for _, ls := range catStore.LiveSegments() {
		if ls.SegmentID == badSegID {
			t.Fatalf("expected the corrupted segment to have been marked error and dropped from the live snapshot")
		}
	}
}

func TestS6_RebuildMonolithFoldsAllLevelsAtOnce(t *testing.T) {
	ctx := context.Background()
	cfg := newTestConfig(t)
	cfg.SegmentsPerLx = 10 // high enough that a regular compact_level never fires
	engine, store := newTestEngine(t, cfg)
	catStore := engine.Store()

	docs := make([]corpus.Record, 3)
	for i := range docs {
		docs[i] = corpus.Record{
			DocID: fmt.Sprintf("mono-%d", i),
			Text:  fmt.Sprintf("monolith candidate document %d contains enough unique tokens for the builder", i),
		}
		store.Put(docs[i])
		buildL1Segment(t, ctx, catStore, cfg, []segment.BuildDoc{{DocID: docs[i].DocID, Text: docs[i].Text}})
	}

	taskID, err := engine.RebuildMonolith(ctx, 0)
	if err != nil {
		t.Fatalf("RebuildMonolith: %v", err)
	}
	if taskID == 0 {
		t.Fatalf("expected a non-zero task id")
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- engine.StartWorkers(runCtx, 1) }()
	deadline := time.Now().Add(10 * time.Second)
	for {
		stats, err := engine.Stats(ctx)
		if err != nil {
			t.Fatalf("Stats: %v", err)
		}
		if stats.PendingTasks == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the monolith rebuild task to finish")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	live := catStore.LiveSegments()
	if len(live) != 1 {
		t.Fatalf("expected exactly one live segment after monolith rebuild, got %d", len(live))
	}
	wantLevel := uint8(cfg.MaxAutoLevel + 1)
	if live[0].Level != wantLevel {
		t.Fatalf("expected the monolith segment at level %d, got %d", wantLevel, live[0].Level)
	}

	result, err := engine.Query(ctx, docs[0].Text)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(result.Hits) == 0 || result.Hits[0].DocID != docs[0].DocID {
		t.Fatalf("expected mono-0 still found after monolith rebuild: %+v", result.Hits)
	}
}

// corruptLastBodyByte flips every bit of the byte just before the
// trailing CRC32, guaranteeing the checksum no longer matches without
// needing to know the exact section boundaries.
func corruptLastBodyByte(t *testing.T, path string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(data) < 5 {
		t.Fatalf("segment file too small to corrupt: %d bytes", len(data))
	}
	idx := len(data) - 5
	data[idx] ^= 0xFF
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}
