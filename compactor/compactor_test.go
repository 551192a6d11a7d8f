package compactor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/oysyn/plagindex/catalog"
	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/corpus"
	"github.com/oysyn/plagindex/errs"
	"github.com/oysyn/plagindex/segment"
)

func testConfig(t *testing.T, rootDir string) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.WMinDoc = 2
	cfg.RootDir = rootDir
	return cfg
}

func newTestStore(t *testing.T, cfg config.Config) *catalog.Store {
	t.Helper()
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.db")
	s, err := catalog.New(cfg)
	if err != nil {
		t.Fatalf("catalog.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// buildAndPublishL1 builds a one-document L1 segment directly (bypassing
// the queue/runner) and publishes it, returning its segment id.
func buildAndPublishL1(t *testing.T, ctx context.Context, store *catalog.Store, cfg config.Config, shardID uint16, docID, text string) uint64 {
	t.Helper()
	segID, err := store.AllocateSegment(ctx, shardID, 1)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	if err := store.UpsertDocument(ctx, catalog.DocumentRecord{DocID: docID, ShardID: shardID, Status: catalog.StatusNormalized}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	built, err := segment.Build(shardID, segID, 1, []segment.BuildDoc{{DocID: docID, Text: text}}, cfg)
	if err != nil {
		t.Fatalf("segment.Build: %v", err)
	}
	dir := segment.SegmentDir(cfg.RootDir, shardID, segID)
	if err := segment.Write(dir, built.Segment); err != nil {
		t.Fatalf("segment.Write: %v", err)
	}
	if err := store.PublishSegment(ctx, segID, shardID, catalog.SegmentStats{
		Path: dir, DocCount: uint32(len(built.Segment.DocIDs)), DocIDs: built.Segment.DocIDs,
	}); err != nil {
		t.Fatalf("PublishSegment: %v", err)
	}
	return segID
}

func TestCompactMergesSegmentsAndRetiresInputs(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.SegmentsPerLx = 2
	store := newTestStore(t, cfg)

	src, err := corpus.OpenJSONLStore()
	if err != nil {
		t.Fatalf("OpenJSONLStore: %v", err)
	}
	src.Put(corpus.Record{DocID: "d1", Text: "the quick brown fox jumps over the lazy dog repeatedly"})
	src.Put(corpus.Record{DocID: "d2", Text: "a completely different sentence about something else entirely"})

	seg1 := buildAndPublishL1(t, ctx, store, cfg, 0, "d1", "the quick brown fox jumps over the lazy dog repeatedly")
	seg2 := buildAndPublishL1(t, ctx, store, cfg, 0, "d2", "a completely different sentence about something else entirely")

	result, err := Compact(ctx, store, src, cfg, 0, 1)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if result.DocCount != 2 {
		t.Fatalf("expected 2 docs merged, got %d", result.DocCount)
	}

	live := store.LiveSegments()
	foundNew := false
	for _, ls := range live {
		if ls.SegmentID == result.NewSegmentID {
			foundNew = true
			if ls.Level != 2 {
				t.Fatalf("expected new segment at level 2, got %d", ls.Level)
			}
		}
		if ls.SegmentID == seg1 || ls.SegmentID == seg2 {
			t.Fatalf("old segment %d should no longer be live", ls.SegmentID)
		}
	}
	if !foundNew {
		t.Fatalf("new segment %d not found in live snapshot", result.NewSegmentID)
	}

	for _, docID := range []string{"d1", "d2"} {
		doc, err := store.GetDocument(ctx, docID)
		if err != nil {
			t.Fatalf("GetDocument(%s): %v", docID, err)
		}
		if doc.CurrentSegmentID == nil || *doc.CurrentSegmentID != result.NewSegmentID {
			t.Fatalf("expected %s to point at new segment, got %v", docID, doc.CurrentSegmentID)
		}
	}
}

func TestCompactNotEnoughSegments(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.SegmentsPerLx = 5
	store := newTestStore(t, cfg)

	src, _ := corpus.OpenJSONLStore()
	src.Put(corpus.Record{DocID: "d1", Text: "only one document here so far"})
	buildAndPublishL1(t, ctx, store, cfg, 0, "d1", "only one document here so far")

	_, err := Compact(ctx, store, src, cfg, 0, 1)
	if !errors.Is(err, ErrNotEnoughSegments) {
		t.Fatalf("expected ErrNotEnoughSegments, got %v", err)
	}

	// The segment must be unreserved again so a later attempt can pick it up.
	ready, err := store.ListReady(ctx, 0, []uint8{1})
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ready) != 1 || ready[0].Reserved {
		t.Fatalf("expected 1 unreserved ready segment, got %+v", ready)
	}
}

func TestCompactAbortsOnMissingSource(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.SegmentsPerLx = 2
	store := newTestStore(t, cfg)

	src, _ := corpus.OpenJSONLStore()
	src.Put(corpus.Record{DocID: "d1", Text: "the quick brown fox jumps over the lazy dog repeatedly"})
	// d2 deliberately absent from the source store.

	buildAndPublishL1(t, ctx, store, cfg, 0, "d1", "the quick brown fox jumps over the lazy dog repeatedly")
	seg2 := buildAndPublishL1(t, ctx, store, cfg, 0, "d2", "a completely different sentence about something else entirely")

	_, err := Compact(ctx, store, src, cfg, 0, 1)
	if !errors.Is(err, errs.MissingSource) {
		t.Fatalf("expected MissingSource, got %v", err)
	}

	// Inputs must remain untouched: both old segments still ready, doc still linked.
	ready, err := store.ListReady(ctx, 0, []uint8{1})
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected both input segments to remain ready, got %d", len(ready))
	}
	for _, rec := range ready {
		if rec.Reserved {
			t.Fatalf("segment %d should have had its reservation released", rec.SegmentID)
		}
	}

	doc, err := store.GetDocument(ctx, "d2")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.CurrentSegmentID == nil || *doc.CurrentSegmentID != seg2 {
		t.Fatalf("expected d2 to remain linked to seg2, got %v", doc.CurrentSegmentID)
	}
}

func TestRebuildMonolithFoldsEveryLevelRegardlessOfFanIn(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	cfg := testConfig(t, root)
	cfg.DocsPerL1 = 2
	cfg.SegmentsPerLx = 10 // fan-in threshold deliberately unmet at every level above 1
	store := newTestStore(t, cfg)

	src, _ := corpus.OpenJSONLStore()
	docs := []struct{ id, text string }{
		{"d1", "the quick brown fox jumps over the lazy dog repeatedly"},
		{"d2", "a completely different sentence about something else entirely"},
		{"d3", "yet another unrelated passage discussing unrelated matters"},
	}
	var segIDs []uint64
	for _, d := range docs {
		src.Put(corpus.Record{DocID: d.id, Text: d.text})
		segIDs = append(segIDs, buildAndPublishL1(t, ctx, store, cfg, 0, d.id, d.text))
	}

	// Below SegmentsPerLx, so a regular Compact at level 1 would not fire.
	if _, err := Compact(ctx, store, src, cfg, 0, 1); !errors.Is(err, ErrNotEnoughSegments) {
		t.Fatalf("expected ErrNotEnoughSegments from Compact, got %v", err)
	}

	result, err := RebuildMonolith(ctx, store, src, cfg, 0)
	if err != nil {
		t.Fatalf("RebuildMonolith: %v", err)
	}
	if result.DocCount != len(docs) {
		t.Fatalf("expected %d docs folded, got %d", len(docs), result.DocCount)
	}

	live := store.LiveSegments()
	foundNew := false
	for _, ls := range live {
		if ls.SegmentID == result.NewSegmentID {
			foundNew = true
			wantLevel := uint8(cfg.MaxAutoLevel + 1)
			if ls.Level != wantLevel {
				t.Fatalf("expected monolith segment at level %d, got %d", wantLevel, ls.Level)
			}
		}
		for _, old := range segIDs {
			if ls.SegmentID == old {
				t.Fatalf("input segment %d should no longer be live", old)
			}
		}
	}
	if !foundNew {
		t.Fatalf("monolith segment %d not found in live snapshot", result.NewSegmentID)
	}
}

func TestRebuildMonolithNothingToDo(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, t.TempDir())
	store := newTestStore(t, cfg)
	src, _ := corpus.OpenJSONLStore()

	if _, err := RebuildMonolith(ctx, store, src, cfg, 0); !errors.Is(err, ErrNotEnoughSegments) {
		t.Fatalf("expected ErrNotEnoughSegments on an empty shard, got %v", err)
	}
}
