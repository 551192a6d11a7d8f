package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/oysyn/plagindex/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.Default()
	cfg.CatalogPath = filepath.Join(t.TempDir(), "catalog.db")
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAllocatePublishListRetire(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	segID, err := s.AllocateSegment(ctx, 0, 1)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}

	if err := s.UpsertDocument(ctx, DocumentRecord{DocID: "d1", ShardID: 0, Status: StatusNormalized}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}

	if err := s.PublishSegment(ctx, segID, 0, SegmentStats{
		Path: "shard-0/seg-1", DocCount: 1, ShingleCount: 5, SizeBytes: 100,
		DocIDs: []string{"d1"},
	}); err != nil {
		t.Fatalf("PublishSegment: %v", err)
	}

	live := s.LiveSegments()
	if len(live) != 1 || live[0].SegmentID != segID {
		t.Fatalf("expected 1 live segment with id %d, got %+v", segID, live)
	}

	ready, err := s.ListReady(ctx, 0, nil)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	if len(ready) != 1 || ready[0].DocCount != 1 {
		t.Fatalf("expected 1 ready segment with doc_count=1, got %+v", ready)
	}

	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.CurrentSegmentID == nil || *doc.CurrentSegmentID != segID {
		t.Fatalf("expected d1.current_segment_id = %d, got %v", segID, doc.CurrentSegmentID)
	}
	if doc.Status != StatusIndexed {
		t.Fatalf("expected status indexed, got %s", doc.Status)
	}

	// Retire should fail while the doc still points at the segment.
	if err := s.RetireSegment(ctx, segID); err == nil {
		t.Fatalf("expected retire to fail while segment still referenced")
	}

	// Relink away, then retire should succeed.
	otherSeg, err := s.AllocateSegment(ctx, 0, 2)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	if err := s.RelinkDocs(ctx, []string{"d1"}, otherSeg); err != nil {
		t.Fatalf("RelinkDocs: %v", err)
	}
	if err := s.RetireSegment(ctx, segID); err != nil {
		t.Fatalf("RetireSegment: %v", err)
	}

	live = s.LiveSegments()
	for _, ls := range live {
		if ls.SegmentID == segID {
			t.Fatalf("retired segment %d still present in live snapshot", segID)
		}
	}
}

func TestLockForCompactionNoDoubleReserve(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var ids []uint64
	for i := 0; i < 5; i++ {
		id, err := s.AllocateSegment(ctx, 0, 1)
		if err != nil {
			t.Fatalf("AllocateSegment: %v", err)
		}
		if err := s.PublishSegment(ctx, id, 0, SegmentStats{Path: "x", DocCount: 1}); err != nil {
			t.Fatalf("PublishSegment: %v", err)
		}
		ids = append(ids, id)
	}

	first, err := s.LockForCompaction(ctx, 0, 1, 3)
	if err != nil {
		t.Fatalf("LockForCompaction: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("expected 3 reserved segments, got %d", len(first))
	}

	second, err := s.LockForCompaction(ctx, 0, 1, 3)
	if err != nil {
		t.Fatalf("LockForCompaction: %v", err)
	}
	if len(second) != 2 {
		t.Fatalf("expected 2 remaining unreserved segments, got %d", len(second))
	}

	seen := map[uint64]bool{}
	for _, rec := range first {
		seen[rec.SegmentID] = true
	}
	for _, rec := range second {
		if seen[rec.SegmentID] {
			t.Fatalf("segment %d reserved twice", rec.SegmentID)
		}
	}
}

func TestDocsForSegments(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	segID, err := s.AllocateSegment(ctx, 0, 1)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	for _, d := range []string{"a", "b", "c"} {
		if err := s.UpsertDocument(ctx, DocumentRecord{DocID: d, ShardID: 0}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.PublishSegment(ctx, segID, 0, SegmentStats{DocIDs: []string{"a", "b", "c"}, DocCount: 3}); err != nil {
		t.Fatalf("PublishSegment: %v", err)
	}

	docIDs, err := s.DocsForSegments(ctx, []uint64{segID})
	if err != nil {
		t.Fatalf("DocsForSegments: %v", err)
	}
	if len(docIDs) != 3 {
		t.Fatalf("expected 3 docs, got %v", docIDs)
	}
}

func TestPublishAndRetireSegmentsIsAtomic(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	oldID, err := s.AllocateSegment(ctx, 0, 1)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	if err := s.UpsertDocument(ctx, DocumentRecord{DocID: "d1", ShardID: 0}); err != nil {
		t.Fatalf("UpsertDocument: %v", err)
	}
	if err := s.PublishSegment(ctx, oldID, 0, SegmentStats{
		Path: "shard-0/seg-old", DocCount: 1, DocIDs: []string{"d1"},
	}); err != nil {
		t.Fatalf("PublishSegment(old): %v", err)
	}

	newID, err := s.AllocateSegment(ctx, 0, 2)
	if err != nil {
		t.Fatalf("AllocateSegment: %v", err)
	}
	if err := s.PublishAndRetireSegments(ctx, newID, 0, SegmentStats{
		Path: "shard-0/seg-new", DocCount: 1, DocIDs: []string{"d1"},
	}, []uint64{oldID}); err != nil {
		t.Fatalf("PublishAndRetireSegments: %v", err)
	}

	// The live snapshot must show exactly the new segment: never both
	// old and new, and never neither.
	live := s.LiveSegments()
	if len(live) != 1 || live[0].SegmentID != newID {
		t.Fatalf("expected only new segment %d live, got %+v", newID, live)
	}

	ready, err := s.ListReady(ctx, 0, nil)
	if err != nil {
		t.Fatalf("ListReady: %v", err)
	}
	for _, rec := range ready {
		if rec.SegmentID == oldID {
			t.Fatalf("old segment %d should have been retired, still ready", oldID)
		}
	}

	doc, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.CurrentSegmentID == nil || *doc.CurrentSegmentID != newID {
		t.Fatalf("expected d1 to point at new segment %d, got %v", newID, doc.CurrentSegmentID)
	}
}

func TestRecordIndexError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	if err := s.RecordIndexError(ctx, "short-doc", "build", "TOO_SHORT", "below w_min_doc"); err != nil {
		t.Fatalf("RecordIndexError: %v", err)
	}
}
