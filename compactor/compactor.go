// Package compactor implements the background fan-in step that merges
// N ready segments at level L into one rebuilt segment at level L+1
// (spec §4.F). Raw text is never cached in the catalog, so compaction
// re-ingests each merged document's text from a corpus.SourceStore
// before rebuilding, exactly as the Segment Builder does at original
// ingest time.
package compactor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oysyn/plagindex/catalog"
	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/corpus"
	"github.com/oysyn/plagindex/errs"
	"github.com/oysyn/plagindex/segment"
)

// RecordSource is an optional capability a corpus.SourceStore may also
// implement to supply title/author metadata on rebuild. When a store
// only implements corpus.SourceStore, rebuilt documents carry empty
// title/author (they are cosmetic fields, never part of a fingerprint).
type RecordSource interface {
	Get(docID string) (corpus.Record, bool)
}

// Result summarizes one compaction run.
type Result struct {
	NewSegmentID    uint64
	RetiredSegments []uint64
	DocCount        int
}

// ErrNotEnoughSegments is returned when fewer than the configured
// fan-in threshold of ready segments are currently available to
// compact; the caller should simply retry later, it is not a failure.
var ErrNotEnoughSegments = fmt.Errorf("compactor: not enough ready segments to compact")

// Compact reserves the oldest eligible ready segments of (shardID,
// level), rebuilds their document union into one new segment at
// level+1, publishes it, and retires the inputs. It is strict: if any
// merged document's source text cannot be fetched, the whole run
// aborts; its only catalog writes are an index_errors row for the
// missing document and the release of its reservations, so a retry
// sees the same input segments untouched.
func Compact(ctx context.Context, store *catalog.Store, src corpus.SourceStore, cfg config.Config, shardID uint16, level uint8) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	n := cfg.SegmentsPerCompact(int(level))
	reserved, err := store.LockForCompaction(ctx, shardID, level, n)
	if err != nil {
		return nil, fmt.Errorf("compactor: lock segments: %w", err)
	}
	if len(reserved) < n {
		releaseAll(ctx, store, reserved)
		return nil, ErrNotEnoughSegments
	}

	return rebuild(ctx, store, src, cfg, shardID, level+1, reserved)
}

// RebuildMonolith implements the 5th tier's special bulk build: every
// ready segment of a shard at or below cfg.MaxAutoLevel is reserved
// regardless of how many there are (no fan-in threshold applies, unlike
// Compact) and rebuilt into a single new segment at level
// cfg.MaxAutoLevel+1. A shard with no ready segments below that level
// yet is not an error, just nothing to do.
func RebuildMonolith(ctx context.Context, store *catalog.Store, src corpus.SourceStore, cfg config.Config, shardID uint16) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	reserved, err := store.LockAllReadyForCompaction(ctx, shardID, uint8(cfg.MaxAutoLevel))
	if err != nil {
		return nil, fmt.Errorf("compactor: lock segments: %w", err)
	}
	if len(reserved) == 0 {
		return nil, ErrNotEnoughSegments
	}

	return rebuild(ctx, store, src, cfg, shardID, uint8(cfg.MaxAutoLevel)+1, reserved)
}

// rebuild re-ingests every document covered by reserved, builds them
// into one new segment at newLevel, and publishes it in place of the
// reserved inputs. Shared by Compact's bounded N-segment fan-in and
// RebuildMonolith's unbounded bulk variant, since both ultimately run
// the same "reserve -> re-ingest -> build -> publish+retire" sequence
// (spec §4.F steps 1-5); only how segments get reserved, and which
// level the result lands at, differs between them.
func rebuild(ctx context.Context, store *catalog.Store, src corpus.SourceStore, cfg config.Config, shardID uint16, newLevel uint8, reserved []catalog.SegmentRecord) (*Result, error) {
	oldIDs := make([]uint64, len(reserved))
	for i, rec := range reserved {
		oldIDs[i] = rec.SegmentID
	}

	docIDs, err := store.DocsForSegments(ctx, oldIDs)
	if err != nil {
		releaseAll(ctx, store, reserved)
		return nil, fmt.Errorf("compactor: enumerate docs: %w", err)
	}

	recSrc, _ := src.(RecordSource)

	docs := make([]segment.BuildDoc, 0, len(docIDs))
	for _, docID := range docIDs {
		text, err := src.FetchText(ctx, docID)
		if err != nil {
			releaseAll(ctx, store, reserved)
			_ = store.RecordIndexError(ctx, docID, "compact", "MISSING_SOURCE", err.Error())
			return nil, fmt.Errorf("compactor: fetch %s: %w", docID, errs.MissingSource)
		}
		bd := segment.BuildDoc{DocID: docID, Text: text}
		if recSrc != nil {
			if rec, ok := recSrc.Get(docID); ok {
				bd.Title = rec.Title
				bd.Author = rec.Author
			}
		}
		docs = append(docs, bd)
	}

	newSegID, err := store.AllocateSegment(ctx, shardID, newLevel)
	if err != nil {
		releaseAll(ctx, store, reserved)
		return nil, fmt.Errorf("compactor: allocate segment: %w", err)
	}

	built, err := segment.Build(shardID, newSegID, newLevel, docs, cfg)
	if err != nil {
		_ = store.MarkSegmentError(ctx, newSegID)
		releaseAll(ctx, store, reserved)
		return nil, fmt.Errorf("compactor: build: %w", err)
	}

	dir := segment.SegmentDir(cfg.RootDir, shardID, newSegID)
	if err := segment.Write(dir, built.Segment); err != nil {
		_ = store.MarkSegmentError(ctx, newSegID)
		releaseAll(ctx, store, reserved)
		return nil, fmt.Errorf("compactor: write: %w", err)
	}

	var shingleCount uint64
	for _, c := range built.Segment.Stats {
		shingleCount += c
	}

	// Publish the new segment and retire every input segment in the same
	// transaction: refreshSnapshot's status='ready' scan must never
	// observe both the old N segments and the new one at once (a reader
	// would then fan a query out across both and double-count any doc
	// present in each), so the flip can't be split into two round trips.
	if err := store.PublishAndRetireSegments(ctx, newSegID, shardID, catalog.SegmentStats{
		Path:         dir,
		DocCount:     uint32(len(built.Segment.DocIDs)),
		ShingleCount: shingleCount,
		DocIDs:       built.Segment.DocIDs,
	}, oldIDs); err != nil {
		_ = store.MarkSegmentError(ctx, newSegID)
		releaseAll(ctx, store, reserved)
		return nil, fmt.Errorf("compactor: publish and retire: %w", err)
	}

	slog.Info("compactor: compacted",
		"shard_id", shardID, "level", newLevel, "new_segment_id", newSegID,
		"docs", len(docs), "retired", len(oldIDs))

	return &Result{NewSegmentID: newSegID, RetiredSegments: oldIDs, DocCount: len(docs)}, nil
}

func releaseAll(ctx context.Context, store *catalog.Store, segs []catalog.SegmentRecord) {
	for _, rec := range segs {
		if err := store.ReleaseReservation(ctx, rec.SegmentID); err != nil {
			slog.Warn("compactor: could not release reservation", "segment_id", rec.SegmentID, "error", err)
		}
	}
}
