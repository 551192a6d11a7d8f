// Package search's fanout ties candidate generation and scoring
// together across every live segment concurrently, merging into a
// single bounded top-K result list. Grounded on the teacher
// retrieval.Engine.Search's channel fan-out-then-join shape, with the
// merge step replaced by a plain bounded min-heap (score, then
// inter_13, then doc_id) instead of RRF, since this engine ranks by a
// single already-combined similarity score rather than fusing several
// rankers.
package search

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oysyn/plagindex/catalog"
	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/errs"
	"github.com/oysyn/plagindex/fingerprint"
	"github.com/oysyn/plagindex/normalize"
	"github.com/oysyn/plagindex/segment"
	"github.com/oysyn/plagindex/shingle"
)

// Result is the final, ranked outcome of a Query call.
type Result struct {
	Hits      []Hit
	Fragments map[string][]Fragment // doc_id -> fragments, populated for the top FragmentsForTop hits only
}

// Query runs a full similarity search: normalizes queryText, shingles
// it at every configured k, fans the search out across every live
// segment concurrently, and merges into the top topK hits by combined
// score.
func Query(ctx context.Context, store *catalog.Store, queryText string, cfg config.Config, topK int) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tokens := normalize.Tokens(queryText)
	if len(tokens) < cfg.WMinQuery {
		return nil, fmt.Errorf("%w: query has %d tokens, need at least %d", errs.BadInput, len(tokens), cfg.WMinQuery)
	}

	querySets := shingle.MultiSet(tokens, cfg.KList)
	qLens := make(map[int]int, len(cfg.KList))
	for _, k := range cfg.KList {
		qLens[k] = len(querySets[k])
	}
	querySim := fingerprint.ComputeSimHash128(tokens)

	live := store.LiveSegments()
	hitsCh := make(chan Hit)
	var wg sync.WaitGroup

	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	for _, ls := range live {
		ls := ls
		wg.Add(1)
		go func() {
			defer wg.Done()
			searchOneSegment(searchCtx, store, ls, tokens, querySets, qLens, querySim, cfg, hitsCh)
		}()
	}

	go func() {
		wg.Wait()
		close(hitsCh)
	}()

	merged := newBoundedHeap(topK)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case hit, ok := <-hitsCh:
			if !ok {
				top := merged.sorted()
				fragments := buildFragments(live, tokens, cfg, top)
				return &Result{Hits: top, Fragments: fragments}, nil
			}
			merged.push(hit)
		}
	}
}

// searchOneSegment loads and scores one segment. A corrupt segment
// (failed CRC/structural checks) is marked error in the catalog so it
// drops out of future live snapshots instead of being retried forever;
// the search itself still completes using every other live segment.
func searchOneSegment(ctx context.Context, store *catalog.Store, ls *catalog.LiveSegment, tokens []string, querySets map[int]map[uint64]struct{}, qLens map[int]int, querySim fingerprint.SimHash128, cfg config.Config, out chan<- Hit) {
	select {
	case <-ctx.Done():
		return
	default:
	}

	seg, err := segment.Load(ls.Path)
	if err != nil {
		slog.Warn("search: could not load segment", "segment_id", ls.SegmentID, "path", ls.Path, "error", err)
		if errors.Is(err, errs.CorruptSegment) {
			if markErr := store.MarkSegmentError(context.Background(), ls.SegmentID); markErr != nil {
				slog.Warn("search: could not mark corrupt segment", "segment_id", ls.SegmentID, "error", markErr)
			}
		}
		return
	}

	for _, c := range generateCandidates(seg, tokens, querySets, cfg) {
		hit := score(c, qLens, seg, querySim, cfg)
		select {
		case <-ctx.Done():
			return
		case out <- hit:
		}
	}
}

// buildFragments recomputes the top FragmentsForTop hits' fragments by
// re-loading their segment and re-deriving the query's ordered k=13
// shingle window sequence against that document's posting membership.
// Kept as a second, bounded pass rather than computed inline in
// searchOneSegment since only a handful of top hits ever need it, and
// it needs the query's window order, which generateCandidates' deduped
// sets don't preserve.
func buildFragments(live []*catalog.LiveSegment, tokens []string, cfg config.Config, top []Hit) map[string][]Fragment {
	if cfg.FragmentsForTop <= 0 || len(top) == 0 {
		return nil
	}
	k := cfg.KList[len(cfg.KList)-1]
	querySequence := shingle.Sequence(tokens, k)
	if len(querySequence) == 0 {
		return nil
	}

	limit := cfg.FragmentsForTop
	if limit > len(top) {
		limit = len(top)
	}

	out := make(map[string][]Fragment, limit)
	for i := 0; i < limit; i++ {
		hit := top[i]
		for _, ls := range live {
			seg, err := segment.Load(ls.Path)
			if err != nil {
				continue
			}
			internalID, ok := indexOfDoc(seg, hit.DocID)
			if !ok {
				continue
			}
			docShingles := docShingleSetAtK(seg, internalID, k)
			out[hit.DocID] = extractFragments(querySequence, k, docShingles)
			break
		}
	}
	return out
}

func indexOfDoc(seg *segment.Segment, docID string) (uint32, bool) {
	for i, id := range seg.DocIDs {
		if id == docID {
			return uint32(i), true
		}
	}
	return 0, false
}

// docShingleSetAtK reconstructs which of the segment's posting hashes
// at k belong to internalID.
func docShingleSetAtK(seg *segment.Segment, internalID uint32, k int) map[uint64]struct{} {
	set := make(map[uint64]struct{})
	for _, p := range seg.Postings[k] {
		if p.IntID == internalID {
			set[p.Hash] = struct{}{}
		}
	}
	return set
}

// boundedHeap keeps only the best topK hits seen so far, ranked by
// score desc, then Inter13 desc, then DocID asc for determinism.
type boundedHeap struct {
	cap int
	h   hitMinHeap
}

func newBoundedHeap(capacity int) *boundedHeap {
	if capacity <= 0 {
		capacity = 10
	}
	bh := &boundedHeap{cap: capacity}
	heap.Init(&bh.h)
	return bh
}

func (b *boundedHeap) push(hit Hit) {
	if b.h.Len() < b.cap {
		heap.Push(&b.h, hit)
		return
	}
	if lessRank(b.h[0], hit) {
		heap.Pop(&b.h)
		heap.Push(&b.h, hit)
	}
}

// sorted drains the heap into best-first order.
func (b *boundedHeap) sorted() []Hit {
	n := b.h.Len()
	out := make([]Hit, n)
	for i := n - 1; i >= 0; i-- {
		out[i] = heap.Pop(&b.h).(Hit)
	}
	return out
}

// hitMinHeap is a min-heap on rank, so the weakest hit is always at
// the root and evictable in O(log n).
type hitMinHeap []Hit

func (h hitMinHeap) Len() int { return len(h) }
func (h hitMinHeap) Less(i, j int) bool {
	return lessRank(h[j], h[i]) // root holds the weakest: j "more than" i means i is weaker
}
func (h hitMinHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitMinHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitMinHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// lessRank reports whether a ranks strictly better than b: higher
// score first, then higher Inter13, then lexicographically smaller
// DocID.
func lessRank(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Inter13 != b.Inter13 {
		return a.Inter13 > b.Inter13
	}
	return a.DocID < b.DocID
}
