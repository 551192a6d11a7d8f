// Package search implements query-time candidate generation, scoring,
// and the concurrent per-segment fanout, grounded on the teacher
// retrieval.Engine's channel fan-out-then-join shape and rrf.go's
// bounded merge-with-tie-break, plus the pack's Go plagiarism-service
// reference for the single-pass Jaccard/containment shape.
package search

import (
	"sort"

	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/fingerprint"
	"github.com/oysyn/plagindex/segment"
	"github.com/oysyn/plagindex/shingle"
)

// candidate accumulates, per internal_id, the intersection count with
// the query's full shingle set at each configured k.
type candidate struct {
	internalID uint32
	interByK   map[int]int
}

// generateCandidates runs the two-phase discovery-then-score procedure
// of index_search.py's search(): phase 1 (discoverCandidateIDs) looks
// up only the first cfg.FetchPerK query shingle hashes in token order
// per k, but unions in every doc_id each matching hash's full posting
// list contributes — fetch_per_k bounds which query hashes get looked
// up, never how many postings a hash returns. Phase 2
// (exactIntersections) then computes the TRUE inter_k for every
// discovered candidate against the query's entire shingle set (not
// just the first fetch_per_k hashes), since scoring needs the real
// intersection size, not a discovery-bounded approximation of it.
// Candidates failing the early-prune floor (min_inter9/min_inter13)
// are dropped before the final MaxCandsDoc truncation.
func generateCandidates(seg *segment.Segment, tokens []string, querySets map[int]map[uint64]struct{}, cfg config.Config) []candidate {
	ids := discoverCandidateIDs(seg, tokens, cfg)
	if cfg.MinHash.UseLSH && len(seg.LSHBuckets) > 0 {
		addLSHCandidateIDs(seg, querySets, cfg, ids)
	}
	if len(ids) == 0 {
		return nil
	}

	byID := exactIntersections(seg, querySets, cfg, ids)

	qLen9 := len(querySets[9])
	minInter9 := 1
	if qLen9 > 8 {
		minInter9 = 2
	}
	const minInter13 = 1

	out := make([]candidate, 0, len(byID))
	for _, c := range byID {
		if c.interByK[9] < minInter9 && c.interByK[13] < minInter13 {
			continue
		}
		out = append(out, *c)
	}

	sort.Slice(out, func(i, j int) bool {
		ti, tj := totalInter(out[i]), totalInter(out[j])
		if ti != tj {
			return ti > tj
		}
		return out[i].internalID < out[j].internalID
	})
	if len(out) > cfg.MaxCandsDoc {
		out = out[:cfg.MaxCandsDoc]
	}
	return out
}

// discoverCandidateIDs identifies which internal_ids are worth scoring
// at all: for each k, only the first cfg.FetchPerK hashes of the
// query's ordered shingle sequence are looked up (duplicates in that
// prefix are looked up again, exactly as index_search.py's
// S9_list[:fetch_per_k] slices the raw occurrence list rather than a
// de-duplicated one), but each looked-up hash contributes its entire
// posting list, unbounded.
func discoverCandidateIDs(seg *segment.Segment, tokens []string, cfg config.Config) map[uint32]struct{} {
	ids := make(map[uint32]struct{})
	for _, k := range cfg.KList {
		postings := seg.Postings[k]
		if len(postings) == 0 {
			continue
		}
		seq := shingle.Sequence(tokens, k)
		limit := cfg.FetchPerK
		if limit > len(seq) {
			limit = len(seq)
		}
		for _, hash := range seq[:limit] {
			lo := sort.Search(len(postings), func(i int) bool { return postings[i].Hash >= hash })
			for i := lo; i < len(postings) && postings[i].Hash == hash; i++ {
				ids[postings[i].IntID] = struct{}{}
			}
		}
	}
	return ids
}

// exactIntersections computes, for every candidate in ids, its true
// inter_k against the query's entire shingle set at each k, per
// index_search.py's _get_intersections_lazy pass over the full S9/S13
// sets restricted to the already-discovered candidate set.
func exactIntersections(seg *segment.Segment, querySets map[int]map[uint64]struct{}, cfg config.Config, ids map[uint32]struct{}) map[uint32]*candidate {
	byID := make(map[uint32]*candidate, len(ids))
	for id := range ids {
		byID[id] = &candidate{internalID: id, interByK: make(map[int]int, len(cfg.KList))}
	}
	for _, k := range cfg.KList {
		postings := seg.Postings[k]
		qset := querySets[k]
		if len(postings) == 0 || len(qset) == 0 {
			continue
		}
		for hash := range qset {
			lo := sort.Search(len(postings), func(i int) bool { return postings[i].Hash >= hash })
			for i := lo; i < len(postings) && postings[i].Hash == hash; i++ {
				if c, ok := byID[postings[i].IntID]; ok {
					c.interByK[k]++
				}
			}
		}
	}
	return byID
}

func totalInter(c candidate) int {
	n := 0
	for _, v := range c.interByK {
		n += v
	}
	return n
}

// addLSHCandidateIDs widens the candidate id set with docs sharing at
// least one LSH band with the query's MinHash signature over the
// primary (first configured) k, recomputed here since the query has
// no persisted signature of its own.
func addLSHCandidateIDs(seg *segment.Segment, querySets map[int]map[uint64]struct{}, cfg config.Config, ids map[uint32]struct{}) {
	primaryK := cfg.KList[0]
	qset := querySets[primaryK]
	if len(qset) == 0 {
		return
	}
	families := fingerprint.MakeFamilies(cfg.MinHash.K, cfg.MinHash.Seed)
	sig := fingerprint.Signature(families, qset)
	for _, band := range fingerprint.BandKeys(sig, cfg.MinHash.Rows) {
		for _, id := range seg.LSHBuckets[band] {
			ids[id] = struct{}{}
		}
	}
}
