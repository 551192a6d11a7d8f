package search

import (
	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/fingerprint"
	"github.com/oysyn/plagindex/segment"
)

// Decision labels, per spec §4.H's threshold bands.
const (
	DecisionPlagiarism = "plagiarism"
	DecisionPartial    = "partial"
	DecisionOriginal   = "original"
)

// Hit is one scored result of a query against a single document.
type Hit struct {
	DocID          string
	Score          float64
	Inter9         int
	Inter13        int
	SimHashBonus   bool
	Decision       string
	OriginalityPct float64
}

// score computes the combined similarity between the query and one
// candidate document in seg: per-k Jaccard/containment blended by
// alpha, the per-k scores combined as max(w9*s9, w13*s13), then an
// additive SimHash-proximity bonus applied only to candidates already
// past partial_thr on shingle overlap alone (index_search.py's
// `if use_simhash and score >= partial_thr: ... if dsim <= hbits`).
//
// Containment is query-relative, inter_k/qS_k, never the smaller of
// the query and doc shingle-set sizes (index_search.py's `_jc` always
// divides by S_size, the query side, at every call site).
//
// Per-document per-k shingle-set cardinality is not persisted in the
// binary format (only the aggregate posting count is), so |doc_k| is
// approximated as max(0, tok_len-k+1); this slightly overestimates
// cardinality for documents with internally repeated shingles, which
// only ever makes the Jaccard denominator larger, never inflates a
// false positive.
func score(c candidate, qLens map[int]int, seg *segment.Segment, querySim fingerprint.SimHash128, cfg config.Config) Hit {
	meta := seg.DocMeta[c.internalID]
	hit := Hit{DocID: seg.DocIDs[c.internalID]}

	var best float64
	for _, k := range cfg.KList {
		inter := c.interByK[k]
		qLen := qLens[k]
		docLen := approxShingleCount(int(meta.TokLen), k)
		union := qLen + docLen - inter
		var jaccard, containment float64
		if union > 0 {
			jaccard = float64(inter) / float64(union)
		}
		if qLen > 0 {
			containment = float64(inter) / float64(qLen)
		}
		blended := cfg.Alpha*jaccard + (1-cfg.Alpha)*containment

		weight := cfg.W9
		if k == 13 {
			weight = cfg.W13
		}
		weighted := weight * blended
		if weighted > best {
			best = weighted
		}

		switch k {
		case 9:
			hit.Inter9 = inter
		case 13:
			hit.Inter13 = inter
		}
	}

	if cfg.SimhashBonus > 0 && best >= cfg.PartialThreshold {
		docSim := fingerprint.SimHash128{Hi: meta.SimHi, Lo: meta.SimLo}
		if fingerprint.Hamming(querySim, docSim) <= cfg.HammingBonusBits {
			hit.SimHashBonus = true
			best += cfg.SimhashBonus
		}
	}
	if best > 1.0 {
		best = 1.0
	}

	hit.Score = best
	hit.Decision = decide(best, cfg)
	hit.OriginalityPct = (1 - best) * 100
	return hit
}

func decide(combined float64, cfg config.Config) string {
	switch {
	case combined >= cfg.PlagThreshold:
		return DecisionPlagiarism
	case combined >= cfg.PartialThreshold:
		return DecisionPartial
	default:
		return DecisionOriginal
	}
}

func approxShingleCount(tokLen, k int) int {
	n := tokLen - k + 1
	if n < 0 {
		return 0
	}
	return n
}
