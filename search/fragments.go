package search

// Fragment is a contiguous run of query token indices, [Start, End),
// whose shingle windows all matched shingles present in a candidate
// document. Only the query side is addressable this way: a segment
// never retains raw document text, only shingle hashes, so fragment
// highlighting can only point back into the submitted query text.
type Fragment struct {
	Start int
	End   int
}

// extractFragments walks the query's windows at k, marking every
// window start whose shingle hash is a member of docShingles, then
// merges overlapping/adjacent marked windows into fragments. Used only
// for the top cfg.FragmentsForTop hits, since it requires re-deriving
// the query's shingle sequence at k rather than the de-duplicated set
// generateCandidates works from.
func extractFragments(queryShingleSeq []uint64, k int, docShingles map[uint64]struct{}) []Fragment {
	if len(queryShingleSeq) == 0 || len(docShingles) == 0 {
		return nil
	}

	var fragments []Fragment
	inRun := false
	var runStart, runEnd int

	for i, h := range queryShingleSeq {
		_, matched := docShingles[h]
		if matched {
			if !inRun {
				inRun = true
				runStart = i
			}
			runEnd = i + k
			continue
		}
		if inRun {
			fragments = append(fragments, Fragment{Start: runStart, End: runEnd})
			inRun = false
		}
	}
	if inRun {
		fragments = append(fragments, Fragment{Start: runStart, End: runEnd})
	}
	return mergeFragments(fragments)
}

// mergeFragments merges fragments whose ranges touch or overlap. The
// windows produced by extractFragments are already emitted in
// ascending Start order, so a single linear pass suffices.
func mergeFragments(frags []Fragment) []Fragment {
	if len(frags) <= 1 {
		return frags
	}
	out := make([]Fragment, 0, len(frags))
	cur := frags[0]
	for _, f := range frags[1:] {
		if f.Start <= cur.End {
			if f.End > cur.End {
				cur.End = f.End
			}
			continue
		}
		out = append(out, cur)
		cur = f
	}
	out = append(out, cur)
	return out
}
