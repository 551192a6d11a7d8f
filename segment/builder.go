package segment

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/fingerprint"
	"github.com/oysyn/plagindex/normalize"
	"github.com/oysyn/plagindex/shingle"
)

// BuildDoc is one input document to the builder.
type BuildDoc struct {
	DocID  string
	Text   string
	Title  string
	Author string
}

// SkippedDoc records a document excluded from the segment, per step 1
// of the builder procedure (tok_len < w_min_doc).
type SkippedDoc struct {
	DocID string
	Stage string
	Code  string
}

// BuildResult is the outcome of Build.
type BuildResult struct {
	Segment *Segment
	Skipped []SkippedDoc
}

// Build implements the 8-step Segment Builder procedure: normalize each
// doc, assign dense internal_ids among accepted docs, shingle at every
// configured k, accumulate per-k postings, compute SimHash (and
// optionally MinHash/LSH), sort+dedupe postings, and return the
// in-memory segment ready to be written with Write.
//
// Docs with tok_len < cfg.WMinDoc are skipped and reported in
// BuildResult.Skipped with stage="build", code="TOO_SHORT"; they are
// never partially indexed.
func Build(shardID uint16, segmentID uint64, level uint8, docs []BuildDoc, cfg config.Config) (*BuildResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seg := &Segment{
		ShardID:   shardID,
		SegmentID: segmentID,
		Level:     level,
		DocInfo:   make(map[string]DocInfo),
		Config:    cfg,
		Stats:     make(map[string]uint64),
		Postings:  make(map[int][]Posting),
	}

	var minHashFamilies []fingerprint.HashFamily
	useMinHash := cfg.MinHash.UseMinHashEst || cfg.MinHash.UseLSH || cfg.MinHash.StoreSig
	if useMinHash {
		minHashFamilies = fingerprint.MakeFamilies(cfg.MinHash.K, cfg.MinHash.Seed)
		seg.MinHashSigs = make(map[uint32][]uint32)
		if cfg.MinHash.UseLSH {
			seg.LSHBuckets = make(map[uint64][]uint32)
		}
	}

	postingBuf := make(map[int][]Posting, len(cfg.KList))
	for _, k := range cfg.KList {
		postingBuf[k] = nil
	}

	result := &BuildResult{Segment: seg}

	for _, doc := range docs {
		tokens := normalize.Tokens(doc.Text)
		if len(tokens) < cfg.WMinDoc {
			result.Skipped = append(result.Skipped, SkippedDoc{
				DocID: doc.DocID, Stage: "build", Code: "TOO_SHORT",
			})
			continue
		}

		internalID := uint32(len(seg.DocIDs))
		seg.DocIDs = append(seg.DocIDs, doc.DocID)

		sets := shingle.MultiSet(tokens, cfg.KList)
		for _, k := range cfg.KList {
			for h := range sets[k] {
				postingBuf[k] = append(postingBuf[k], Posting{Hash: h, IntID: internalID})
			}
		}

		sim := fingerprint.ComputeSimHash128(tokens)
		seg.DocMeta = append(seg.DocMeta, DocMeta{
			TokLen: uint32(len(tokens)),
			SimHi:  sim.Hi,
			SimLo:  sim.Lo,
		})

		info := DocInfo{
			TokLen:  uint32(len(tokens)),
			SimHash: fmt.Sprintf("%016x%016x", sim.Hi, sim.Lo),
			Title:   doc.Title,
			Author:  doc.Author,
		}

		if useMinHash {
			// The first configured k's set (k9 by default) seeds the MinHash
			// signature; the spec defines MinHash over the document's
			// shingle set, not tied to a particular k.
			primaryK := cfg.KList[0]
			sig := fingerprint.Signature(minHashFamilies, sets[primaryK])
			seg.MinHashSigs[internalID] = sig
			if cfg.MinHash.StoreSig {
				info.MinHash = sig
			}
			if cfg.MinHash.UseLSH {
				for _, band := range fingerprint.BandKeys(sig, cfg.MinHash.Rows) {
					seg.LSHBuckets[band] = append(seg.LSHBuckets[band], internalID)
				}
			}
		}

		seg.DocInfo[doc.DocID] = info
	}

	for _, k := range cfg.KList {
		seg.Postings[k] = sortPostings(postingBuf[k])
		seg.Stats[fmt.Sprintf("k%d", k)] = uint64(len(seg.Postings[k]))
	}
	seg.Stats["docs"] = uint64(len(seg.DocIDs))

	slog.Info("segment: built",
		"shard_id", shardID, "segment_id", segmentID, "level", level,
		"docs", len(seg.DocIDs), "skipped", len(result.Skipped))

	return result, nil
}

// Write serializes seg (binary + JSON sidecars) into dir, fsyncing
// before returning. On any failure, partial files are removed so a
// retry never observes a half-written segment.
func Write(dir string, seg *Segment) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("segment: mkdir %s: %w", dir, err)
	}

	defer func() {
		if err != nil {
			cleanupPartial(dir)
		}
	}()

	binPath := filepath.Join(dir, BinaryFile)
	if err = WriteBinaryFile(binPath, seg); err != nil {
		return err
	}
	if err = writeSidecars(dir, seg); err != nil {
		return err
	}
	return nil
}

func cleanupPartial(dir string) {
	for _, name := range []string{BinaryFile, DocIDsFile, MetaFile, ConfigFile} {
		_ = os.Remove(filepath.Join(dir, name))
		_ = os.Remove(filepath.Join(dir, name+".tmp"))
	}
}

// Load reads a segment's binary and sidecar files from dir, validating
// magic/version/CRC and posting sort order, and returns the
// reconstructed Segment. Errors from the binary file are returned as
// ReadBinaryFile reports them; a sidecar read or decode failure, or a
// doc_ids count that differs from the doc_meta count, is returned as a
// plain error that does not wrap ErrCorruptSegment.
func Load(dir string) (*Segment, error) {
	docMeta, post9, post13, err := ReadBinaryFile(filepath.Join(dir, BinaryFile))
	if err != nil {
		return nil, err
	}
	docIDs, meta, err := readSidecars(dir)
	if err != nil {
		return nil, err
	}
	if len(docIDs) != len(docMeta) {
		return nil, fmt.Errorf("segment: doc_ids length %d != doc_meta length %d", len(docIDs), len(docMeta))
	}

	seg := &Segment{
		DocIDs:  docIDs,
		DocMeta: docMeta,
		DocInfo: meta.DocsMeta,
		Config:  meta.Config,
		Stats:   meta.Stats,
		Postings: map[int][]Posting{
			9:  post9,
			13: post13,
		},
	}
	return seg, nil
}

// SortedInternalIDs returns the internal_ids in a deterministic order.
// No code in the module calls it; compaction unions documents through
// the catalog instead.
func (s *Segment) SortedInternalIDs() []uint32 {
	ids := make([]uint32, len(s.DocIDs))
	for i := range ids {
		ids[i] = uint32(i)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
