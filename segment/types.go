// Package segment implements the immutable, versioned binary segment
// format: building a segment from a batch of documents, writing it to
// disk, and reading it back with corruption checks. Grounded on the
// zoekt shard builder's postings-buffer-then-serialize shape and the
// compactindex format's magic/manifest split.
package segment

import "github.com/oysyn/plagindex/config"

// Magic is the 4-byte file signature at the start of every segment.bin.
const Magic = "PLAG"

// Version is the current binary format version.
const Version uint32 = 1

// DocMeta is one doc_meta[] entry, indexed by internal_id.
type DocMeta struct {
	TokLen uint32
	SimHi  uint64
	SimLo  uint64
}

// Posting is one (hash, internal_id) entry in a per-k postings list.
type Posting struct {
	Hash  uint64
	IntID uint32
}

// DocInfo is the sidecar per-doc metadata kept in
// index_native_meta.json, beyond what doc_meta[] in the binary carries.
type DocInfo struct {
	TokLen    uint32 `json:"tok_len"`
	SimHash   string `json:"simhash128"`
	Title     string `json:"title,omitempty"`
	Author    string `json:"author,omitempty"`
	MinHash   []uint32 `json:"minhash_sig,omitempty"`
}

// Segment is the in-memory representation of a built or loaded segment.
type Segment struct {
	ShardID   uint16
	SegmentID uint64
	Level     uint8

	// DocIDs maps internal_id -> external doc_id.
	DocIDs []string

	// DocMeta maps internal_id -> (tok_len, simhash).
	DocMeta []DocMeta

	// Postings maps k (9 or 13) -> sorted, de-duplicated posting list.
	Postings map[int][]Posting

	// DocInfo maps doc_id -> sidecar info (title/author/minhash).
	DocInfo map[string]DocInfo

	// MinHashSigs maps internal_id -> MinHash signature, filled by Build
	// when any of Config.MinHash.UseMinHashEst, UseLSH or StoreSig is
	// true. Load does not restore it.
	MinHashSigs map[uint32][]uint32

	// LSHBuckets maps band key -> set of internal_ids, filled by Build
	// only when Config.MinHash.UseLSH is true. Load does not restore it.
	LSHBuckets map[uint64][]uint32

	Config config.Config
	Stats  map[string]uint64
}

// NDocs returns the number of documents in the segment.
func (s *Segment) NDocs() int { return len(s.DocIDs) }
