// Package config holds the engine-wide, versioned Config shared by
// every package in the engine. It is a leaf package (imports nothing
// from the rest of the module) so that segment/catalog/compactor/search
// can depend on it directly; the root plagindex package re-exports its
// types under the familiar plagindex.Config name.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/oysyn/plagindex/errs"
)

// Config holds all engine-wide, versioned configuration for the
// similarity index. The effective Config is written into each built
// segment's JSON sidecars. No code compares a stored Config with the
// running one, so a build against a differently-shaped index is
// neither detected nor rejected.
type Config struct {
	// CatalogPath is the full path to the SQLite catalog database.
	// If empty, defaults to ~/.plagindex/<CatalogName>.db.
	CatalogPath string `json:"catalog_path" yaml:"catalog_path"`

	// CatalogName is used when CatalogPath is empty. Defaults to "plagindex".
	CatalogName string `json:"catalog_name" yaml:"catalog_name"`

	// StorageDir controls where the catalog is created when CatalogPath
	// is not explicitly set. "home" (default) uses ~/.plagindex/, "local"
	// uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// RootDir is the filesystem root under which shard/segment
	// directories are created: RootDir/shard-<id>/seg-<id>/.
	RootDir string `json:"root_dir" yaml:"root_dir"`

	// ShardCount is the number of static partitions of the corpus.
	ShardCount int `json:"shard_count" yaml:"shard_count"`

	// WMinDoc / WMinQuery are the minimum token counts below which a
	// document is skipped at build time, or a query returns ErrBadInput.
	WMinDoc   int `json:"w_min_doc" yaml:"w_min_doc"`
	WMinQuery int `json:"w_min_query" yaml:"w_min_query"`

	// KList is the set of shingle widths used for both indexing and
	// querying. k=9 and k=13 are authoritative; nothing in this repo
	// hard-codes any other k.
	KList []int `json:"k_list" yaml:"k_list"`

	// Weights for score combination: combined = max(w9*s9, w13*s13).
	Alpha float64 `json:"alpha" yaml:"alpha"`
	W9    float64 `json:"w9" yaml:"w9"`
	W13   float64 `json:"w13" yaml:"w13"`

	// Thresholds for the decision label (plagiarism / partial / original).
	PlagThreshold    float64 `json:"plag_thr" yaml:"plag_thr"`
	PartialThreshold float64 `json:"partial_thr" yaml:"partial_thr"`

	// SimHash bonus applied when two documents' fingerprints are within
	// HammingBonusBits of each other.
	SimhashBonus     float64 `json:"simhash_bonus" yaml:"simhash_bonus"`
	HammingBonusBits int     `json:"hamming_bonus_bits" yaml:"hamming_bonus_bits"`

	// Candidate generation caps.
	FetchPerK       int `json:"fetch_per_k" yaml:"fetch_per_k"`
	MaxCandsDoc     int `json:"max_cands_doc" yaml:"max_cands_doc"`
	FragmentsForTop int `json:"fragments_for_top" yaml:"fragments_for_top"`

	// MinHash is an optional capability, off by default.
	MinHash MinHashConfig `json:"minhash" yaml:"minhash"`

	// Compaction fan-in.
	DocsPerL1     int `json:"docs_per_l1" yaml:"docs_per_l1"`
	SegmentsPerLx int `json:"segments_per_lx" yaml:"segments_per_lx"`
	MaxAutoLevel  int `json:"max_auto_level" yaml:"max_auto_level"`

	// BacklogMax is carried in the configuration but read by no code:
	// neither IngestDocument nor the task runner limits new L1 builds by
	// the number of unretired level-1 segments in a shard.
	BacklogMax int `json:"backlog_max" yaml:"backlog_max"`

	// OCRLanguages is recognized but never interpreted by the core (OCR
	// is an external collaborator); carried only so an effective-config
	// snapshot echoed back to external tooling is complete. The cmd
	// entrypoints read only PLAGINDEX_ROOT_DIR and PLAGINDEX_CATALOG_PATH
	// from the environment; no other variable is read, and none produces
	// a warning.
	OCRLanguages string `json:"ocr_languages" yaml:"ocr_languages"`
}

// MinHashConfig configures the optional MinHash/LSH capability. When
// UseLSH, UseMinHashEst and StoreSig are all false (the default), no
// signature is computed. The binary segment file never has a MinHash
// section: signatures reach disk only as minhash_sig in the meta
// sidecar when StoreSig is set, and LSH buckets are not persisted.
type MinHashConfig struct {
	K             int   `json:"K" yaml:"K"`
	Rows          int   `json:"rows" yaml:"rows"`
	Seed          int64 `json:"seed" yaml:"seed"`
	UseLSH        bool  `json:"use_lsh" yaml:"use_lsh"`
	UseMinHashEst bool  `json:"use_minhash_est" yaml:"use_minhash_est"`
	StoreSig      bool  `json:"store_sig" yaml:"store_sig"`
}

// Validate checks invariants that must hold before the config is used
// to build or read a segment. K mod rows != 0 is a hard error.
func (c Config) Validate() error {
	if len(c.KList) == 0 {
		return fmt.Errorf("%w: k_list must not be empty", errs.InvalidConfig)
	}
	for _, k := range c.KList {
		if k <= 0 {
			return fmt.Errorf("%w: k_list entries must be positive, got %d", errs.InvalidConfig, k)
		}
	}
	if c.MinHash.UseLSH {
		if c.MinHash.Rows <= 0 || c.MinHash.K%c.MinHash.Rows != 0 {
			return fmt.Errorf("%w: minhash K=%d is not divisible by rows=%d", errs.InvalidConfig, c.MinHash.K, c.MinHash.Rows)
		}
	}
	if c.ShardCount <= 0 {
		return fmt.Errorf("%w: shard_count must be positive, got %d", errs.InvalidConfig, c.ShardCount)
	}
	return nil
}

// Default returns a Config with the defaults carried over from the
// original system's configuration (original_source's Pydantic
// settings), translated 1:1 into Go field defaults.
func Default() Config {
	return Config{
		CatalogName:      "plagindex",
		StorageDir:       "home",
		RootDir:          "plagindex-data",
		ShardCount:       1,
		WMinDoc:          8,
		WMinQuery:        9,
		KList:            []int{9, 13},
		Alpha:            0.60,
		W9:               0.90,
		W13:              0.85,
		PlagThreshold:    0.70,
		PartialThreshold: 0.30,
		SimhashBonus:     0.02,
		HammingBonusBits: 6,
		FetchPerK:        64,
		MaxCandsDoc:      1000,
		FragmentsForTop:  1,
		MinHash: MinHashConfig{
			K:             128,
			Rows:          4,
			Seed:          1337,
			UseLSH:        false,
			UseMinHashEst: false,
			StoreSig:      false,
		},
		DocsPerL1:     10,
		SegmentsPerLx: 10,
		MaxAutoLevel:  4,
		BacklogMax:    50,
	}
}

// SegmentsPerCompact returns the fan-in threshold for promoting a
// segment at the given level to level+1. Level 0 (raw documents into
// L1) uses DocsPerL1; every level above uses SegmentsPerLx, mirroring
// the original system's segments_per_compact(level) dispatch collapsed
// into one configured value since every L2/L3/L4 step shares the same
// fan-in in this engine.
func (c Config) SegmentsPerCompact(level int) int {
	if level <= 0 {
		return c.DocsPerL1
	}
	return c.SegmentsPerLx
}

// ResolveCatalogPath computes the final catalog database path.
func (c Config) ResolveCatalogPath() string {
	if c.CatalogPath != "" {
		return c.CatalogPath
	}

	name := c.CatalogName
	if name == "" {
		name = "plagindex"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".plagindex")
		return filepath.Join(dir, name+".db")
	}
}
