package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/oysyn/plagindex/config"
)

// DocIDsFile is the filename of the doc-id index-by-internal-id array.
const DocIDsFile = "index_native_docids.json"

// MetaFile is the filename of the per-doc sidecar metadata bundle.
const MetaFile = "index_native_meta.json"

// ConfigFile is the filename of the effective engine config snapshot.
const ConfigFile = "index_config.json"

// BinaryFile is the filename of the segment's binary postings bundle.
const BinaryFile = "segment.bin"

// nativeMeta is the on-disk shape of index_native_meta.json.
type nativeMeta struct {
	DocsMeta map[string]DocInfo `json:"docs_meta"`
	Config   config.Config      `json:"config"`
	Stats    map[string]uint64  `json:"stats"`
}

// writeJSONAtomic marshals v and writes it to path via write-temp,
// fsync, rename, the same atomic-publish idiom the shard manifest uses.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("segment: marshal %s: %w", filepath.Base(path), err)
	}
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("segment: create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("segment: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("segment: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("segment: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("segment: rename %s: %w", tmp, err)
	}
	return nil
}

// writeSidecars writes the three JSON sidecar files for seg into dir.
func writeSidecars(dir string, seg *Segment) error {
	if err := writeJSONAtomic(filepath.Join(dir, DocIDsFile), seg.DocIDs); err != nil {
		return err
	}
	meta := nativeMeta{
		DocsMeta: seg.DocInfo,
		Config:   seg.Config,
		Stats:    seg.Stats,
	}
	if err := writeJSONAtomic(filepath.Join(dir, MetaFile), meta); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, ConfigFile), seg.Config); err != nil {
		return err
	}
	return nil
}

// readSidecars loads the doc-ids array, sidecar meta, and config from dir.
func readSidecars(dir string) (docIDs []string, meta nativeMeta, err error) {
	docIDsData, err := os.ReadFile(filepath.Join(dir, DocIDsFile))
	if err != nil {
		return nil, nativeMeta{}, fmt.Errorf("segment: read %s: %w", DocIDsFile, err)
	}
	if err := json.Unmarshal(docIDsData, &docIDs); err != nil {
		return nil, nativeMeta{}, fmt.Errorf("segment: unmarshal %s: %w", DocIDsFile, err)
	}

	metaData, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, nativeMeta{}, fmt.Errorf("segment: read %s: %w", MetaFile, err)
	}
	// json.Unmarshal tolerates unknown fields by default (no
	// DisallowUnknownFields), matching the corpus record's own
	// tolerant-decode requirement.
	if err := json.Unmarshal(metaData, &meta); err != nil {
		return nil, nativeMeta{}, fmt.Errorf("segment: unmarshal %s: %w", MetaFile, err)
	}
	return docIDs, meta, nil
}
