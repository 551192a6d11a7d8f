package segment

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ManifestFile is the filename of the shard-root manifest.
const ManifestFile = "manifest.json"

// ManifestEntry describes one live segment within a shard manifest.
type ManifestEntry struct {
	SegmentID uint64 `json:"segment_id"`
	Level     uint8  `json:"level"`
	Path      string `json:"path"`
	DocCount  uint32 `json:"doc_count"`
	Checksum  uint32 `json:"checksum"`
}

// Manifest is the shard-root manifest.json contents.
type Manifest struct {
	ShardID  uint16          `json:"shard_id"`
	Segments []ManifestEntry `json:"segments"`
}

// WriteManifest publishes m to shardDir/manifest.json atomically:
// write temp, fsync, rename, exactly as §6 specifies.
func WriteManifest(shardDir string, m Manifest) error {
	return writeJSONAtomic(filepath.Join(shardDir, ManifestFile), m)
}

// ReadManifest loads shardDir/manifest.json.
func ReadManifest(shardDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(shardDir, ManifestFile))
	if err != nil {
		return Manifest{}, fmt.Errorf("segment: read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("segment: unmarshal manifest: %w", err)
	}
	return m, nil
}

// SegmentDir returns the conventional on-disk path for a segment:
// rootDir/shard-<id>/seg-<id>/.
func SegmentDir(rootDir string, shardID uint16, segmentID uint64) string {
	return filepath.Join(rootDir, fmt.Sprintf("shard-%d", shardID), fmt.Sprintf("seg-%d", segmentID))
}

// ShardDir returns the conventional shard root directory.
func ShardDir(rootDir string, shardID uint16) string {
	return filepath.Join(rootDir, fmt.Sprintf("shard-%d", shardID))
}
