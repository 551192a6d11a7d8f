package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oysyn/plagindex/errs"
)

// AllocateSegment creates a new segment row in status "building" and
// returns its monotonic, durable segment_id.
func (s *Store) AllocateSegment(ctx context.Context, shardID uint16, level uint8) (uint64, error) {
	var id uint64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO segments (shard_id, level, status) VALUES (?, ?, ?)`,
			shardID, level, SegStatusBuilding)
		if err != nil {
			return fmt.Errorf("catalog: allocate segment: %w", err)
		}
		lastID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		id = uint64(lastID)
		return nil
	})
	return id, err
}

// SegmentStats carries the counters recorded on publish.
type SegmentStats struct {
	Path         string
	DocCount     uint32
	ShingleCount uint64
	SizeBytes    uint64
	DocIDs       []string
}

// PublishSegment atomically flips a segment from building to ready,
// links its docs via segment_doc, and refreshes the live-segment
// snapshot so subsequent queries see it (the release-barrier half of
// spec §5's publish/acquire ordering guarantee). Use
// PublishAndRetireSegments instead when the publish replaces a set of
// existing ready segments (compaction), so the flip and the retirement
// land in one transaction.
func (s *Store) PublishSegment(ctx context.Context, segmentID uint64, shardID uint16, stats SegmentStats) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return publishSegmentTx(ctx, tx, segmentID, shardID, stats)
	})
	if err != nil {
		return err
	}
	return s.refreshSnapshot(ctx)
}

// PublishAndRetireSegments publishes a newly built segment and retires
// its input segments (oldIDs) in a single transaction. This closes the
// window PublishSegment-then-RetireSegment would otherwise leave open:
// refreshSnapshot's `WHERE status = 'ready'` scan can only ever observe
// the committed state, so a reader sees either all of oldIDs (pre-
// commit) or only segmentID (post-commit), never both at once and never
// neither, per spec §4.F's compaction-atomicity requirement.
func (s *Store) PublishAndRetireSegments(ctx context.Context, segmentID uint64, shardID uint16, stats SegmentStats, oldIDs []uint64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := publishSegmentTx(ctx, tx, segmentID, shardID, stats); err != nil {
			return err
		}
		for _, id := range oldIDs {
			if err := retireSegmentTx(ctx, tx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	return s.refreshSnapshot(ctx)
}

func publishSegmentTx(ctx context.Context, tx *sql.Tx, segmentID uint64, shardID uint16, stats SegmentStats) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE segments SET status = ?, path = ?, doc_count = ?, shingle_count = ?, size_bytes = ?
		WHERE segment_id = ? AND status = ?`,
		SegStatusReady, stats.Path, stats.DocCount, stats.ShingleCount, stats.SizeBytes,
		segmentID, SegStatusBuilding)
	if err != nil {
		return fmt.Errorf("catalog: publish segment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("catalog: segment %d not in building state: %w", segmentID, errs.ConfigMismatch)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segment_doc (segment_id, doc_id, shard_id) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, docID := range stats.DocIDs {
		if _, err := stmt.ExecContext(ctx, segmentID, docID, shardID); err != nil {
			return fmt.Errorf("catalog: link segment_doc for %s: %w", docID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE documents SET current_segment_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE doc_id = ?`, segmentID, StatusIndexed, docID); err != nil {
			return fmt.Errorf("catalog: update document %s: %w", docID, err)
		}
	}
	return nil
}

// MarkSegmentError transitions a segment to the terminal error state
// (building -> error, or ready -> error when CorruptSegment is
// detected at read time).
func (s *Store) MarkSegmentError(ctx context.Context, segmentID uint64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE segments SET status = ? WHERE segment_id = ?`, SegStatusError, segmentID)
		return err
	})
	if err != nil {
		return err
	}
	return s.refreshSnapshot(ctx)
}

// ListReady returns ready segments for a shard restricted to the given
// levels (nil/empty means all levels), ordered by (level, segment_id).
func (s *Store) ListReady(ctx context.Context, shardID uint16, levels []uint8) ([]SegmentRecord, error) {
	query := `SELECT segment_id, shard_id, level, status, path, doc_count, shingle_count, size_bytes, reserved
		FROM segments WHERE shard_id = ? AND status = ?`
	args := []any{shardID, SegStatusReady}
	if len(levels) > 0 {
		query += " AND level IN (" + placeholders(len(levels)) + ")"
		for _, l := range levels {
			args = append(args, l)
		}
	}
	query += " ORDER BY level, segment_id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: list ready: %w", err)
	}
	defer rows.Close()

	var out []SegmentRecord
	for rows.Next() {
		var rec SegmentRecord
		var reserved int
		if err := rows.Scan(&rec.SegmentID, &rec.ShardID, &rec.Level, &rec.Status, &rec.Path,
			&rec.DocCount, &rec.ShingleCount, &rec.SizeBytes, &reserved); err != nil {
			return nil, err
		}
		rec.Reserved = reserved != 0
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RetireSegment transitions ready -> merged, only when no document
// still points at it, per §4.E's state machine. Prefer
// PublishAndRetireSegments when retirement accompanies a publish of the
// segment that replaces it, so the two land atomically.
func (s *Store) RetireSegment(ctx context.Context, segmentID uint64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return retireSegmentTx(ctx, tx, segmentID)
	})
	if err != nil {
		return err
	}
	return s.refreshSnapshot(ctx)
}

func retireSegmentTx(ctx context.Context, tx *sql.Tx, segmentID uint64) error {
	var refCount int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM documents WHERE current_segment_id = ?`, segmentID).Scan(&refCount); err != nil {
		return err
	}
	if refCount > 0 {
		return fmt.Errorf("catalog: segment %d still referenced by %d docs, cannot retire", segmentID, refCount)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE segments SET status = ?, last_compacted_at = CURRENT_TIMESTAMP
		WHERE segment_id = ? AND status = ?`, SegStatusMerged, segmentID, SegStatusReady)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: segment %d not ready", errs.SegmentNotFound, segmentID)
	}
	return nil
}

// LockForCompaction atomically reserves up to n eligible ready segments
// of (shardID, level), skipping any already-reserved row, returning the
// oldest-by-id first. The reservation (the "reserved" column flip) and
// the selection happen in the same transaction so two concurrent
// compactors can never pick the same rows, mirroring the pack's
// hashindex-compaction reservation pattern.
func (s *Store) LockForCompaction(ctx context.Context, shardID uint16, level uint8, n int) ([]SegmentRecord, error) {
	var out []SegmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT segment_id, shard_id, level, status, path, doc_count, shingle_count, size_bytes
			FROM segments
			WHERE shard_id = ? AND level = ? AND status = ? AND reserved = 0
			ORDER BY segment_id ASC LIMIT ?`, shardID, level, SegStatusReady, n)
		if err != nil {
			return err
		}
		var ids []uint64
		for rows.Next() {
			var rec SegmentRecord
			if err := rows.Scan(&rec.SegmentID, &rec.ShardID, &rec.Level, &rec.Status, &rec.Path,
				&rec.DocCount, &rec.ShingleCount, &rec.SizeBytes); err != nil {
				rows.Close()
				return err
			}
			rec.Reserved = true
			out = append(out, rec)
			ids = append(ids, rec.SegmentID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		stmt, err := tx.PrepareContext(ctx, `UPDATE segments SET reserved = 1 WHERE segment_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// LockAllReadyForCompaction reserves every eligible ready segment of a
// shard at or below maxLevel, regardless of count — the monolith
// rebuild's bulk variant of LockForCompaction, which is always bounded
// to a single level and a fixed fan-in N.
func (s *Store) LockAllReadyForCompaction(ctx context.Context, shardID uint16, maxLevel uint8) ([]SegmentRecord, error) {
	var out []SegmentRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT segment_id, shard_id, level, status, path, doc_count, shingle_count, size_bytes
			FROM segments
			WHERE shard_id = ? AND level <= ? AND status = ? AND reserved = 0
			ORDER BY level, segment_id ASC`, shardID, maxLevel, SegStatusReady)
		if err != nil {
			return err
		}
		var ids []uint64
		for rows.Next() {
			var rec SegmentRecord
			if err := rows.Scan(&rec.SegmentID, &rec.ShardID, &rec.Level, &rec.Status, &rec.Path,
				&rec.DocCount, &rec.ShingleCount, &rec.SizeBytes); err != nil {
				rows.Close()
				return err
			}
			rec.Reserved = true
			out = append(out, rec)
			ids = append(ids, rec.SegmentID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return err
		}
		rows.Close()

		stmt, err := tx.PrepareContext(ctx, `UPDATE segments SET reserved = 1 WHERE segment_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, id := range ids {
			if _, err := stmt.ExecContext(ctx, id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReleaseReservation clears the reserved flag on a segment that a
// compactor failed to finish processing (so a future attempt can pick
// it back up).
func (s *Store) ReleaseReservation(ctx context.Context, segmentID uint64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE segments SET reserved = 0 WHERE segment_id = ?`, segmentID)
		return err
	})
}

// DocsForSegments returns the union of doc_ids currently linked to the
// given segments, used by the Compactor's step 2 (enumerate docs).
func (s *Store) DocsForSegments(ctx context.Context, segmentIDs []uint64) ([]string, error) {
	if len(segmentIDs) == 0 {
		return nil, nil
	}
	query := `SELECT DISTINCT doc_id FROM segment_doc WHERE segment_id IN (` + placeholders(len(segmentIDs)) + `)`
	args := make([]any, len(segmentIDs))
	for i, id := range segmentIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var docIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		docIDs = append(docIDs, id)
	}
	return docIDs, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := make([]byte, 0, n*2-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}
