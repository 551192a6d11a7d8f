package catalog

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oysyn/plagindex/errs"
)

// UpsertDocument inserts a new document row or updates an existing
// one's mutable fields (status/title/author/simhash), keyed on doc_id
// exactly as the teacher's UpsertDocument keys on path. It does not
// read the row back; internal_id is not resolved here.
func (s *Store) UpsertDocument(ctx context.Context, rec DocumentRecord) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO documents (doc_id, shard_id, status, title, author, simhash_hi, simhash_lo)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(doc_id) DO UPDATE SET
				status = excluded.status,
				title = excluded.title,
				author = excluded.author,
				simhash_hi = excluded.simhash_hi,
				simhash_lo = excluded.simhash_lo,
				updated_at = CURRENT_TIMESTAMP`,
			rec.DocID, rec.ShardID, rec.Status, rec.Title, rec.Author, rec.SimHashHi, rec.SimHashLo)
		if err != nil {
			return fmt.Errorf("catalog: upsert document %s: %w", rec.DocID, err)
		}
		return nil
	})
}

// GetDocument reads a single document row by doc_id.
func (s *Store) GetDocument(ctx context.Context, docID string) (DocumentRecord, error) {
	var rec DocumentRecord
	var currentSegmentID sql.NullInt64
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, shard_id, status, current_segment_id, simhash_hi, simhash_lo, title, author
		FROM documents WHERE doc_id = ?`, docID)
	err := row.Scan(&rec.DocID, &rec.ShardID, &rec.Status, &currentSegmentID,
		&rec.SimHashHi, &rec.SimHashLo, &rec.Title, &rec.Author)
	if err == sql.ErrNoRows {
		return DocumentRecord{}, fmt.Errorf("catalog: document %s: %w", docID, errs.DocumentNotFound)
	}
	if err != nil {
		return DocumentRecord{}, err
	}
	if currentSegmentID.Valid {
		id := uint64(currentSegmentID.Int64)
		rec.CurrentSegmentID = &id
	}
	return rec, nil
}

// ListDocuments returns every document row for a shard, for diagnostics
// and admin tooling.
func (s *Store) ListDocuments(ctx context.Context, shardID uint16) ([]DocumentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, shard_id, status, current_segment_id, simhash_hi, simhash_lo, title, author
		FROM documents WHERE shard_id = ? ORDER BY doc_id`, shardID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentRecord
	for rows.Next() {
		var rec DocumentRecord
		var currentSegmentID sql.NullInt64
		if err := rows.Scan(&rec.DocID, &rec.ShardID, &rec.Status, &currentSegmentID,
			&rec.SimHashHi, &rec.SimHashLo, &rec.Title, &rec.Author); err != nil {
			return nil, err
		}
		if currentSegmentID.Valid {
			id := uint64(currentSegmentID.Int64)
			rec.CurrentSegmentID = &id
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RelinkDocs points every doc in docIDs at newSegmentID in a single
// transaction, used by the Compactor's step 4(a). Never deletes the
// document catalog row — only rewrites current_segment_id, per spec §3.
func (s *Store) RelinkDocs(ctx context.Context, docIDs []string, newSegmentID uint64) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			UPDATE documents SET current_segment_id = ?, status = ?, updated_at = CURRENT_TIMESTAMP
			WHERE doc_id = ?`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, docID := range docIDs {
			if _, err := stmt.ExecContext(ctx, newSegmentID, StatusIndexed, docID); err != nil {
				return fmt.Errorf("catalog: relink doc %s: %w", docID, err)
			}
		}
		return nil
	})
}

// RecordIndexError appends an index_error row, used both by the
// Segment Builder (TOO_SHORT) and the Compactor (MissingSource).
func (s *Store) RecordIndexError(ctx context.Context, docID, stage, code, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO index_errors (doc_id, stage, code, message) VALUES (?, ?, ?, ?)`,
		docID, stage, code, message)
	if err != nil {
		return fmt.Errorf("catalog: record index_error for %s: %w", docID, err)
	}
	return nil
}
