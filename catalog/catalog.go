// Package catalog is the Segment Store: the one mutable shared
// structure in the engine (spec §5), backed by SQLite via the teacher's
// database/sql + mattn/go-sqlite3 + WAL-journal DSN pattern. Segment
// bytes themselves are immutable files on disk; this package only
// tracks their lifecycle and the document-to-segment mapping.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	_ "github.com/mattn/go-sqlite3"

	"github.com/oysyn/plagindex/config"
	"github.com/oysyn/plagindex/errs"
)

// DocumentStatus values, per spec §3.
const (
	StatusUploaded  = "uploaded"
	StatusNormalized = "normalized"
	StatusIndexed   = "indexed"
	StatusRetired   = "retired"
	StatusError     = "error"
)

// SegmentStatus values, per spec §4.E's state machine.
const (
	SegStatusBuilding = "building"
	SegStatusReady    = "ready"
	SegStatusMerged   = "merged"
	SegStatusError    = "error"
)

// DocumentRecord mirrors the catalog's documents table row.
type DocumentRecord struct {
	DocID            string
	InternalID       int64
	ShardID          uint16
	Status           string
	CurrentSegmentID *uint64
	SimHashHi        uint64
	SimHashLo        uint64
	Title            string
	Author           string
}

// SegmentRecord mirrors the catalog's segments table row.
type SegmentRecord struct {
	SegmentID       uint64
	ShardID         uint16
	Level           uint8
	Status          string
	Path            string
	DocCount        uint32
	ShingleCount    uint64
	SizeBytes       uint64
	Reserved        bool
}

// LiveSegment is the read-only handle readers get from a snapshot: just
// enough to open and search a ready segment without touching SQL.
type LiveSegment struct {
	SegmentID uint64
	ShardID   uint16
	Level     uint8
	Path      string
}

// Store is the catalog. It wraps *sql.DB with the teacher's
// transactional-wrapper (inTx) and prepared-upsert idioms, plus an
// atomic.Pointer-based live-segment snapshot refreshed after every
// publish/retire, grounded on the pack's hashindex copy-on-write
// segment-list pattern.
type Store struct {
	db     *sql.DB
	cfg    config.Config
	closed atomic.Bool

	liveSegments atomic.Pointer[[]*LiveSegment]
	snapshotMu   sync.Mutex // serializes refreshSnapshot; readers never block on it
}

// New opens (creating if necessary) the catalog database at
// cfg.ResolveCatalogPath(), applies the schema and migrations, and
// loads the initial live-segment snapshot.
func New(cfg config.Config) (*Store, error) {
	path := cfg.ResolveCatalogPath()
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("catalog: create dir %s: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: ping %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite write concurrency is serialized regardless; avoid busy-lock races
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.refreshSnapshot(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying *sql.DB so the queue package can operate on
// the shared tasks table without this package needing to know anything
// about task semantics.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the underlying database handle.
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// inTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic, mirroring the teacher's store.inTx.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	if s.closed.Load() {
		return errs.StoreClosed
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
		if err != nil {
			tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// LiveSegments returns the current live-segment snapshot. Safe for
// concurrent use without locking: it is an acquire load of an
// immutable slice installed by refreshSnapshot (the publication
// release-barrier / acquire-load pairing required by spec §5).
func (s *Store) LiveSegments() []*LiveSegment {
	p := s.liveSegments.Load()
	if p == nil {
		return nil
	}
	return *p
}

// refreshSnapshot rebuilds the live-segment snapshot from the segments
// table and installs it with a single atomic store. Called after every
// publish/retire under snapshotMu so concurrent writers don't race each
// other (readers never take this lock).
func (s *Store) refreshSnapshot(ctx context.Context) error {
	s.snapshotMu.Lock()
	defer s.snapshotMu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT segment_id, shard_id, level, path
		FROM segments WHERE status = ?
		ORDER BY level, segment_id`, SegStatusReady)
	if err != nil {
		return fmt.Errorf("catalog: query live segments: %w", err)
	}
	defer rows.Close()

	var list []*LiveSegment
	for rows.Next() {
		ls := &LiveSegment{}
		if err := rows.Scan(&ls.SegmentID, &ls.ShardID, &ls.Level, &ls.Path); err != nil {
			return fmt.Errorf("catalog: scan live segment: %w", err)
		}
		list = append(list, ls)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.liveSegments.Store(&list)
	return nil
}

// Stats aggregates counts across the catalog, analogous to the
// teacher's DBStats diagnostic helper.
type Stats struct {
	DocumentCount int64
	SegmentCount  int64
	ReadySegments int64
	PendingTasks  int64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&st.DocumentCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments`).Scan(&st.SegmentCount); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM segments WHERE status = ?`, SegStatusReady).Scan(&st.ReadySegments); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks WHERE status = 'pending'`).Scan(&st.PendingTasks); err != nil {
		return st, err
	}
	return st, nil
}
