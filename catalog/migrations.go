package catalog

import (
	"context"
	"database/sql"
	"fmt"
)

// migration mirrors the teacher's store/migrations.go shape: an ordered
// list of idempotent steps gated on a schema_version table, applied
// transactionally one at a time.
type migration struct {
	version int
	name    string
	apply   func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		version: 1,
		name:    "base schema",
		apply:   func(ctx context.Context, tx *sql.Tx) error { return nil }, // schemaSQL already creates it
	},
}

// migrate applies any migrations not yet recorded in schema_version.
func (s *Store) migrate(ctx context.Context) error {
	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("catalog: read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		err := s.inTx(ctx, func(tx *sql.Tx) error {
			if err := m.apply(ctx, tx); err != nil {
				return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, m.version)
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}
