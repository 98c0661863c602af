package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Verification suite baselines and phase transition audit",
		SQL: `
-- Suites that have passed at least once; every later run must keep passing them
CREATE TABLE IF NOT EXISTS verification_suites (
    name TEXT PRIMARY KEY,
    command TEXT NOT NULL,
    phase TEXT NOT NULL,
    first_passed_by TEXT NOT NULL,
    first_passed_at TEXT NOT NULL,
    last_passed_by TEXT NOT NULL,
    last_passed_at TEXT NOT NULL
);

-- One row per committed or failed phase attempt
CREATE TABLE IF NOT EXISTS phase_transitions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    sprint_id TEXT NOT NULL,
    from_phase TEXT NOT NULL,
    to_phase TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    outcome TEXT NOT NULL,
    detail TEXT,
    created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_phase_transitions_sprint ON phase_transitions(sprint_id, id);
CREATE INDEX IF NOT EXISTS idx_phase_transitions_run ON phase_transitions(run_id);
`,
	},
}

// ApplyMigrations applies every migration newer than the recorded version.
func (s *Store) ApplyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		description TEXT,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := s.GetLatestVersion()
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := s.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

func (s *Store) applyMigration(ctx context.Context, m Migration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, description, applied_at) VALUES (?, ?, ?)`,
		m.Version, m.Description, time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return err
	}
	return tx.Commit()
}

// GetLatestVersion returns the highest applied migration version (0 if none).
func (s *Store) GetLatestVersion() (int, error) {
	var version sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(version) FROM schema_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
