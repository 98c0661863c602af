// Package history records verification-suite baselines and the audit trail
// of phase transitions in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/cadence/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Suite is a verification suite that has passed at least once.
type Suite struct {
	Name          string
	Command       string
	Phase         models.Phase
	FirstPassedBy string // Sprint that first made the suite pass
	FirstPassedAt time.Time
	LastPassedBy  string
	LastPassedAt  time.Time
}

// Transition is one audited phase attempt.
type Transition struct {
	ID         int64
	RunID      string
	SprintID   string
	From       models.Phase
	To         models.Phase
	RetryCount int
	Outcome    string // advanced, failed, blocked, rolled_back
	Detail     string
	CreatedAt  time.Time
}

// Transition outcomes
const (
	OutcomeAdvanced   = "advanced"
	OutcomeFailed     = "failed"
	OutcomeBlocked    = "blocked"
	OutcomeRolledBack = "rolled_back"
)

// Store manages the SQLite history database
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (or creates) the database at dbPath and applies migrations.
func NewStore(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection would otherwise see its own empty database.
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	store := &Store{db: db, dbPath: dbPath}
	if err := store.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return store, nil
}

// execWithRetry executes a statement with exponential backoff on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// RecordSuitePass adds suite to the baseline or refreshes its last pass.
// The sprint that first passed a suite is never overwritten.
func (s *Store) RecordSuitePass(ctx context.Context, name, command string, phase models.Phase, sprintID string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `INSERT INTO verification_suites
		(name, command, phase, first_passed_by, first_passed_at, last_passed_by, last_passed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			command = excluded.command,
			phase = excluded.phase,
			last_passed_by = excluded.last_passed_by,
			last_passed_at = excluded.last_passed_at`,
		name, command, string(phase), sprintID, ts, sprintID, ts,
	)
	if err != nil {
		return fmt.Errorf("record suite %s: %w", name, err)
	}
	return nil
}

// PassingSuites returns the baseline in the order suites first passed.
func (s *Store) PassingSuites(ctx context.Context) ([]Suite, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, command, phase, first_passed_by, first_passed_at, last_passed_by, last_passed_at
		FROM verification_suites ORDER BY first_passed_at, name`)
	if err != nil {
		return nil, fmt.Errorf("query suites: %w", err)
	}
	defer rows.Close()

	var suites []Suite
	for rows.Next() {
		var (
			suite           Suite
			phase           string
			firstAt, lastAt string
		)
		if err := rows.Scan(&suite.Name, &suite.Command, &phase, &suite.FirstPassedBy, &firstAt, &suite.LastPassedBy, &lastAt); err != nil {
			return nil, fmt.Errorf("scan suite: %w", err)
		}
		suite.Phase = models.Phase(phase)
		if suite.FirstPassedAt, err = time.Parse(time.RFC3339Nano, firstAt); err != nil {
			return nil, fmt.Errorf("parse first_passed_at: %w", err)
		}
		if suite.LastPassedAt, err = time.Parse(time.RFC3339Nano, lastAt); err != nil {
			return nil, fmt.Errorf("parse last_passed_at: %w", err)
		}
		suites = append(suites, suite)
	}
	return suites, rows.Err()
}

// RecordTransition appends t to the audit trail and sets its ID.
func (s *Store) RecordTransition(ctx context.Context, t *Transition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.ExecContext(ctx, `INSERT INTO phase_transitions
		(run_id, sprint_id, from_phase, to_phase, retry_count, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.RunID, t.SprintID, string(t.From), string(t.To), t.RetryCount, t.Outcome, t.Detail,
		t.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert transition: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	t.ID = id
	return nil
}

// Transitions returns the audit trail for sprintID, oldest first.
// limit <= 0 returns everything.
func (s *Store) Transitions(ctx context.Context, sprintID string, limit int) ([]Transition, error) {
	query := `SELECT id, run_id, sprint_id, from_phase, to_phase, retry_count, outcome, COALESCE(detail, ''), created_at
		FROM phase_transitions WHERE sprint_id = ? ORDER BY id`
	args := []interface{}{sprintID}
	if limit > 0 {
		query = `SELECT * FROM (` + query + ` DESC LIMIT ?) ORDER BY id`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	var out []Transition
	for rows.Next() {
		var (
			t         Transition
			from, to  string
			createdAt string
		)
		if err := rows.Scan(&t.ID, &t.RunID, &t.SprintID, &from, &to, &t.RetryCount, &t.Outcome, &t.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = models.Phase(from), models.Phase(to)
		if t.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
