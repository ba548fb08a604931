package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cardiolink/internal/config"
	"cardiolink/internal/sqlite"
)

// Store manages batch session persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the session database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "sessions.db")
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Create inserts a new pending session for the given input source.
func (s *Store) Create(ctx context.Context, source string) (*BatchSession, error) {
	ctx = sqlite.EnsureContext(ctx)
	now := time.Now().UTC()
	sess := &BatchSession{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Source:    source,
		StartedAt: now,
	}

	err := sqlite.RetryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO sessions (id, status, source, started_at) VALUES (?, ?, ?, ?)`,
			sess.ID, string(sess.Status), sess.Source, now.Format(time.RFC3339Nano))
		return execErr
	})
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return sess, nil
}

// Get returns a session with its per-file outcomes loaded.
func (s *Store) Get(ctx context.Context, id string) (*BatchSession, error) {
	ctx = sqlite.EnsureContext(ctx)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if err := s.loadOutcomes(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Transition moves a session to the next status. Terminal sessions reject
// all transitions with ErrTerminal. Moving into a terminal status stamps
// the finished-at time.
func (s *Store) Transition(ctx context.Context, id string, next Status) error {
	ctx = sqlite.EnsureContext(ctx)
	if _, ok := ParseStatus(string(next)); !ok {
		return fmt.Errorf("unknown status %q", next)
	}

	return sqlite.RetryOnBusy(ctx, func() error {
		return s.mutate(ctx, id, func(tx *sql.Tx, current Status) error {
			var finishedAt any
			if next.Terminal() {
				finishedAt = time.Now().UTC().Format(time.RFC3339Nano)
			}
			_, err := tx.ExecContext(ctx,
				`UPDATE sessions SET status = ?, finished_at = ? WHERE id = ?`,
				string(next), finishedAt, id)
			return err
		})
	})
}

// Fail moves a session to failed and records the fatal reason.
func (s *Store) Fail(ctx context.Context, id, reason string) error {
	ctx = sqlite.EnsureContext(ctx)
	return sqlite.RetryOnBusy(ctx, func() error {
		return s.mutate(ctx, id, func(tx *sql.Tx, current Status) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE sessions SET status = ?, error_message = ?, finished_at = ? WHERE id = ?`,
				string(StatusFailed), reason,
				time.Now().UTC().Format(time.RFC3339Nano), id)
			return err
		})
	})
}

// SetTotal records the expected file count for a session.
func (s *Store) SetTotal(ctx context.Context, id string, total int) error {
	ctx = sqlite.EnsureContext(ctx)
	return sqlite.RetryOnBusy(ctx, func() error {
		return s.mutate(ctx, id, func(tx *sql.Tx, current Status) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE sessions SET total_files = ? WHERE id = ?`, total, id)
			return err
		})
	})
}

// RecordProgress advances the processed counter and current file marker.
// The counter is monotonic: a stale lower value never overwrites a higher
// one, enforced in the UPDATE itself.
func (s *Store) RecordProgress(ctx context.Context, id string, processed int, currentFile string) error {
	ctx = sqlite.EnsureContext(ctx)
	return sqlite.RetryOnBusy(ctx, func() error {
		return s.mutate(ctx, id, func(tx *sql.Tx, current Status) error {
			_, err := tx.ExecContext(ctx,
				`UPDATE sessions
                 SET processed_files = CASE WHEN ? > processed_files THEN ? ELSE processed_files END,
                     current_file = ?
                 WHERE id = ?`,
				processed, processed, currentFile, id)
			return err
		})
	})
}

// RecordOutcome appends a per-file outcome to the session history.
func (s *Store) RecordOutcome(ctx context.Context, id string, outcome FileOutcome) error {
	ctx = sqlite.EnsureContext(ctx)
	recordedAt := outcome.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	return sqlite.RetryOnBusy(ctx, func() error {
		return s.mutate(ctx, id, func(tx *sql.Tx, current Status) error {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO session_files (session_id, filename, outcome, reason, token, recorded_at)
                 VALUES (?, ?, ?, ?, ?, ?)`,
				id, outcome.Filename, string(outcome.Outcome), outcome.Reason,
				outcome.Token, recordedAt.UTC().Format(time.RFC3339Nano))
			return err
		})
	})
}

// mutate runs fn inside a transaction after re-reading the current status
// and rejecting terminal sessions.
func (s *Store) mutate(ctx context.Context, id string, fn func(tx *sql.Tx, current Status) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT status FROM sessions WHERE id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read session status: %w", err)
	}
	current, ok := ParseStatus(raw)
	if !ok {
		return fmt.Errorf("session %s has unknown status %q", id, raw)
	}
	if current.Terminal() {
		return fmt.Errorf("session %s in status %s: %w", id, current, ErrTerminal)
	}

	if err := fn(tx, current); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit session tx: %w", err)
	}
	return nil
}

// List returns sessions ordered by recency.
func (s *Store) List(ctx context.Context, limit int) ([]*BatchSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.list(ctx, query, args...)
}

// ListByStatus returns sessions currently in any of the given statuses,
// oldest first. Used to find interrupted work at startup.
func (s *Store) ListByStatus(ctx context.Context, statuses ...Status) ([]*BatchSession, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE status IN (`
	args := make([]any, 0, len(statuses))
	for i, status := range statuses {
		if i > 0 {
			query += `, `
		}
		query += `?`
		args = append(args, string(status))
	}
	query += `) ORDER BY started_at`
	return s.list(ctx, query, args...)
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]*BatchSession, error) {
	ctx = sqlite.EnsureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var result []*BatchSession
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, sess := range result {
		if err := s.loadOutcomes(ctx, sess); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (s *Store) loadOutcomes(ctx context.Context, sess *BatchSession) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT filename, outcome, reason, token, recorded_at
         FROM session_files WHERE session_id = ? ORDER BY id`,
		sess.ID)
	if err != nil {
		return fmt.Errorf("load outcomes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			outcome     FileOutcome
			rawOutcome  string
			recordedRaw string
		)
		if err := rows.Scan(&outcome.Filename, &rawOutcome, &outcome.Reason,
			&outcome.Token, &recordedRaw); err != nil {
			return err
		}
		outcome.Outcome = Outcome(rawOutcome)
		if recorded, err := sqlite.ParseTime(recordedRaw); err == nil {
			outcome.RecordedAt = recorded
		}
		sess.Outcomes = append(sess.Outcomes, outcome)
	}
	return rows.Err()
}

const sessionColumns = "id, status, source, total_files, processed_files, current_file, error_message, started_at, finished_at"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*BatchSession, error) {
	var (
		sess        BatchSession
		rawStatus   string
		startedRaw  string
		finishedRaw sql.NullString
	)
	if err := scanner.Scan(
		&sess.ID,
		&rawStatus,
		&sess.Source,
		&sess.TotalFiles,
		&sess.ProcessedFiles,
		&sess.CurrentFile,
		&sess.ErrorMessage,
		&startedRaw,
		&finishedRaw,
	); err != nil {
		return nil, err
	}

	status, ok := ParseStatus(rawStatus)
	if !ok {
		return nil, fmt.Errorf("session %s has unknown status %q", sess.ID, rawStatus)
	}
	sess.Status = status
	if started, err := sqlite.ParseTime(startedRaw); err == nil {
		sess.StartedAt = started
	}
	if finishedRaw.Valid {
		if finished, err := sqlite.ParseTime(finishedRaw.String); err == nil {
			sess.FinishedAt = &finished
		}
	}
	return &sess, nil
}
