package links

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"cardiolink/internal/config"
	"cardiolink/internal/sqlite"
)

// Store manages patient link persistence backed by SQLite.
type Store struct {
	db       *sql.DB
	path     string
	registry *keyedMutex
}

// Open initializes or connects to the link database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "links.db")
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}

	store := &Store{db: db, path: dbPath, registry: newKeyedMutex()}
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

// Register mints a link for the given metadata unless an active link
// already exists for the same device identifier and recording date, in
// which case the existing link is returned with created=false. The check
// and insert run under a per-key lock plus a transaction, so a concurrent
// duplicate registration re-reads the winner instead of erroring.
func (s *Store) Register(ctx context.Context, meta NewLink) (*PatientLink, bool, error) {
	ctx = sqlite.EnsureContext(ctx)
	if err := validateNewLink(meta); err != nil {
		return nil, false, err
	}

	unlock := s.registry.Lock(meta.DeviceID + "|" + dateKey(meta.RecordingDate))
	defer unlock()

	var (
		link    *PatientLink
		created bool
	)
	err := sqlite.RetryOnBusy(ctx, func() error {
		var txErr error
		link, created, txErr = s.registerTx(ctx, meta)
		return txErr
	})
	if err != nil {
		return nil, false, err
	}
	return link, created, nil
}

// Reissue always mints a fresh link for the metadata, even when an active
// link exists for the same device and date. Used by the administrative
// path when a cabinet re-issues access.
func (s *Store) Reissue(ctx context.Context, meta NewLink) (*PatientLink, error) {
	ctx = sqlite.EnsureContext(ctx)
	if err := validateNewLink(meta); err != nil {
		return nil, err
	}

	unlock := s.registry.Lock(meta.DeviceID + "|" + dateKey(meta.RecordingDate))
	defer unlock()

	var link *PatientLink
	err := sqlite.RetryOnBusy(ctx, func() error {
		var txErr error
		link, txErr = s.insertTx(ctx, meta)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Store) registerTx(ctx context.Context, meta NewLink) (*PatientLink, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin register tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingToken string
	err = tx.QueryRowContext(ctx,
		`SELECT token FROM patient_links
         WHERE device_id = ? AND recording_date = ? AND active = 1
         ORDER BY created_at LIMIT 1`,
		meta.DeviceID, dateKey(meta.RecordingDate),
	).Scan(&existingToken)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("commit register tx: %w", err)
		}
		existing, err := s.getByToken(ctx, existingToken, false)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	case errors.Is(err, sql.ErrNoRows):
		// No active link yet; mint one below.
	default:
		return nil, false, fmt.Errorf("lookup existing link: %w", err)
	}

	link, err := insertLink(ctx, tx, meta)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit register tx: %w", err)
	}
	return link, true, nil
}

func (s *Store) insertTx(ctx context.Context, meta NewLink) (*PatientLink, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	link, err := insertLink(ctx, tx, meta)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit insert tx: %w", err)
	}
	return link, nil
}

func insertLink(ctx context.Context, tx *sql.Tx, meta NewLink) (*PatientLink, error) {
	token, err := NewToken()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO patient_links (
            token, device_id, recording_date, start_time, end_time,
            output_folder, active, view_count, created_at
        ) VALUES (?, ?, ?, ?, ?, ?, 1, 0, ?)`,
		token,
		meta.DeviceID,
		dateKey(meta.RecordingDate),
		meta.StartTime.UTC().Format(time.RFC3339Nano),
		meta.EndTime.UTC().Format(time.RFC3339Nano),
		sqlite.NullableString(meta.OutputFolder),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert link: %w", err)
	}

	for position, ref := range meta.StorageRefs {
		if _, ok := ParseStorageKind(string(ref.Kind)); !ok {
			return nil, fmt.Errorf("storage ref %d: unknown kind %q", position, ref.Kind)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO storage_refs (token, kind, location, position) VALUES (?, ?, ?, ?)`,
			token, string(ref.Kind), ref.Location, position,
		); err != nil {
			return nil, fmt.Errorf("insert storage ref: %w", err)
		}
	}

	return &PatientLink{
		Token:         token,
		DeviceID:      meta.DeviceID,
		RecordingDate: meta.RecordingDate,
		StartTime:     meta.StartTime.UTC(),
		EndTime:       meta.EndTime.UTC(),
		OutputFolder:  meta.OutputFolder,
		StorageRefs:   append([]StorageRef(nil), meta.StorageRefs...),
		Active:        true,
		CreatedAt:     now,
	}, nil
}

func validateNewLink(meta NewLink) error {
	if meta.DeviceID == "" {
		return errors.New("device identifier is required")
	}
	if meta.RecordingDate.IsZero() {
		return errors.New("recording date is required")
	}
	return nil
}

// Validate reports whether an active link exists for the token. Inactive
// and unknown tokens are indistinguishable.
func (s *Store) Validate(ctx context.Context, token string) (bool, error) {
	ctx = sqlite.EnsureContext(ctx)
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM patient_links WHERE token = ? AND active = 1`, token,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate token: %w", err)
	}
	return true, nil
}

// Resolve returns the full link metadata for an active token. When
// trackView is set the view counter and last-viewed timestamp are
// incremented best-effort: a counter failure never fails the read.
// Missing and inactive tokens both return ErrNotFound.
func (s *Store) Resolve(ctx context.Context, token string, trackView bool) (*PatientLink, error) {
	ctx = sqlite.EnsureContext(ctx)

	if trackView {
		now := time.Now()
		// Best-effort; the read below proceeds regardless.
		_ = sqlite.RetryOnBusy(ctx, func() error {
			_, err := s.db.ExecContext(ctx,
				`UPDATE patient_links
                 SET view_count = view_count + 1, last_viewed_at = ?
                 WHERE token = ? AND active = 1`,
				sqlite.NullableTime(&now), token,
			)
			return err
		})
	}

	return s.getByToken(ctx, token, true)
}

// ListRecordings returns the ordered storage references for an active
// token. Missing and inactive tokens both return ErrNotFound.
func (s *Store) ListRecordings(ctx context.Context, token string) ([]StorageRef, error) {
	link, err := s.getByToken(ctx, token, true)
	if err != nil {
		return nil, err
	}
	return link.StorageRefs, nil
}

// Deactivate turns a link off without deleting it. Administrative path;
// reports whether a change was made.
func (s *Store) Deactivate(ctx context.Context, token string) (bool, error) {
	ctx = sqlite.EnsureContext(ctx)
	var res sql.Result
	err := sqlite.RetryOnBusy(ctx, func() error {
		var execErr error
		res, execErr = s.db.ExecContext(ctx,
			`UPDATE patient_links SET active = 0 WHERE token = ? AND active = 1`, token)
		return execErr
	})
	if err != nil {
		return false, fmt.Errorf("deactivate link: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// FindActiveByDeviceDate returns the oldest active link for a device and
// recording date, or nil when none exists. Used by the batch processor's
// idempotence check.
func (s *Store) FindActiveByDeviceDate(ctx context.Context, deviceID string, date time.Time) (*PatientLink, error) {
	ctx = sqlite.EnsureContext(ctx)
	var token string
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM patient_links
         WHERE device_id = ? AND recording_date = ? AND active = 1
         ORDER BY created_at LIMIT 1`,
		deviceID, dateKey(date),
	).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by device and date: %w", err)
	}
	return s.getByToken(ctx, token, false)
}

// List returns links ordered by recency. Administrative path: inactive
// links are included.
func (s *Store) List(ctx context.Context, limit int) ([]*PatientLink, error) {
	ctx = sqlite.EnsureContext(ctx)
	query := `SELECT ` + linkColumns + ` FROM patient_links ORDER BY created_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	defer rows.Close()

	var result []*PatientLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, link)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, link := range result {
		if err := s.loadRefs(ctx, link); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Get returns a link by token regardless of active state. Administrative
// path only; patient-facing callers must use Resolve/Validate.
func (s *Store) Get(ctx context.Context, token string) (*PatientLink, error) {
	return s.getByToken(sqlite.EnsureContext(ctx), token, false)
}

func (s *Store) getByToken(ctx context.Context, token string, activeOnly bool) (*PatientLink, error) {
	query := `SELECT ` + linkColumns + ` FROM patient_links WHERE token = ?`
	if activeOnly {
		query += ` AND active = 1`
	}
	row := s.db.QueryRowContext(ctx, query, token)
	link, err := scanLink(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get link: %w", err)
	}
	if err := s.loadRefs(ctx, link); err != nil {
		return nil, err
	}
	return link, nil
}

func (s *Store) loadRefs(ctx context.Context, link *PatientLink) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, location FROM storage_refs WHERE token = ? ORDER BY position`,
		link.Token,
	)
	if err != nil {
		return fmt.Errorf("load storage refs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, location string
		if err := rows.Scan(&kind, &location); err != nil {
			return err
		}
		parsed, ok := ParseStorageKind(kind)
		if !ok {
			return fmt.Errorf("storage ref for %q: unknown kind %q", link.DeviceID, kind)
		}
		link.StorageRefs = append(link.StorageRefs, StorageRef{Kind: parsed, Location: location})
	}
	return rows.Err()
}

const linkColumns = "token, device_id, recording_date, start_time, end_time, output_folder, active, view_count, last_viewed_at, created_at"

func scanLink(scanner interface{ Scan(dest ...any) error }) (*PatientLink, error) {
	var (
		token         string
		deviceID      string
		recordingDate string
		startRaw      string
		endRaw        string
		outputFolder  sql.NullString
		active        int
		viewCount     int64
		lastViewedRaw sql.NullString
		createdRaw    string
	)
	if err := scanner.Scan(
		&token,
		&deviceID,
		&recordingDate,
		&startRaw,
		&endRaw,
		&outputFolder,
		&active,
		&viewCount,
		&lastViewedRaw,
		&createdRaw,
	); err != nil {
		return nil, err
	}

	link := &PatientLink{
		Token:        token,
		DeviceID:     deviceID,
		OutputFolder: outputFolder.String,
		Active:       active != 0,
		ViewCount:    viewCount,
	}
	if date, err := time.Parse(dateKeyLayout, recordingDate); err == nil {
		link.RecordingDate = date
	}
	if start, err := sqlite.ParseTime(startRaw); err == nil {
		link.StartTime = start
	}
	if end, err := sqlite.ParseTime(endRaw); err == nil {
		link.EndTime = end
	}
	if lastViewedRaw.Valid {
		if viewed, err := sqlite.ParseTime(lastViewedRaw.String); err == nil {
			link.LastViewedAt = &viewed
		}
	}
	if created, err := sqlite.ParseTime(createdRaw); err == nil {
		link.CreatedAt = created
	}
	return link, nil
}
