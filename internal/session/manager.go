package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/recording"
)

// Manager wraps the session store with the intake-side state machine:
// staging uploaded files, gating the move into processing on the expected
// file count, cancellation, and restart recovery.
type Manager struct {
	cfg    *config.Config
	store  *Store
	links  *links.Store
	logger *slog.Logger
}

// NewManager wires a Manager over its stores.
func NewManager(cfg *config.Config, store *Store, linkStore *links.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:    cfg,
		store:  store,
		links:  linkStore,
		logger: logger.With(logging.String(logging.FieldComponent, "session-manager")),
	}
}

// Store exposes the underlying session store for read paths.
func (m *Manager) Store() *Store {
	return m.store
}

// Start creates a pending session for the given input source and prepares
// its staging directory.
func (m *Manager) Start(ctx context.Context, source string) (*BatchSession, error) {
	sess, err := m.store.Create(ctx, source)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(m.StagingDir(sess.ID), 0o755); err != nil {
		failErr := m.store.Fail(ctx, sess.ID, fmt.Sprintf("create staging dir: %v", err))
		if failErr != nil {
			m.logger.Warn("record staging failure", logging.Error(failErr))
		}
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	m.logger.Info("session started",
		logging.String(logging.FieldSessionID, sess.ID),
		logging.String("source", source))
	return sess, nil
}

// StagingDir returns the staging directory for a session.
func (m *Manager) StagingDir(sessionID string) string {
	return filepath.Join(m.cfg.Paths.StagingDir, sessionID)
}

// OnFileReceived stages one uploaded file under the session's staging
// directory. The first file moves a pending session into uploading.
func (m *Manager) OnFileReceived(ctx context.Context, sessionID, name string, r io.Reader) (recording.UploadedFile, error) {
	var zero recording.UploadedFile

	cleaned := filepath.Base(strings.TrimSpace(name))
	if cleaned == "" || cleaned == "." || cleaned == string(filepath.Separator) {
		return zero, fmt.Errorf("invalid upload name %q", name)
	}

	sess, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return zero, err
	}
	switch sess.Status {
	case StatusPending:
		if err := m.store.Transition(ctx, sessionID, StatusUploading); err != nil {
			return zero, err
		}
	case StatusUploading:
		// Already receiving.
	default:
		return zero, fmt.Errorf("session %s in status %s cannot accept files", sessionID, sess.Status)
	}

	target := filepath.Join(m.StagingDir(sessionID), cleaned)
	out, err := os.Create(target)
	if err != nil {
		return zero, fmt.Errorf("stage %s: %w", cleaned, err)
	}
	size, err := io.Copy(out, r)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(target)
		return zero, fmt.Errorf("stage %s: %w", cleaned, err)
	}

	m.logger.Debug("file staged",
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldFile, cleaned),
		logging.Int64("bytes", size))

	return recording.UploadedFile{
		ID:           uuid.NewString(),
		OriginalName: cleaned,
		Size:         size,
		Kind:         recording.KindForName(cleaned),
		StagedPath:   target,
	}, nil
}

// OnUploadComplete gates the move into processing. A mismatch between the
// expected count and what was actually staged is fatal to the session.
func (m *Manager) OnUploadComplete(ctx context.Context, sessionID string, expectedCount int) error {
	staged, err := m.StagedFiles(sessionID)
	if err != nil {
		reason := fmt.Sprintf("enumerate staged files: %v", err)
		if failErr := m.store.Fail(ctx, sessionID, reason); failErr != nil {
			return errors.Join(err, failErr)
		}
		return fmt.Errorf("enumerate staged files: %w", err)
	}
	if len(staged) != expectedCount {
		reason := fmt.Sprintf("staged %d files, expected %d", len(staged), expectedCount)
		if err := m.store.Fail(ctx, sessionID, reason); err != nil {
			return err
		}
		return errors.New(reason)
	}

	if err := m.store.SetTotal(ctx, sessionID, expectedCount); err != nil {
		return err
	}
	if err := m.store.Transition(ctx, sessionID, StatusProcessing); err != nil {
		return err
	}
	m.logger.Info("upload complete",
		logging.String(logging.FieldSessionID, sessionID),
		logging.Int("files", expectedCount))
	return nil
}

// StagedFiles enumerates the session's staging directory in name order.
func (m *Manager) StagedFiles(sessionID string) ([]recording.UploadedFile, error) {
	entries, err := os.ReadDir(m.StagingDir(sessionID))
	if err != nil {
		return nil, err
	}

	var files []recording.UploadedFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return nil, err
		}
		files = append(files, recording.UploadedFile{
			ID:           uuid.NewString(),
			OriginalName: entry.Name(),
			Size:         info.Size(),
			Kind:         recording.KindForName(entry.Name()),
			StagedPath:   filepath.Join(m.StagingDir(sessionID), entry.Name()),
		})
	}
	return files, nil
}

// Cancel transitions a non-terminal session to cancelled. The batch
// processor observes the status between pairs and stops at the next safe
// point.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	if err := m.store.Transition(ctx, sessionID, StatusCancelled); err != nil {
		return err
	}
	m.logger.Info("session cancelled", logging.String(logging.FieldSessionID, sessionID))
	return nil
}

// Resumable recovers interrupted work at startup. Sessions stuck in
// processing are returned for a re-run; the batch processor skips files
// whose pair already holds an active link, so resuming never duplicates
// work. Sessions interrupted before processing began cannot be completed
// without their upload collaborator and are failed with that reason.
func (m *Manager) Resumable(ctx context.Context) ([]*BatchSession, error) {
	stranded, err := m.store.ListByStatus(ctx, StatusPending, StatusUploading)
	if err != nil {
		return nil, err
	}
	for _, sess := range stranded {
		if err := m.store.Fail(ctx, sess.ID, "interrupted before processing started"); err != nil {
			return nil, err
		}
		m.logger.Warn("stranded session failed",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.String("previous_status", string(sess.Status)))
	}

	resumable, err := m.store.ListByStatus(ctx, StatusProcessing)
	if err != nil {
		return nil, err
	}
	for _, sess := range resumable {
		m.logger.Info("session resumable",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.Int("processed", sess.ProcessedFiles),
			logging.Int("total", sess.TotalFiles))
	}
	return resumable, nil
}

// AlreadyLinked reports whether a device and recording date already hold
// an active patient link, and returns its token when present.
func (m *Manager) AlreadyLinked(ctx context.Context, deviceID string, window recording.DeviceWindow) (string, bool, error) {
	link, err := m.links.FindActiveByDeviceDate(ctx, deviceID, window.RecordingDate())
	if err != nil {
		return "", false, err
	}
	if link == nil {
		return "", false, nil
	}
	return link.Token, true, nil
}
