// Package storage locates the data behind a patient link. Links minted
// by current code carry explicit storage references; links minted before
// reference tracking existed have none, so the resolver falls back to a
// heuristic scan of the output root keyed on device identifier and the
// locale date token.
package storage

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"cardiolink/internal/config"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/objectstore"
)

// ErrNotFound indicates no strategy could locate the link's data.
var ErrNotFound = errors.New("recording data not found")

// Resolver resolves a patient link to its underlying recording data.
type Resolver struct {
	cfg    *config.Config
	remote *objectstore.Client
	logger *slog.Logger
}

// NewResolver builds a Resolver. remote may be nil when the object store
// is disabled; remote references then simply fail through to the next
// strategy.
func NewResolver(cfg *config.Config, remote *objectstore.Client, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{
		cfg:    cfg,
		remote: remote,
		logger: logging.NewComponentLogger(logger, "storage-resolver"),
	}
}

// Locate returns a reader over the link's primary recording data and the
// location it was read from. Explicit storage references are tried in
// order; an unreadable reference falls through to the next one and
// finally to the heuristic folder scan. Returns ErrNotFound when every
// strategy fails.
func (r *Resolver) Locate(ctx context.Context, link *links.PatientLink) (io.ReadCloser, string, error) {
	for _, ref := range link.StorageRefs {
		reader, err := r.openRef(ctx, ref)
		if err == nil {
			return reader, ref.Location, nil
		}
		r.logger.Warn("storage reference unreadable",
			logging.String(logging.FieldDeviceID, link.DeviceID),
			logging.String("kind", string(ref.Kind)),
			logging.String("location", ref.Location),
			logging.Error(err))
	}

	folder, err := r.heuristicFolder(link)
	if err != nil {
		return nil, "", err
	}
	location, err := primaryArtifact(folder)
	if err != nil {
		return nil, "", err
	}
	reader, err := os.Open(location)
	if err != nil {
		return nil, "", ErrNotFound
	}
	return reader, location, nil
}

func (r *Resolver) openRef(ctx context.Context, ref links.StorageRef) (io.ReadCloser, error) {
	switch ref.Kind {
	case links.StorageLocal:
		return os.Open(ref.Location)
	case links.StorageRemote:
		if r.remote == nil {
			return nil, objectstore.ErrDisabled
		}
		return r.remote.Get(ctx, ref.Location)
	default:
		return nil, errors.New("unknown storage kind")
	}
}

// heuristicFolder scans the output root for a directory whose name
// contains both the device identifier and the locale date token. The
// comparison is case- and diacritic-insensitive; the first lexicographic
// match wins.
func (r *Resolver) heuristicFolder(link *links.PatientLink) (string, error) {
	token, err := DateToken(link.RecordingDate, r.cfg.Matching.DateTokenLocale)
	if err != nil {
		return "", err
	}
	wantDevice := fold(link.DeviceID)
	wantDate := fold(token)

	entries, err := os.ReadDir(r.cfg.Paths.OutputDir)
	if err != nil {
		return "", ErrNotFound
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := fold(entry.Name())
		if strings.Contains(name, wantDevice) && strings.Contains(name, wantDate) {
			return filepath.Join(r.cfg.Paths.OutputDir, entry.Name()), nil
		}
	}
	return "", ErrNotFound
}

// primaryArtifact picks the file to serve from a recording folder: the
// lexicographically first CSV, falling back to the first regular file.
func primaryArtifact(folder string) (string, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return "", ErrNotFound
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.EqualFold(filepath.Ext(name), ".csv") {
			return filepath.Join(folder, name), nil
		}
	}
	if len(names) > 0 {
		return filepath.Join(folder, names[0]), nil
	}
	return "", ErrNotFound
}

// OutputFolder derives the canonical output location for a device and
// recording date, e.g. <output root>/DEV42_01mai2024.
func (r *Resolver) OutputFolder(deviceID string, date time.Time) (string, error) {
	token, err := DateToken(date, r.cfg.Matching.DateTokenLocale)
	if err != nil {
		return "", err
	}
	return filepath.Join(r.cfg.Paths.OutputDir, deviceID+"_"+token), nil
}
