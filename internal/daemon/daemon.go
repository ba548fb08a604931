package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"cardiolink/internal/batch"
	"cardiolink/internal/config"
	"cardiolink/internal/logging"
	"cardiolink/internal/session"
)

// Daemon coordinates the intake watcher and batch processing, and
// enforces single-instance execution via a lock file.
type Daemon struct {
	cfg       *config.Config
	logger    *slog.Logger
	manager   *session.Manager
	processor *batch.Processor
	logPath   string

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Status represents daemon runtime information.
type Status struct {
	Running        bool
	ActiveSessions int
	IncomingDir    string
	LockFilePath   string
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, manager *session.Manager, processor *batch.Processor, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || manager == nil || processor == nil {
		return nil, errors.New("daemon requires config, session manager, and processor")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := filepath.Join(cfg.Paths.LogDir, "cardiolinkd.lock")
	return &Daemon{
		cfg:       cfg,
		logger:    logging.NewComponentLogger(logger, "daemon"),
		manager:   manager,
		processor: processor,
		logPath:   filepath.Join(cfg.Paths.LogDir, "cardiolink.log"),
		lockPath:  lockPath,
		lock:      flock.New(lockPath),
		inFlight:  make(map[string]struct{}),
	}, nil
}

// Start acquires the daemon lock, resumes interrupted sessions, and
// launches the intake watcher.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another cardiolink daemon instance is already running")
	}

	d.ctx, d.cancel = context.WithCancel(ctx)

	if err := d.resume(d.ctx); err != nil {
		_ = d.lock.Unlock()
		d.cancel()
		d.ctx = nil
		d.cancel = nil
		return fmt.Errorf("resume sessions: %w", err)
	}

	d.wg.Add(1)
	go d.watch(d.ctx)

	d.running.Store(true)
	d.logger.Info("cardiolink daemon started",
		logging.String("lock", d.lockPath),
		logging.String("incoming", d.cfg.Paths.IncomingDir))
	return nil
}

// resume re-runs sessions left in processing by a previous instance.
// Files whose pair already holds an active link are skipped inside the
// processor, so resuming is safe to repeat.
func (d *Daemon) resume(ctx context.Context) error {
	resumable, err := d.manager.Resumable(ctx)
	if err != nil {
		return err
	}
	for _, sess := range resumable {
		status, err := d.processor.Run(ctx, sess.ID)
		if err != nil {
			d.logger.Error("session resume failed",
				logging.String(logging.FieldSessionID, sess.ID),
				logging.Error(err))
			continue
		}
		d.logger.Info("session resumed",
			logging.String(logging.FieldSessionID, sess.ID),
			logging.String("status", string(status)))
	}
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.ctx = nil
	d.running.Store(false)
	d.logger.Info("cardiolink daemon stopped")
}

// LogPath returns the path to the daemon log file.
func (d *Daemon) LogPath() string {
	return d.logPath
}

// Status returns the current daemon status.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	active := len(d.inFlight)
	d.mu.Unlock()
	return Status{
		Running:        d.running.Load(),
		ActiveSessions: active,
		IncomingDir:    d.cfg.Paths.IncomingDir,
		LockFilePath:   d.lockPath,
	}
}
