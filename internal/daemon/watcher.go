package daemon

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cardiolink/internal/config"
	"cardiolink/internal/logging"
	"cardiolink/internal/session"
)

// failedSuffix marks a drop folder whose batch failed, so the watcher
// does not retry it on every poll. An operator renames the folder to
// requeue it after fixing the input.
const failedSuffix = ".failed"

// watch polls the incoming directory until the daemon context ends. A
// failed scan backs off to the error retry interval before polling again.
func (d *Daemon) watch(ctx context.Context) {
	defer d.wg.Done()

	poll, retry := scanIntervals(d.cfg)
	timer := time.NewTimer(poll)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			next := poll
			if _, err := d.ScanOnce(ctx); err != nil {
				d.logger.Error("incoming scan failed", logging.Error(err))
				next = retry
			}
			timer.Reset(next)
		}
	}
}

// scanIntervals derives the steady poll interval and the post-error
// backoff from config, with sane floors for unset values.
func scanIntervals(cfg *config.Config) (poll, retry time.Duration) {
	poll = time.Duration(cfg.Workflow.PollInterval) * time.Second
	if poll <= 0 {
		poll = 5 * time.Second
	}
	retry = time.Duration(cfg.Workflow.ErrorRetryInterval) * time.Second
	if retry <= 0 {
		retry = poll
	}
	return poll, retry
}

// ScanOnce looks for settled drop folders in the incoming directory and
// ingests each as one batch session. Returns how many batches started.
func (d *Daemon) ScanOnce(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(d.cfg.Paths.IncomingDir)
	if err != nil {
		return 0, fmt.Errorf("read incoming dir: %w", err)
	}

	started := 0
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasSuffix(entry.Name(), failedSuffix) {
			continue
		}
		drop := filepath.Join(d.cfg.Paths.IncomingDir, entry.Name())
		if !d.settled(drop) {
			continue
		}
		if !d.claim(drop) {
			continue
		}
		started++
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			defer d.release(drop)
			d.ingest(ctx, drop)
		}()
	}
	return started, nil
}

// settled reports whether a drop folder has stopped changing: nothing in
// it was modified within the settle window. Uploads in progress keep a
// fresh mtime and stay untouched.
func (d *Daemon) settled(drop string) bool {
	settle := time.Duration(d.cfg.Workflow.SettleSeconds) * time.Second
	cutoff := time.Now().Add(-settle)

	stable := true
	err := filepath.WalkDir(drop, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(cutoff) {
			stable = false
			return filepath.SkipAll
		}
		return nil
	})
	return err == nil && stable
}

func (d *Daemon) claim(drop string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.inFlight[drop]; busy {
		return false
	}
	d.inFlight[drop] = struct{}{}
	return true
}

func (d *Daemon) release(drop string) {
	d.mu.Lock()
	delete(d.inFlight, drop)
	d.mu.Unlock()
}

// ingest runs one drop folder through a full session: stage every file,
// signal upload completion with the observed count, process, and clean
// up. Successful drops are removed; failed ones are renamed aside so the
// poll loop does not spin on them.
func (d *Daemon) ingest(ctx context.Context, drop string) {
	log := d.logger.With(logging.String("drop", filepath.Base(drop)))

	sess, err := d.manager.Start(ctx, drop)
	if err != nil {
		log.Error("start session failed", logging.Error(err))
		return
	}
	log = log.With(logging.String(logging.FieldSessionID, sess.ID))

	count, err := d.stageDrop(ctx, sess.ID, drop)
	if err != nil {
		log.Error("staging failed", logging.Error(err))
		if failErr := d.manager.Store().Fail(ctx, sess.ID, fmt.Sprintf("stage drop folder: %v", err)); failErr != nil {
			log.Warn("record staging failure", logging.Error(failErr))
		}
		d.setAside(drop, log)
		return
	}

	if err := d.manager.OnUploadComplete(ctx, sess.ID, count); err != nil {
		log.Error("upload completion failed", logging.Error(err))
		d.setAside(drop, log)
		return
	}

	status, err := d.processor.Run(ctx, sess.ID)
	if err != nil {
		log.Error("batch run failed", logging.Error(err))
		d.setAside(drop, log)
		return
	}

	log.Info("drop folder processed", logging.String("status", string(status)))
	if status == session.StatusCompleted {
		if err := os.RemoveAll(drop); err != nil {
			log.Warn("cleanup drop folder", logging.Error(err))
		}
		return
	}
	d.setAside(drop, log)
}

func (d *Daemon) stageDrop(ctx context.Context, sessionID, drop string) (int, error) {
	entries, err := os.ReadDir(drop)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		f, err := os.Open(filepath.Join(drop, entry.Name()))
		if err != nil {
			return count, err
		}
		_, err = d.manager.OnFileReceived(ctx, sessionID, entry.Name(), f)
		_ = f.Close()
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

func (d *Daemon) setAside(drop string, log *slog.Logger) {
	if err := os.Rename(drop, drop+failedSuffix); err != nil {
		log.Warn("set aside drop folder", logging.Error(err))
	}
}
