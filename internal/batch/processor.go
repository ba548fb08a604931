// Package batch drives one ingestion session end to end: enumerate the
// staged files, pair recordings with reports, publish each pair's
// artifacts to the output location, and mint a patient link per pair.
// A single pair's failure never aborts its siblings; the session fails
// as a whole only when input was present and nothing could be linked.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"cardiolink/internal/config"
	"cardiolink/internal/fileutil"
	"cardiolink/internal/links"
	"cardiolink/internal/logging"
	"cardiolink/internal/matching"
	"cardiolink/internal/notifications"
	"cardiolink/internal/objectstore"
	"cardiolink/internal/recording"
	"cardiolink/internal/session"
	"cardiolink/internal/storage"
)

const reasonAlreadyLinked = "already-linked"

// Processor runs batch sessions against the staged input.
type Processor struct {
	cfg      *config.Config
	manager  *session.Manager
	links    *links.Store
	matcher  *matching.Engine
	resolver *storage.Resolver
	remote   *objectstore.Client
	notifier notifications.Service
	logger   *slog.Logger
}

// New wires a Processor. remote may be nil when the object store is
// disabled; artifacts then carry local references only.
func New(
	cfg *config.Config,
	manager *session.Manager,
	linkStore *links.Store,
	resolver *storage.Resolver,
	remote *objectstore.Client,
	notifier notifications.Service,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = logging.NewNop()
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}
	return &Processor{
		cfg:      cfg,
		manager:  manager,
		links:    linkStore,
		matcher:  matching.New(cfg.WindowTolerance()),
		resolver: resolver,
		remote:   remote,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "batch-processor"),
	}
}

// Run processes one session to a terminal status. The session must be in
// processing when called; Run returns the terminal status it reached.
func (p *Processor) Run(ctx context.Context, sessionID string) (session.Status, error) {
	start := time.Now()
	ctx = logging.WithSessionID(ctx, sessionID)
	log := logging.WithContext(ctx, p.logger)
	store := p.manager.Store()

	sess, err := store.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if sess.Status != session.StatusProcessing {
		return sess.Status, fmt.Errorf("session %s is %s, not processing", sessionID, sess.Status)
	}

	files, err := p.manager.StagedFiles(sessionID)
	if err != nil {
		return p.fatal(ctx, sessionID, fmt.Sprintf("enumerate input: %v", err))
	}

	// An empty batch has nothing to fail on.
	if len(files) == 0 {
		if err := store.Transition(ctx, sessionID, session.StatusCompleted); err != nil {
			return p.terminalState(ctx, sessionID, err)
		}
		p.cleanupStaging(sessionID, log)
		return session.StatusCompleted, nil
	}

	if err := p.notifier.NotifySessionStarted(ctx, sessionID, len(files)); err != nil {
		log.Warn("session start notification failed", logging.Error(err))
	}

	pairs, unmatched := p.matcher.Match(files)
	log.Info("batch matched",
		logging.Int("files", len(files)),
		logging.Int("pairs", len(pairs)),
		logging.Int("unmatched", len(unmatched)))

	processed := 0
	linked := 0
	skipped := 0
	failed := 0

	for _, pair := range pairs {
		if status, done, err := p.checkpoint(ctx, sessionID); done {
			return status, err
		}

		outcome := p.processPair(logging.WithCorrelationID(ctx, uuid.NewString()), sessionID, pair)
		switch outcome.Outcome {
		case session.OutcomeSuccess:
			linked++
		case session.OutcomeSkipped:
			skipped++
		default:
			failed++
		}

		for _, file := range pairFiles(pair) {
			fileOutcome := outcome
			fileOutcome.Filename = file.OriginalName
			if err := store.RecordOutcome(ctx, sessionID, fileOutcome); err != nil {
				return p.terminalState(ctx, sessionID, err)
			}
			processed++
			if err := store.RecordProgress(ctx, sessionID, processed, file.OriginalName); err != nil {
				return p.terminalState(ctx, sessionID, err)
			}
		}
	}

	for _, miss := range unmatched {
		if err := store.RecordOutcome(ctx, sessionID, session.FileOutcome{
			Filename: miss.File.OriginalName,
			Outcome:  session.OutcomeError,
			Reason:   miss.Reason,
		}); err != nil {
			return p.terminalState(ctx, sessionID, err)
		}
		processed++
		if err := store.RecordProgress(ctx, sessionID, processed, miss.File.OriginalName); err != nil {
			return p.terminalState(ctx, sessionID, err)
		}
		failed++
	}

	terminal := session.StatusCompleted
	if linked == 0 && skipped == 0 {
		msg := "no recordings could be linked"
		if err := store.Fail(ctx, sessionID, msg); err != nil {
			return p.terminalState(ctx, sessionID, err)
		}
		if err := p.notifier.NotifySessionFailed(ctx, sessionID, msg); err != nil {
			log.Warn("failure notification failed", logging.Error(err))
		}
		return session.StatusFailed, nil
	}

	if err := store.Transition(ctx, sessionID, terminal); err != nil {
		return p.terminalState(ctx, sessionID, err)
	}
	if err := p.notifier.NotifySessionCompleted(ctx, sessionID, linked, skipped, failed, time.Since(start)); err != nil {
		log.Warn("completion notification failed", logging.Error(err))
	}
	p.cleanupStaging(sessionID, log)
	return terminal, nil
}

// cleanupStaging drops the session's staged bytes once they are
// published. Failed sessions keep their staging dir for diagnosis.
func (p *Processor) cleanupStaging(sessionID string, log *slog.Logger) {
	if err := os.RemoveAll(p.manager.StagingDir(sessionID)); err != nil {
		log.Warn("remove staging dir", logging.Error(err))
	}
}

// checkpoint looks for cancellation between pairs. Cancellation never
// lands mid-pair, and it leaves the stored status untouched so a restart
// can resume the session; the status reported back is the one actually
// on disk, read outside the cancelled context.
func (p *Processor) checkpoint(ctx context.Context, sessionID string) (session.Status, bool, error) {
	if err := ctx.Err(); err != nil {
		if sess, readErr := p.manager.Store().Get(context.Background(), sessionID); readErr == nil {
			return sess.Status, true, err
		}
		return session.StatusProcessing, true, err
	}
	sess, err := p.manager.Store().Get(ctx, sessionID)
	if err != nil {
		return "", true, err
	}
	if sess.Status.Terminal() {
		return sess.Status, true, nil
	}
	return "", false, nil
}

// processPair publishes one matched pair and mints its link. The returned
// outcome applies to every file in the pair; Filename is filled by the
// caller per file.
func (p *Processor) processPair(ctx context.Context, sessionID string, pair recording.MatchedPair) session.FileOutcome {
	log := logging.WithContext(ctx, p.logger).With(
		logging.String(logging.FieldDeviceID, pair.Window.DeviceID))

	token, alreadyLinked, err := p.manager.AlreadyLinked(ctx, pair.Window.DeviceID, pair.Window)
	if err != nil {
		log.Error("idempotence lookup failed", logging.Error(err))
		return session.FileOutcome{Outcome: session.OutcomeError, Reason: fmt.Sprintf("link lookup: %v", err)}
	}
	if alreadyLinked {
		log.Info("pair already linked", logging.String("token_prefix", tokenPrefix(token)))
		return session.FileOutcome{Outcome: session.OutcomeSkipped, Reason: reasonAlreadyLinked, Token: token}
	}

	folder, err := p.resolver.OutputFolder(pair.Window.DeviceID, pair.Window.RecordingDate())
	if err != nil {
		return session.FileOutcome{Outcome: session.OutcomeError, Reason: fmt.Sprintf("derive output folder: %v", err)}
	}
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return session.FileOutcome{Outcome: session.OutcomeError, Reason: fmt.Sprintf("create output folder: %v", err)}
	}

	var refs []links.StorageRef
	for _, file := range pairFiles(pair) {
		dst := filepath.Join(folder, file.OriginalName)
		if err := fileutil.CopyFileVerified(file.StagedPath, dst); err != nil {
			return session.FileOutcome{Outcome: session.OutcomeError, Reason: fmt.Sprintf("publish %s: %v", file.OriginalName, err)}
		}
		refs = append(refs, links.StorageRef{Kind: links.StorageLocal, Location: dst})

		if remoteRef, ok := p.mirrorRemote(ctx, log, folder, dst, file.OriginalName); ok {
			refs = append(refs, remoteRef)
		}
	}

	link, created, err := p.links.Register(ctx, links.NewLink{
		DeviceID:      pair.Window.DeviceID,
		RecordingDate: pair.Window.RecordingDate(),
		StartTime:     pair.Window.Start,
		EndTime:       pair.Window.End,
		OutputFolder:  folder,
		StorageRefs:   refs,
	})
	if err != nil {
		return session.FileOutcome{Outcome: session.OutcomeError, Reason: fmt.Sprintf("register link: %v", err)}
	}
	if !created {
		// A concurrent session won the race; its link covers this pair.
		log.Info("pair linked by concurrent session", logging.String("token_prefix", tokenPrefix(link.Token)))
		return session.FileOutcome{Outcome: session.OutcomeSkipped, Reason: reasonAlreadyLinked, Token: link.Token}
	}

	log.Info("link registered",
		logging.String("token_prefix", tokenPrefix(link.Token)),
		logging.Bool("has_report", pair.HasReport()),
		logging.String("confidence", string(pair.Confidence)))
	if err := p.notifier.NotifyLinkRegistered(ctx, pair.Window.DeviceID,
		pair.Window.RecordingDate().Format("2006-01-02")); err != nil {
		log.Warn("link notification failed", logging.Error(err))
	}
	return session.FileOutcome{Outcome: session.OutcomeSuccess, Token: link.Token}
}

// mirrorRemote uploads a published artifact to the object store when
// enabled. Remote failures degrade to local-only references.
func (p *Processor) mirrorRemote(ctx context.Context, log *slog.Logger, folder, localPath, name string) (links.StorageRef, bool) {
	if p.remote == nil {
		return links.StorageRef{}, false
	}

	opCtx, cancel := context.WithTimeout(ctx, p.cfg.OperationTimeout())
	defer cancel()

	src, err := os.Open(localPath)
	if err != nil {
		log.Warn("remote mirror skipped", logging.String(logging.FieldFile, name), logging.Error(err))
		return links.StorageRef{}, false
	}
	defer src.Close()

	key := filepath.Base(folder) + "/" + name
	location, err := p.remote.Put(opCtx, key, src)
	if err != nil {
		log.Warn("remote mirror failed", logging.String(logging.FieldFile, name), logging.Error(err))
		return links.StorageRef{}, false
	}
	return links.StorageRef{Kind: links.StorageRemote, Location: location}, true
}

// fatal marks the session failed for an infrastructure-class error, as
// opposed to the batch-semantic failure of linking nothing.
func (p *Processor) fatal(ctx context.Context, sessionID, reason string) (session.Status, error) {
	if err := p.manager.Store().Fail(ctx, sessionID, reason); err != nil {
		return p.terminalState(ctx, sessionID, err)
	}
	cause := errors.New(reason)
	if err := p.notifier.NotifyError(ctx, cause, fmt.Sprintf("session %s", sessionID)); err != nil {
		logging.WithContext(ctx, p.logger).Warn("error notification failed", logging.Error(err))
	}
	return session.StatusFailed, cause
}

// terminalState resolves a store mutation error: when the session turned
// terminal underneath us (a concurrent cancel), report that status
// instead of the mutation error.
func (p *Processor) terminalState(ctx context.Context, sessionID string, cause error) (session.Status, error) {
	if errors.Is(cause, session.ErrTerminal) {
		if sess, err := p.manager.Store().Get(ctx, sessionID); err == nil {
			return sess.Status, nil
		}
	}
	return "", cause
}

func pairFiles(pair recording.MatchedPair) []recording.UploadedFile {
	files := []recording.UploadedFile{pair.Recording}
	if pair.HasReport() {
		files = append(files, *pair.Report)
	}
	return files
}

func tokenPrefix(token string) string {
	if len(token) <= 8 {
		return token
	}
	return token[:8]
}
