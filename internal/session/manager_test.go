package session_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"cardiolink/internal/links"
	"cardiolink/internal/recording"
	"cardiolink/internal/session"
	"cardiolink/internal/testsupport"
)

func newManager(t *testing.T) (*session.Manager, *links.Store) {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenSessionStore(t, cfg)
	linkStore := testsupport.MustOpenLinkStore(t, cfg)
	return session.NewManager(cfg, store, linkStore, nil), linkStore
}

func TestUploadLifecycle(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "/incoming/batch-1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	file, err := mgr.OnFileReceived(ctx, sess.ID, "DEV42_2024-05-01.csv",
		strings.NewReader("# Device: DEV42\ntimestamp,heart_rate\n"))
	if err != nil {
		t.Fatalf("OnFileReceived failed: %v", err)
	}
	if file.Kind != recording.KindRecording {
		t.Fatalf("expected recording kind, got %s", file.Kind)
	}
	if file.StagedPath == "" {
		t.Fatal("expected staged path")
	}

	if _, err := mgr.OnFileReceived(ctx, sess.ID, "Report_DEV42_20240501.pdf",
		strings.NewReader("%PDF-1.4\n")); err != nil {
		t.Fatalf("second OnFileReceived failed: %v", err)
	}

	// First file moved the session into uploading.
	current, err := mgr.Store().Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != session.StatusUploading {
		t.Fatalf("expected uploading, got %s", current.Status)
	}

	if err := mgr.OnUploadComplete(ctx, sess.ID, 2); err != nil {
		t.Fatalf("OnUploadComplete failed: %v", err)
	}
	current, err = mgr.Store().Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != session.StatusProcessing {
		t.Fatalf("expected processing, got %s", current.Status)
	}
	if current.TotalFiles != 2 {
		t.Fatalf("expected total 2, got %d", current.TotalFiles)
	}

	staged, err := mgr.StagedFiles(sess.ID)
	if err != nil {
		t.Fatalf("StagedFiles failed: %v", err)
	}
	if len(staged) != 2 {
		t.Fatalf("expected 2 staged files, got %d", len(staged))
	}
}

func TestUploadCountMismatchIsFatal(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "src")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := mgr.OnFileReceived(ctx, sess.ID, "only.csv", strings.NewReader("x")); err != nil {
		t.Fatalf("OnFileReceived failed: %v", err)
	}

	if err := mgr.OnUploadComplete(ctx, sess.ID, 3); err == nil {
		t.Fatal("expected count mismatch to error")
	}

	current, err := mgr.Store().Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != session.StatusFailed {
		t.Fatalf("expected failed, got %s", current.Status)
	}
	if !strings.Contains(current.ErrorMessage, "expected 3") {
		t.Fatalf("expected reason to mention the count, got %q", current.ErrorMessage)
	}

	// Terminal: further uploads are rejected.
	if _, err := mgr.OnFileReceived(ctx, sess.ID, "late.csv", strings.NewReader("x")); err == nil {
		t.Fatal("expected failed session to reject files")
	}
}

func TestOnFileReceivedSanitizesNames(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "src")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	file, err := mgr.OnFileReceived(ctx, sess.ID, "../../etc/DEV1_2024-05-01.csv",
		strings.NewReader("data"))
	if err != nil {
		t.Fatalf("OnFileReceived failed: %v", err)
	}
	if file.OriginalName != "DEV1_2024-05-01.csv" {
		t.Fatalf("expected traversal components stripped, got %q", file.OriginalName)
	}
	if !strings.HasPrefix(file.StagedPath, mgr.StagingDir(sess.ID)) {
		t.Fatalf("staged path escaped the staging dir: %q", file.StagedPath)
	}

	if _, err := mgr.OnFileReceived(ctx, sess.ID, "   ", strings.NewReader("x")); err == nil {
		t.Fatal("expected blank name to be rejected")
	}
}

func TestCancelFromNonTerminalStates(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	sess, err := mgr.Start(ctx, "src")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := mgr.Cancel(ctx, sess.ID); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	current, err := mgr.Store().Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current.Status != session.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", current.Status)
	}

	if err := mgr.Cancel(ctx, sess.ID); err == nil {
		t.Fatal("expected cancelling a terminal session to error")
	}
}

func TestResumableRecoversProcessingAndFailsStranded(t *testing.T) {
	mgr, _ := newManager(t)
	ctx := context.Background()

	stranded, err := mgr.Start(ctx, "stranded")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := mgr.OnFileReceived(ctx, stranded.ID, "a.csv", strings.NewReader("x")); err != nil {
		t.Fatalf("OnFileReceived failed: %v", err)
	}

	inFlight, err := mgr.Start(ctx, "in-flight")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := mgr.OnFileReceived(ctx, inFlight.ID, "b.csv", strings.NewReader("x")); err != nil {
		t.Fatalf("OnFileReceived failed: %v", err)
	}
	if err := mgr.OnUploadComplete(ctx, inFlight.ID, 1); err != nil {
		t.Fatalf("OnUploadComplete failed: %v", err)
	}

	resumable, err := mgr.Resumable(ctx)
	if err != nil {
		t.Fatalf("Resumable failed: %v", err)
	}
	if len(resumable) != 1 || resumable[0].ID != inFlight.ID {
		t.Fatalf("expected only the processing session, got %#v", resumable)
	}

	failed, err := mgr.Store().Get(ctx, stranded.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != session.StatusFailed {
		t.Fatalf("expected stranded session failed, got %s", failed.Status)
	}
}

func TestAlreadyLinked(t *testing.T) {
	mgr, linkStore := newManager(t)
	ctx := context.Background()

	date := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
	window := recording.DeviceWindow{
		DeviceID: "DEV42",
		Start:    date.Add(8 * time.Hour),
		End:      date.Add(16 * time.Hour),
	}

	if _, linked, err := mgr.AlreadyLinked(ctx, "DEV42", window); err != nil || linked {
		t.Fatalf("expected no link yet, linked=%v err=%v", linked, err)
	}

	link, _, err := linkStore.Register(ctx, links.NewLink{
		DeviceID:      "DEV42",
		RecordingDate: date,
		StartTime:     window.Start,
		EndTime:       window.End,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	token, linked, err := mgr.AlreadyLinked(ctx, "DEV42", window)
	if err != nil {
		t.Fatalf("AlreadyLinked failed: %v", err)
	}
	if !linked || token != link.Token {
		t.Fatalf("expected existing token %q, got %q linked=%v", link.Token, token, linked)
	}
}
