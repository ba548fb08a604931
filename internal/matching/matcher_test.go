package matching_test

import (
	"path/filepath"
	"testing"
	"time"

	"cardiolink/internal/matching"
	"cardiolink/internal/recording"
	"cardiolink/internal/testsupport"
)

var day = time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func stage(t *testing.T, dir, name, content string) recording.UploadedFile {
	t.Helper()
	path := filepath.Join(dir, name)
	testsupport.WriteFile(t, path, content)
	return recording.UploadedFile{
		ID:           name,
		OriginalName: name,
		Size:         int64(len(content)),
		Kind:         recording.KindForName(name),
		StagedPath:   path,
	}
}

func TestMatchPairsRecordingWithReport(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "Report_DEV42_20240501.pdf", testsupport.ReportPDF(at(8, 10))),
	}

	pairs, unmatched := matching.New(0).Match(files)
	if len(unmatched) != 0 {
		t.Fatalf("expected no unmatched files, got %+v", unmatched)
	}
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	pair := pairs[0]
	if !pair.HasReport() {
		t.Fatal("expected report attached")
	}
	if pair.Window.DeviceID != "DEV42" {
		t.Fatalf("unexpected device %q", pair.Window.DeviceID)
	}
	if !pair.Window.Start.Equal(at(8, 0)) || !pair.Window.End.Equal(at(8, 30)) {
		t.Fatalf("unexpected window %v-%v", pair.Window.Start, pair.Window.End)
	}
	if pair.Confidence != recording.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", pair.Confidence)
	}
}

func TestMatchDifferentDevicesStayApart(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "Report_DEV99_20240501.pdf", testsupport.ReportPDF(at(8, 10))),
	}

	pairs, unmatched := matching.New(0).Match(files)
	if len(pairs) != 1 {
		t.Fatalf("expected 1 pair, got %d", len(pairs))
	}
	if pairs[0].HasReport() {
		t.Fatal("expected recording to stay without a report")
	}
	if len(unmatched) != 1 {
		t.Fatalf("expected 1 unmatched report, got %+v", unmatched)
	}
	if unmatched[0].Reason != recording.ReasonNoMatchingRecording {
		t.Fatalf("unexpected reason %q", unmatched[0].Reason)
	}
}

func TestMatchClosestToWindowStartWins(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "Report_DEV42_late.pdf", testsupport.ReportPDF(at(8, 25))),
		stage(t, dir, "Report_DEV42_early.pdf", testsupport.ReportPDF(at(8, 5))),
	}

	pairs, unmatched := matching.New(0).Match(files)
	if len(pairs) != 1 || !pairs[0].HasReport() {
		t.Fatalf("expected a paired recording, got %+v", pairs)
	}
	if pairs[0].Report.OriginalName != "Report_DEV42_early.pdf" {
		t.Fatalf("expected the 08:05 report to win, got %s", pairs[0].Report.OriginalName)
	}
	if len(unmatched) != 1 || unmatched[0].File.OriginalName != "Report_DEV42_late.pdf" {
		t.Fatalf("expected the losing report unmatched, got %+v", unmatched)
	}
}

func TestMatchTieBreaksOnFilename(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "b_report_DEV42.pdf", testsupport.ReportPDF(at(8, 10))),
		stage(t, dir, "a_report_DEV42.pdf", testsupport.ReportPDF(at(8, 10))),
	}

	pairs, _ := matching.New(0).Match(files)
	if len(pairs) != 1 || !pairs[0].HasReport() {
		t.Fatalf("expected a paired recording, got %+v", pairs)
	}
	if pairs[0].Report.OriginalName != "a_report_DEV42.pdf" {
		t.Fatalf("expected lexicographic tie-break, got %s", pairs[0].Report.OriginalName)
	}
}

func TestMatchToleranceBoundsQualification(t *testing.T) {
	dir := t.TempDir()
	recordingFile := stage(t, dir, "DEV42_2024-05-01.csv",
		testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30)))

	// Reference 07:15 is 45 minutes before window start: outside a
	// 30-minute tolerance, inside a 60-minute one.
	report := stage(t, dir, "Report_DEV42.pdf", testsupport.ReportPDF(at(7, 15)))

	pairs, _ := matching.New(30 * time.Minute).Match([]recording.UploadedFile{recordingFile, report})
	if pairs[0].HasReport() {
		t.Fatal("expected 45-minute gap to miss a 30-minute tolerance")
	}

	pairs, _ = matching.New(60 * time.Minute).Match([]recording.UploadedFile{recordingFile, report})
	if !pairs[0].HasReport() {
		t.Fatal("expected 45-minute gap to qualify under a 60-minute tolerance")
	}
}

func TestMatchInWindowAlwaysQualifies(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(10, 0))),
		// 09:30 is 90 minutes from window start but inside the window.
		stage(t, dir, "Report_DEV42.pdf", testsupport.ReportPDF(at(9, 30))),
	}

	pairs, _ := matching.New(30 * time.Minute).Match(files)
	if len(pairs) != 1 || !pairs[0].HasReport() {
		t.Fatal("expected an in-window reference to qualify regardless of tolerance")
	}
}

func TestMatchDeviceOnlyReportIsLowConfidenceFallback(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		// No CreationDate and a date-only filename stamp: matchable by
		// device identifier alone.
		stage(t, dir, "Report_DEV42_20240501.pdf", testsupport.ReportPDF(time.Time{})),
	}

	pairs, unmatched := matching.New(0).Match(files)
	if len(unmatched) != 0 {
		t.Fatalf("expected no unmatched files, got %+v", unmatched)
	}
	if !pairs[0].HasReport() {
		t.Fatal("expected device-only fallback to attach")
	}
	if pairs[0].Confidence != recording.ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", pairs[0].Confidence)
	}
}

func TestMatchDateOnlyMetadataFallsBackToDeviceMatch(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		// A date-only CreationDate parses to midnight, which must not be
		// treated as a time-of-day reference against the window start.
		stage(t, dir, "Report_DEV42.pdf", "%PDF-1.4\n<< /CreationDate (D:20240501) >>\n%%EOF\n"),
	}

	pairs, unmatched := matching.New(30*time.Minute).Match(files)
	if len(unmatched) != 0 {
		t.Fatalf("expected no unmatched files, got %+v", unmatched)
	}
	if len(pairs) != 1 || !pairs[0].HasReport() {
		t.Fatalf("expected the report attached by device fallback, got %+v", pairs)
	}
	if pairs[0].Confidence != recording.ConfidenceLow {
		t.Fatalf("expected low confidence, got %s", pairs[0].Confidence)
	}
}

func TestMatchTimestampedReportBeatsDeviceOnly(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV42_2024-05-01.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "a_deviceonly_DEV42.pdf", testsupport.ReportPDF(time.Time{})),
		stage(t, dir, "z_timestamped_DEV42.pdf", testsupport.ReportPDF(at(8, 10))),
	}

	pairs, _ := matching.New(0).Match(files)
	if !pairs[0].HasReport() {
		t.Fatal("expected a report attached")
	}
	if pairs[0].Report.OriginalName != "z_timestamped_DEV42.pdf" {
		t.Fatalf("expected the timestamped report to win, got %s", pairs[0].Report.OriginalName)
	}
	if pairs[0].Confidence != recording.ConfidenceHigh {
		t.Fatalf("expected high confidence, got %s", pairs[0].Confidence)
	}
}

func TestMatchReportServesOneRecording(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "a_DEV42.csv", testsupport.RecordingCSV("DEV42", at(8, 0), at(8, 30))),
		stage(t, dir, "b_DEV42.csv", testsupport.RecordingCSV("DEV42", at(8, 5), at(8, 35))),
		stage(t, dir, "Report_DEV42.pdf", testsupport.ReportPDF(at(8, 10))),
	}

	pairs, _ := matching.New(0).Match(files)
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	var attached int
	for _, pair := range pairs {
		if pair.HasReport() {
			attached++
		}
	}
	if attached != 1 {
		t.Fatalf("expected the report to serve exactly one recording, got %d", attached)
	}
}

func TestMatchIsDeterministic(t *testing.T) {
	dir := t.TempDir()
	files := []recording.UploadedFile{
		stage(t, dir, "DEV1_2024-05-01.csv", testsupport.RecordingCSV("DEV1", at(8, 0), at(8, 30))),
		stage(t, dir, "DEV2_2024-05-01.csv", testsupport.RecordingCSV("DEV2", at(9, 0), at(9, 30))),
		stage(t, dir, "Report_DEV1.pdf", testsupport.ReportPDF(at(8, 5))),
		stage(t, dir, "Report_DEV2.pdf", testsupport.ReportPDF(at(9, 5))),
		stage(t, dir, "garbage.txt", "noise"),
	}

	engine := matching.New(0)
	firstPairs, firstMisses := engine.Match(files)
	for i := 0; i < 5; i++ {
		pairs, misses := engine.Match(files)
		if len(pairs) != len(firstPairs) || len(misses) != len(firstMisses) {
			t.Fatalf("match output changed between runs")
		}
		for j := range pairs {
			if pairs[j].Recording.OriginalName != firstPairs[j].Recording.OriginalName {
				t.Fatalf("pair order changed between runs")
			}
		}
	}

	// Pairs come out in recording discovery order.
	if firstPairs[0].Recording.OriginalName != "DEV1_2024-05-01.csv" ||
		firstPairs[1].Recording.OriginalName != "DEV2_2024-05-01.csv" {
		t.Fatalf("unexpected pair order: %+v", firstPairs)
	}
}
