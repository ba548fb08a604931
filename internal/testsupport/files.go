package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// WriteFile writes content to path, creating parent directories as needed.
func WriteFile(t testing.TB, path, content string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// RecordingCSV builds a minimal device export: a device preamble line
// followed by per-sample rows between start and end at one-minute steps.
func RecordingCSV(deviceID string, start, end time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Device: %s\n", deviceID)
	sb.WriteString("timestamp,heart_rate\n")
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		fmt.Fprintf(&sb, "%s,72\n", ts.Format("2006-01-02 15:04:05"))
	}
	return sb.String()
}

// ReportPDF builds a byte sequence that passes PDF metadata extraction:
// a header plus a CreationDate entry at the given timestamp. A zero
// creation time omits the metadata entry entirely.
func ReportPDF(creation time.Time) string {
	var sb strings.Builder
	sb.WriteString("%PDF-1.4\n")
	if !creation.IsZero() {
		fmt.Fprintf(&sb, "<< /CreationDate (D:%s) >>\n", creation.Format("20060102150405"))
	}
	sb.WriteString("%%EOF\n")
	return sb.String()
}
