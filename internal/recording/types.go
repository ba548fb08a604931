package recording

import (
	"path/filepath"
	"strings"
	"time"
)

// Kind classifies an uploaded file.
type Kind string

const (
	KindRecording Kind = "recording"
	KindReport    Kind = "report"
	KindUnknown   Kind = "unknown"
)

// Unmatched reasons recorded in session per-file outcomes.
const (
	ReasonUnparseableIdentifier = "unparseable-identifier"
	ReasonParseError            = "parse-error"
	ReasonNoMatchingRecording   = "no-matching-recording"
	ReasonUnsupportedKind       = "unsupported-file-kind"
)

// Confidence grades how a report was paired with a recording.
type Confidence string

const (
	// ConfidenceHigh means the report carried a reference timestamp within
	// tolerance of the recording window.
	ConfidenceHigh Confidence = "high"
	// ConfidenceLow means the report matched by device identifier alone.
	ConfidenceLow Confidence = "low"
)

// UploadedFile is an ephemeral intake record. It exists from intake until
// it is consumed into a MatchedPair or reported as unmatched.
type UploadedFile struct {
	ID           string
	OriginalName string
	Size         int64
	Kind         Kind
	StagedPath   string
}

// DeviceWindow is the parsed device identifier plus time window of a file.
// For reports the window collapses to a point: Start == End == the
// report's reference timestamp.
type DeviceWindow struct {
	DeviceID string
	Start    time.Time
	End      time.Time
}

// RecordingDate returns the calendar date the window starts on.
func (w DeviceWindow) RecordingDate() time.Time {
	return time.Date(w.Start.Year(), w.Start.Month(), w.Start.Day(), 0, 0, 0, 0, w.Start.Location())
}

// MatchedPair joins one recording with at most one report.
type MatchedPair struct {
	Recording  UploadedFile
	Report     *UploadedFile
	Window     DeviceWindow
	Confidence Confidence
}

// HasReport reports whether a companion report was attached.
func (p MatchedPair) HasReport() bool {
	return p.Report != nil
}

// UnmatchedFile is an input file that could not enter a pair.
type UnmatchedFile struct {
	File   UploadedFile
	Reason string
}

// KindForName infers the file kind from the filename extension.
func KindForName(name string) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return KindRecording
	case ".pdf":
		return KindReport
	default:
		return KindUnknown
	}
}
