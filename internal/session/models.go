package session

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a batch session.
type Status string

const (
	StatusPending    Status = "pending"
	StatusUploading  Status = "uploading"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further mutation is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// ParseStatus converts a persisted string into a known Status.
func ParseStatus(value string) (Status, bool) {
	switch Status(value) {
	case StatusPending, StatusUploading, StatusProcessing,
		StatusCompleted, StatusFailed, StatusCancelled:
		return Status(value), true
	default:
		return "", false
	}
}

// ErrTerminal is returned for any mutation attempted on a session that
// already reached a terminal status.
var ErrTerminal = errors.New("session is terminal")

// ErrNotFound is returned for lookups of unknown session identifiers.
var ErrNotFound = errors.New("session not found")

// Outcome classifies what happened to one input file.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
)

// FileOutcome records the terminal disposition of one input file within
// a session. Token is set only for success outcomes.
type FileOutcome struct {
	Filename   string
	Outcome    Outcome
	Reason     string
	Token      string
	RecordedAt time.Time
}

// BatchSession tracks one batch run from intake through its terminal
// status. Retained after completion for history and resume display.
type BatchSession struct {
	ID             string
	Status         Status
	Source         string
	TotalFiles     int
	ProcessedFiles int
	CurrentFile    string
	ErrorMessage   string
	StartedAt      time.Time
	FinishedAt     *time.Time
	Outcomes       []FileOutcome
}
