package links

import (
	"errors"
	"time"
)

// ErrNotFound is the uniform negative result for token lookups. Callers
// cannot distinguish a token that never existed from one that was
// deactivated; both surface as ErrNotFound to prevent enumeration leaks.
var ErrNotFound = errors.New("link not found")

// StorageKind distinguishes where a storage reference points.
type StorageKind string

const (
	StorageLocal  StorageKind = "local"
	StorageRemote StorageKind = "remote"
)

// ParseStorageKind converts a persisted string into a known StorageKind.
func ParseStorageKind(value string) (StorageKind, bool) {
	switch StorageKind(value) {
	case StorageLocal:
		return StorageLocal, true
	case StorageRemote:
		return StorageRemote, true
	default:
		return "", false
	}
}

// StorageRef locates one stored recording artifact.
type StorageRef struct {
	Kind     StorageKind
	Location string
}

// PatientLink is a published recording set reachable through one token.
// The token is immutable once minted; only Active, ViewCount, and
// LastViewedAt change afterwards.
type PatientLink struct {
	Token         string
	DeviceID      string
	RecordingDate time.Time
	StartTime     time.Time
	EndTime       time.Time
	OutputFolder  string
	StorageRefs   []StorageRef
	Active        bool
	ViewCount     int64
	LastViewedAt  *time.Time
	CreatedAt     time.Time
}

// NewLink carries the metadata needed to mint a PatientLink.
type NewLink struct {
	DeviceID      string
	RecordingDate time.Time
	StartTime     time.Time
	EndTime       time.Time
	OutputFolder  string
	StorageRefs   []StorageRef
}

// dateKey is the canonical persisted form of a recording date.
const dateKeyLayout = "2006-01-02"

func dateKey(date time.Time) string {
	return date.Format(dateKeyLayout)
}
