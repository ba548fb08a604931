package recording

import (
	"bytes"
	"time"
)

var creationDateMarker = []byte("/CreationDate")

// parsePDFCreationDate finds a /CreationDate (D:YYYYMMDDHHMMSS...) entry in
// raw PDF bytes. Offsets and trailing timezone suffixes vary by producer,
// so only the leading date and clock digits are trusted. clocked reports
// whether the entry carried time-of-day digits; a date-only entry parses
// to midnight and is too coarse to serve as a reference timestamp.
func parsePDFCreationDate(raw []byte) (ts time.Time, clocked, ok bool) {
	idx := bytes.Index(raw, creationDateMarker)
	if idx < 0 {
		return time.Time{}, false, false
	}
	rest := raw[idx+len(creationDateMarker):]
	open := bytes.IndexByte(rest, '(')
	if open < 0 || open > 8 {
		return time.Time{}, false, false
	}
	rest = rest[open+1:]
	close := bytes.IndexByte(rest, ')')
	if close < 0 {
		return time.Time{}, false, false
	}
	value := string(bytes.TrimSpace(rest[:close]))
	if len(value) >= 2 && value[:2] == "D:" {
		value = value[2:]
	}

	digits := value
	for i, r := range digits {
		if r < '0' || r > '9' {
			digits = digits[:i]
			break
		}
	}

	switch {
	case len(digits) >= 14:
		if ts, err := time.Parse("20060102150405", digits[:14]); err == nil {
			return ts, true, true
		}
	case len(digits) >= 12:
		if ts, err := time.Parse("200601021504", digits[:12]); err == nil {
			return ts, true, true
		}
	case len(digits) >= 8:
		if ts, err := time.Parse("20060102", digits[:8]); err == nil {
			return ts, false, true
		}
	}
	return time.Time{}, false, false
}
