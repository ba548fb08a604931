package recording

import (
	"regexp"
	"strings"
	"time"
)

// Timestamp layouts accepted in recording CSV columns, most specific first.
var timestampLayouts = []string{
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
}

// ParseTimestamp parses a timestamp cell from a recording export.
func ParseTimestamp(value string) (time.Time, bool) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, trimmed); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

var (
	// 20240501 or 20240501_0810 / 20240501-081000
	compactStampPattern = regexp.MustCompile(`(?:^|[^0-9])(20\d{6})(?:[_-](\d{4,6}))?(?:[^0-9]|$)`)
	// 2024-05-01 with optional _08-10 or _08h10
	dashedStampPattern = regexp.MustCompile(`(20\d{2}-\d{2}-\d{2})(?:[_ ](\d{2})[h:-](\d{2}))?`)
)

// ParseNameTimestamp extracts a timestamp embedded in a filename.
// hasClock reports whether the name carried time-of-day precision;
// date-only names resolve to midnight with hasClock false.
func ParseNameTimestamp(name string) (ts time.Time, hasClock bool, ok bool) {
	if m := dashedStampPattern.FindStringSubmatch(name); m != nil {
		parsed, err := time.Parse("2006-01-02", m[1])
		if err == nil {
			if m[2] != "" {
				if hm, herr := time.Parse("15:04", m[2]+":"+m[3]); herr == nil {
					parsed = parsed.Add(time.Duration(hm.Hour())*time.Hour + time.Duration(hm.Minute())*time.Minute)
					hasClock = true
				}
			}
			return parsed, hasClock, true
		}
	}
	if m := compactStampPattern.FindStringSubmatch(name); m != nil {
		parsed, err := time.Parse("20060102", m[1])
		if err == nil {
			if clock := m[2]; clock != "" {
				layout := "1504"
				if len(clock) == 6 {
					layout = "150405"
				}
				if hm, herr := time.Parse(layout, clock); herr == nil {
					parsed = parsed.Add(time.Duration(hm.Hour())*time.Hour +
						time.Duration(hm.Minute())*time.Minute +
						time.Duration(hm.Second())*time.Second)
					hasClock = true
				}
			}
			return parsed, hasClock, true
		}
	}
	return time.Time{}, false, false
}
