package recording

import (
	"strings"
	"unicode"
)

// Filename tokens that never identify a device, regardless of shape.
var deviceIDStopwords = map[string]struct{}{
	"report":    {},
	"rapport":   {},
	"export":    {},
	"recording": {},
	"holter":    {},
}

// ParseDeviceID extracts a device identifier from a filename or header
// value. The rule is deliberately tolerant: the name is split on
// non-alphanumeric separators and the first token shaped like a device
// code (letters followed by a trailing numeric code) wins. Identifiers are
// normalized to upper case with surrounding padding stripped.
func ParseDeviceID(value string) (string, bool) {
	stem := value
	if idx := strings.LastIndex(stem, "."); idx > 0 {
		stem = stem[:idx]
	}
	for _, token := range splitAlnum(stem) {
		if id, ok := normalizeDeviceToken(token); ok {
			return id, true
		}
	}
	return "", false
}

func splitAlnum(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalizeDeviceToken(token string) (string, bool) {
	trimmed := strings.TrimFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if trimmed == "" {
		return "", false
	}
	if _, stop := deviceIDStopwords[strings.ToLower(trimmed)]; stop {
		return "", false
	}

	letters := 0
	digits := 0
	sawDigitAfterLetter := false
	for i, r := range trimmed {
		switch {
		case unicode.IsLetter(r):
			if sawDigitAfterLetter {
				// Letters after the numeric code break the shape.
				return "", false
			}
			letters++
		case unicode.IsDigit(r):
			if letters == 0 && i == 0 {
				// Purely numeric prefixes are dates or counters.
				return "", false
			}
			if letters > 0 {
				sawDigitAfterLetter = true
			}
			digits++
		default:
			return "", false
		}
	}
	if letters == 0 || digits == 0 || !sawDigitAfterLetter {
		return "", false
	}
	return strings.ToUpper(trimmed), true
}
