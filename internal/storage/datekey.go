package storage

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Month abbreviations per supported locale, indexed by time.Month - 1.
// Tokens are lowercase and ASCII so output folder names stay portable;
// matching against historical folders is diacritic-folded anyway.
var monthTokens = map[string][12]string{
	"fr": {"jan", "fev", "mar", "avr", "mai", "juin", "juil", "aou", "sep", "oct", "nov", "dec"},
	"en": {"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"},
}

// SupportedLocale reports whether a date token locale is known.
func SupportedLocale(locale string) bool {
	_, ok := monthTokens[strings.ToLower(locale)]
	return ok
}

// DateToken renders a recording date as the folder-name token used for
// output locations and heuristic lookups, e.g. 2024-05-01 under the fr
// locale becomes "01mai2024".
func DateToken(date time.Time, locale string) (string, error) {
	months, ok := monthTokens[strings.ToLower(locale)]
	if !ok {
		return "", fmt.Errorf("unsupported date token locale %q", locale)
	}
	return fmt.Sprintf("%02d%s%d", date.Day(), months[date.Month()-1], date.Year()), nil
}

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// fold lowercases and strips diacritics so "01Févr2024" and "01fevr2024"
// compare equal during heuristic folder scans.
func fold(value string) string {
	folded, _, err := transform.String(foldTransformer, value)
	if err != nil {
		folded = value
	}
	return strings.ToLower(folded)
}
