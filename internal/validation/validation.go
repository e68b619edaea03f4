package validation

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultTimeframe is used when the requested timeframe is missing or not recognized.
const DefaultTimeframe = "now 1-d"

// Timeframes lists the accepted timeframe values in their canonical spelling.
var Timeframes = []string{"now 1-H", "now 4-H", "now 1-d", "now 7-d", "today 1-m"}

// ErrKeywordEmpty is returned when keyword is empty or whitespace-only after trim.
var ErrKeywordEmpty = errors.New("keyword is required")

// ErrKeywordTooLong is returned when keyword length exceeds the maximum.
var ErrKeywordTooLong = errors.New("keyword too long")

// ErrKeywordInvalidChars is returned when keyword contains control characters.
var ErrKeywordInvalidChars = errors.New("keyword contains invalid characters")

// ValidateKeyword trims the input, enforces maxLen (in runes, 0 = unbounded) and rejects
// control characters. Returns the trimmed keyword with its case preserved.
func ValidateKeyword(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	if len(r) == 0 {
		return "", ErrKeywordEmpty
	}
	if maxLen > 0 && len(r) > maxLen {
		return "", ErrKeywordTooLong
	}
	for _, c := range r {
		if unicode.IsControl(c) {
			return "", ErrKeywordInvalidChars
		}
	}
	return s, nil
}

// NormalizeTimeframe maps input onto its canonical accepted spelling, matching
// case-insensitively. Unknown or empty values become DefaultTimeframe.
func NormalizeTimeframe(input string) string {
	s := strings.TrimSpace(input)
	for _, tf := range Timeframes {
		if strings.EqualFold(s, tf) {
			return tf
		}
	}
	return DefaultTimeframe
}

// NormalizeGeo trims and upper-cases a region code. Empty means global.
func NormalizeGeo(input string) string {
	return strings.ToUpper(strings.TrimSpace(input))
}

// IsGeoCode reports whether geo is a two-letter region code. The empty global geo is not a code.
func IsGeoCode(geo string) bool {
	if len(geo) != 2 {
		return false
	}
	for _, c := range geo {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

// ParseGeoList splits a comma-separated geo list, normalizing each entry and dropping
// blanks, malformed codes and repeats. Order is preserved.
func ParseGeoList(input string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(input, ",") {
		g := NormalizeGeo(part)
		if !IsGeoCode(g) {
			continue
		}
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// ParseKeywords splits a comma-separated keyword list. Entries are trimmed, blanks and
// case-insensitive repeats are dropped, and at most max entries are kept (0 = unbounded).
func ParseKeywords(input string, max int) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, part := range strings.Split(input, ",") {
		kw, err := ValidateKeyword(part, 0)
		if err != nil {
			continue
		}
		key := strings.ToLower(kw)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, kw)
		if max > 0 && len(out) == max {
			break
		}
	}
	return out
}
