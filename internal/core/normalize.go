package core

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize canonicalizes merchant and description text for matching:
// accents are folded away (statements mix French and English renderings),
// letters are lower-cased, and every run of characters outside [a-z0-9]
// collapses to a single space. The same form is used when storing patterns
// and when matching, so "TIM HORTONS #1234" and "Tim Hortons 1234" meet in
// the middle.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	folded := foldAccents(s)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSpace := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
		default:
			pendingSpace = true
		}
	}
	return b.String()
}

// NormalizePattern is the storage form for rule patterns: the normalized
// text upper-cased, matching the admin-facing convention of upper-case
// patterns.
func NormalizePattern(s string) string {
	return strings.ToUpper(Normalize(s))
}

// foldAccents strips combining marks so "CAFÉ DÉPÔT" matches "CAFE DEPOT".
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return folded
}
