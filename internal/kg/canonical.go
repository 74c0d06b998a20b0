package kg

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripDiacritics decomposes to NFD, removes combining marks, recomposes.
var stripDiacritics = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Canonical derives the canonical form of an entity label: diacritics
// stripped, lower-cased, every run of non-alphanumeric characters collapsed
// to a single "-", leading and trailing separators trimmed. Two surface forms
// of the same name canonicalize identically, which is the entire basis of
// cross-document entity matching.
//
//	Canonical("Lawrence Bishnoi") == Canonical("lawrence  bishnoi!!") == "lawrence-bishnoi"
func Canonical(label string) string {
	folded, _, err := transform.String(stripDiacritics, label)
	if err != nil {
		folded = label
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('-')
			}
			b.WriteRune(r)
			pendingSep = false
			continue
		}
		pendingSep = true
	}
	return b.String()
}
