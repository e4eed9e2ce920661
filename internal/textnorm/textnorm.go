// Package textnorm folds free text into a comparable form. Portal content
// arrives in English and French, so matching and fingerprinting both run on
// accent-stripped, lower-cased, whitespace-collapsed text.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveAccents strips diacritical marks ("Québec" -> "Quebec").
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// CollapseSpace trims s and replaces every run of whitespace with one space.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Fold returns the canonical comparison form of s.
func Fold(s string) string {
	return CollapseSpace(strings.ToLower(RemoveAccents(s)))
}
