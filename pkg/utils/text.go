// Package utils holds small text helpers shared across the pipeline.
package utils

import (
	"strings"
	"unicode/utf8"
)

// TruncateRunes cuts s to at most maxRunes runes. Unlike a byte slice this
// never splits a multi-byte character, which matters for the Chinese
// documents this service mostly handles.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}

// Excerpt returns the first maxRunes runes of s with whitespace collapsed,
// suitable for citation snippets.
func Excerpt(s string, maxRunes int) string {
	return TruncateRunes(strings.Join(strings.Fields(s), " "), maxRunes)
}

// SanitizeUTF8 drops invalid byte sequences so the result is always valid
// UTF-8. PDF extraction occasionally yields broken sequences that would
// otherwise poison JSON encoding downstream.
func SanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}

	var sb strings.Builder
	sb.Grow(len(s))
	for len(s) > 0 {
		r, size := utf8.DecodeRuneInString(s)
		if r == utf8.RuneError && size == 1 {
			s = s[1:]
			continue
		}
		sb.WriteRune(r)
		s = s[size:]
	}
	return sb.String()
}
