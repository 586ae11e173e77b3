package utils

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// MaxContentLength is the number of code points user text is truncated to.
const MaxContentLength = 10000

// Sanitize normalizes user text before it is stored or sent to a provider. It is idempotent.
func Sanitize(text string) string {
	return SanitizeN(text, MaxContentLength)
}

// SanitizeN is Sanitize with a custom length bound, in code points.
func SanitizeN(text string, max int) string {
	if text == "" || max <= 0 {
		return ""
	}

	text = norm.NFC.String(text)
	text = strings.Map(stripRune, text)
	// Fields splits on any Unicode space, so joining collapses runs and trims both ends.
	text = strings.Join(strings.Fields(text), " ")
	text = truncateRunes(text, max)
	text = strings.TrimSpace(text)
	return norm.NFC.String(text)
}

// stripRune drops control and format characters (zero-width space/joiners, bidi marks, BOM).
// Whitespace controls such as newline and tab become a space so words stay separated.
func stripRune(r rune) rune {
	switch {
	case unicode.IsSpace(r):
		return ' '
	case unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		return -1
	case r == unicode.ReplacementChar:
		return -1
	}
	return r
}

func truncateRunes(s string, max int) string {
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
