package reconcile

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// DefaultThreshold is the minimum similarity that flags a possible duplicate.
	DefaultThreshold = 0.60

	// DefaultMinLength is the shortest normalized description that is compared at all.
	DefaultMinLength = 5
)

// Normalize lower-cases s, strips diacritics and drops every rune that is not a letter or digit.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores two descriptions with the default minimum length.
func Similarity(a, b string) float64 {
	return similarity(Normalize(a), Normalize(b), DefaultMinLength)
}

// similarity expects normalized input. Equal strings and prefix matches score 1;
// otherwise the score is the length of the common prefix over the shorter length.
func similarity(a, b string, minLength int) float64 {
	ra, rb := []rune(a), []rune(b)
	if len(ra) < minLength || len(rb) < minLength {
		return 0
	}
	if len(ra) > len(rb) {
		ra, rb = rb, ra
	}

	common := 0
	for common < len(ra) && ra[common] == rb[common] {
		common++
	}
	return float64(common) / float64(len(ra))
}
