package matching

import (
	"strings"
	"unicode"

	"github.com/agnivade/levenshtein"
)

// Normalize lowercases the text and collapses everything that is not a
// letter or digit into single spaces, so "ACME  Corp., Lda." and
// "acme corp lda" compare equal.
func Normalize(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	lastSpace := true

	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)

			lastSpace = false

			continue
		}

		if !lastSpace {
			b.WriteRune(' ')

			lastSpace = true
		}
	}

	return strings.TrimSpace(b.String())
}

// Similarity returns a [0,1] text similarity between two descriptions:
// 1 for equal normalized text, a containment floor of 0.9 when one side
// contains the other, otherwise a Levenshtein ratio.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)

	if na == "" || nb == "" {
		return 0
	}

	if na == nb {
		return 1
	}

	sim := levenshteinRatio(na, nb)

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}

	// Bank descriptors routinely embed the memo verbatim inside boilerplate.
	if len(shorter) >= 4 && strings.Contains(longer, shorter) && sim < 0.9 {
		sim = 0.9
	}

	return sim
}

func levenshteinRatio(a, b string) float64 {
	la := len([]rune(a))
	lb := len([]rune(b))

	longest := la
	if lb > longest {
		longest = lb
	}

	if longest == 0 {
		return 0
	}

	dist := levenshtein.ComputeDistance(a, b)

	return 1 - float64(dist)/float64(longest)
}

// PatternKey reduces a description to its leading tokens, identifying the
// counterparty for historical-pattern lookups.
func PatternKey(description string) string {
	tokens := strings.Fields(Normalize(description))
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}

	return strings.Join(tokens, " ")
}
