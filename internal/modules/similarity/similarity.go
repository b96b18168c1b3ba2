// Package similarity normalizes counterparty names and scores how close
// two strings, or an amount/date pair, are to each other. All candidate
// ranking in the matcher runs through the single scalar produced by
// AmountDateScore.
package similarity

import (
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwalther/belegmatch/internal/domain"
)

// Legal-entity suffixes stripped before name comparison, so that
// "Acme GmbH" and "ACME" compare equal.
var legalSuffixes = []string{
	"gmbh & co. kg",
	"gmbh & co kg",
	"se & co. kga",
	"gmbh",
	"mbh",
	"ag",
	"kg",
	"ug",
	"ohg",
	"gbr",
	"e.k.",
	"ek",
	"se",
	"inc.",
	"inc",
	"ltd.",
	"ltd",
	"llc",
	"s.a.",
	"b.v.",
	"co.",
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9äöüß ]+`)
var multiSpace = regexp.MustCompile(`\s+`)

// Normalize lowercases a name, strips legal-entity suffixes and
// punctuation, and collapses whitespace.
func Normalize(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))

	for _, suffix := range legalSuffixes {
		if strings.HasSuffix(s, " "+suffix) {
			s = strings.TrimSuffix(s, " "+suffix)
			break
		}
	}

	s = nonAlnum.ReplaceAllString(s, " ")
	s = multiSpace.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Similarity returns a normalized edit-distance similarity in [0,1].
// Identical strings score 1.0; two empty strings are treated as a
// degenerate exact match; one empty and one non-empty string score 0.0.
func Similarity(a, b string) float64 {
	if a == b {
		return 1.0
	}
	if a == "" || b == "" {
		return 0.0
	}

	ra := []rune(a)
	rb := []rune(b)
	maxLen := len(ra)
	if len(rb) > maxLen {
		maxLen = len(rb)
	}

	return 1.0 - float64(levenshtein(ra, rb))/float64(maxLen)
}

// levenshtein computes the edit distance with a two-row matrix.
func levenshtein(a, b []rune) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}

	return prev[len(b)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// AmountDateScore combines amount difference and date distance into one
// scalar: score = |amountDiff| + 0.1 * |dayDiff|. Lower is better.
// Tier thresholds: < 0.25 high, < 1.0 medium, otherwise low.
func AmountDateScore(txAmount, docAmount decimal.Decimal, txDate, docDate time.Time) (float64, domain.ConfidenceTier) {
	amountDiff, _ := txAmount.Sub(docAmount).Abs().Float64()

	dayDiff := txDate.Sub(docDate).Hours() / 24.0
	if dayDiff < 0 {
		dayDiff = -dayDiff
	}

	score := amountDiff + 0.1*dayDiff

	switch {
	case score < 0.25:
		return score, domain.TierHigh
	case score < 1.0:
		return score, domain.TierMedium
	default:
		return score, domain.TierLow
	}
}
