// Package similarity measures edit-distance similarity between secrets and
// scans a vault for duplicate and near-duplicate secrets.
package similarity

import (
	"strings"
	"unicode"
)

// DefaultThreshold is the similarity at or above which two secrets are
// considered similar.
const DefaultThreshold = 0.8

const (
	patternThreshold = 0.75
	minPatternBase   = 4
)

// Levenshtein is the rune-level edit distance with unit costs.
func Levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Similarity is 1 - distance/maxLen, in [0,1]. Identical strings, including
// two empty strings, score 1.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	n := max(len([]rune(a)), len([]rune(b)))
	s := 1 - float64(Levenshtein(a, b))/float64(n)
	return min(max(s, 0), 1)
}

// AreSimilar reports Similarity(a, b) >= threshold. A non-positive
// threshold selects DefaultThreshold.
func AreSimilar(a, b string, threshold float64) bool {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return Similarity(a, b) >= threshold
}

// HasCommonPattern reports whether a and b share a base once trailing
// digits are stripped (base of at least four characters), or are at least
// 75% similar.
func HasCommonPattern(a, b string) bool {
	ba, bb := stripTrailingDigits(a), stripTrailingDigits(b)
	if ba == bb && len([]rune(ba)) >= minPatternBase {
		return true
	}
	return Similarity(a, b) >= patternThreshold
}

func stripTrailingDigits(s string) string {
	return strings.TrimRightFunc(s, unicode.IsDigit)
}
