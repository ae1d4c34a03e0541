package ingestion

import "strings"

// DefaultTokenMatchRatio is the token-overlap threshold used by FuzzyMatch.
const DefaultTokenMatchRatio = 0.7

// FuzzyMatch reports whether a spreadsheet value and a target name refer to the same thing.
func FuzzyMatch(a, b string) bool {
	return fuzzyMatch(a, b, DefaultTokenMatchRatio)
}

// fuzzyMatch tries, in order: exact, containment, the same two after stripping
// parenthetical groups, then token overlap against ratio. The first success wins.
func fuzzyMatch(a, b string, ratio float64) bool {
	na, nb := normalize(a), normalize(b)
	if na == "" || nb == "" {
		return false
	}
	if equalOrContains(na, nb) {
		return true
	}

	sa, sb := stripParens(na), stripParens(nb)
	if sa != "" && sb != "" && equalOrContains(sa, sb) {
		return true
	}

	return tokenOverlap(tokens(sa), tokens(sb)) >= ratio-1e-9
}

func equalOrContains(a, b string) bool {
	return a == b || strings.Contains(a, b) || strings.Contains(b, a)
}

// tokenOverlap pairs each token of a with at most one unused token of b.
func tokenOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	used := make([]bool, len(b))
	matched := 0
	for _, x := range a {
		for j, y := range b {
			if !used[j] && equalOrContains(x, y) {
				used[j] = true
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(max(len(a), len(b)))
}
