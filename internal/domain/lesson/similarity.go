package lesson

import "unicode/utf8"

const (
	// DefaultMinScore is the lowest score that accepts an answer.
	DefaultMinScore = 0.35

	prefixBonus = 0.15
	prefixRunes = 6
)

// Similarity scores how closely answer reproduces expected, in [0, 1].
//
// The base score is the number of distinct answer tokens found in the expected
// token set divided by the number of distinct expected tokens. A flat bonus is
// added when the answer starts with the first few characters of expected.
func Similarity(expected, answer string) float64 {
	exp := Normalize(expected)
	ans := Normalize(answer)
	if exp == "" || ans == "" {
		return 0
	}

	want := make(map[string]struct{})
	for _, tok := range Tokens(exp) {
		want[tok] = struct{}{}
	}

	seen := make(map[string]struct{})
	hits := 0
	for _, tok := range Tokens(ans) {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		if _, ok := want[tok]; ok {
			hits++
		}
	}

	score := float64(hits) / float64(len(want))
	if score > 1 {
		score = 1
	}

	if hasPrefix(ans, exp, prefixRunes) {
		score += prefixBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// hasPrefix reports whether s starts with the first n runes of p.
func hasPrefix(s, p string, n int) bool {
	if utf8.RuneCountInString(p) > n {
		i := 0
		for pos := range p {
			if i == n {
				p = p[:pos]
				break
			}
			i++
		}
	}
	return len(s) >= len(p) && s[:len(p)] == p
}
