package textnorm

// CollapseRepetition recovers the final copy of a line that a renderer emitted
// as a chain of growing prefixes, e.g. "ab" + "abc" + "abcd".
//
// The repetition boundary is the smallest i for which text[i:] starts with
// text[:i]. The result is text[r:] for the largest r >= 1 at which text[:i]
// occurs again. Text without a boundary is returned unchanged.
func CollapseRepetition(text string) string {
	runes := []rune(text)
	n := len(runes)
	if n < 2 {
		return text
	}

	z := zArray(runes)

	boundary := 0
	for i := 1; i < n; i++ {
		if z[i] >= i {
			boundary = i
			break
		}
	}
	if boundary == 0 {
		return text
	}

	for r := n - 1; r >= 1; r-- {
		if z[r] >= boundary {
			return string(runes[r:])
		}
	}
	// Unreachable: z[boundary] >= boundary.
	return text
}

// zArray returns z where z[i] is the length of the longest common prefix of
// s and s[i:]. z[0] is left at 0.
func zArray(s []rune) []int {
	n := len(s)
	z := make([]int, n)
	l, r := 0, 0
	for i := 1; i < n; i++ {
		if i < r {
			z[i] = min(r-i, z[i-l])
		}
		for i+z[i] < n && s[z[i]] == s[i+z[i]] {
			z[i]++
		}
		if i+z[i] > r {
			l, r = i, i+z[i]
		}
	}
	return z
}
