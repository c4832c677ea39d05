package utils

// Match checks whether value matches a pattern containing '*' wildcards
// (any sequence of characters, including none) and '?' (exactly one
// character). A pattern without wildcards must equal the value.
func Match(value, pattern string) bool {
	if pattern == "*" {
		return true
	}
	vIndex, pIndex := 0, 0
	star, starValue := -1, 0
	for vIndex < len(value) {
		switch {
		case pIndex < len(pattern) && (pattern[pIndex] == value[vIndex] || pattern[pIndex] == '?'):
			vIndex++
			pIndex++
		case pIndex < len(pattern) && pattern[pIndex] == '*':
			star = pIndex
			starValue = vIndex
			pIndex++
		case star != -1:
			// backtrack: let the last '*' absorb one more character
			pIndex = star + 1
			starValue++
			vIndex = starValue
		default:
			return false
		}
	}
	for pIndex < len(pattern) && pattern[pIndex] == '*' {
		pIndex++
	}
	return pIndex == len(pattern)
}

// MatchAny reports whether value matches at least one of the patterns.
func MatchAny(value string, patterns []string) bool {
	for _, p := range patterns {
		if Match(value, p) {
			return true
		}
	}
	return false
}
