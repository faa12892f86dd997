// Package utils holds small helpers with no better home.
package utils

// FastEqual is a simple byte comparison that returns early on a length or
// byte difference. Cheaper than bytes.Equal for the short, hot comparisons
// in this codebase (event ids, pubkeys, tag keys).
func FastEqual(a, b []byte) (same bool) {
	if len(a) != len(b) {
		return
	}
	for i, v := range a {
		if v != b[i] {
			return
		}
	}
	return true
}
