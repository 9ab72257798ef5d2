package judge

import "strings"

// Normalize trims leading and trailing whitespace and collapses every
// internal run of whitespace (spaces, tabs, newlines) to a single space.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// OutputsMatch reports whether actual equals expected after normalization.
func OutputsMatch(actual, expected string) bool {
	return Normalize(actual) == Normalize(expected)
}
