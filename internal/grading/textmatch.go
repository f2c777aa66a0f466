package grading

import "strings"

// sameText compares typed slot answers ignoring case and runs of
// whitespace. Punctuation counts, since code slots differ on it.
func sameText(got, want string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(got), " "), strings.Join(strings.Fields(want), " "))
}
