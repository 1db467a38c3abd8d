package domain

import "strings"

// NormalizeHumanName trims leading/trailing whitespace and collapses internal whitespace runs.
// It is used for displayName normalization.
func NormalizeHumanName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeMessageText trims leading/trailing whitespace. Interior whitespace, including
// newlines, is kept as typed.
func NormalizeMessageText(s string) string {
	return strings.TrimSpace(s)
}
