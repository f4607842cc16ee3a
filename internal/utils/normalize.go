package utils

import (
	"strings"
)

// NormalizeAddress collapses whitespace in a free-form address string.
func NormalizeAddress(raw string) string {
	return strings.Join(strings.Fields(raw), " ")
}

// NormalizeLabel lowercases a detector label and collapses whitespace so
// keyword lookups are insensitive to model formatting.
func NormalizeLabel(raw string) string {
	return strings.ToLower(strings.Join(strings.Fields(raw), " "))
}
