package types

import "strings"

// CleanCell collapses whitespace in a table cell. Non-breaking spaces count
// as whitespace.
func CleanCell(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
