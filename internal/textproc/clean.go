// Package textproc prepares raw extracted text for embedding: whitespace
// normalization and overlap-window chunking.
package textproc

import "strings"

// Clean collapses runs of whitespace (newlines included) to single spaces and
// trims the result. Idempotent: Clean(Clean(x)) == Clean(x).
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
