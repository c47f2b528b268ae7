package catalog

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/width"
)

// Normalize returns the lookup key for a disease name, synonym or label.
// Full-width forms are folded to their narrow equivalents, whitespace runs
// collapse to a single space, and case is folded.
func Normalize(s string) string {
	s = width.Fold.String(s)
	s = strings.Join(strings.Fields(s), " ")
	// a Caser is stateful, so one per call
	return cases.Fold().String(s)
}
