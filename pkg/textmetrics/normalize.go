package textmetrics

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeOptions selects which folding steps Normalize applies.
type NormalizeOptions struct {
	NFKC       bool
	IgnoreCase bool
}

// DefaultNormalizeOptions enables both compatibility and case folding.
func DefaultNormalizeOptions() NormalizeOptions {
	return NormalizeOptions{NFKC: true, IgnoreCase: true}
}

// Normalize folds s for comparison: optional NFKC, optional case folding,
// then whitespace runs collapse to a single space and the ends are trimmed.
// Normalize(Normalize(s)) == Normalize(s).
func Normalize(s string, opts NormalizeOptions) string {
	if s == "" {
		return ""
	}

	if opts.NFKC {
		s = norm.NFKC.String(s)
	}
	if opts.IgnoreCase {
		s = cases.Fold().String(s)
		// folding can produce sequences that are not in NFKC form
		if opts.NFKC {
			s = norm.NFKC.String(s)
		}
	}

	return strings.Join(strings.Fields(s), " ")
}
