package statement

import (
	"regexp"
	"strings"
)

// ReferencePattern is one member of the configurable payer-reference pattern
// family. AlphaPrefix marks patterns whose matches start with letters; those
// are preferred over bare digits, which false-positive on amounts and dates.
type ReferencePattern struct {
	Pattern     *regexp.Regexp
	AlphaPrefix bool
}

// DefaultReferencePatterns covers the two shapes student references take in
// practice: a 2-4 letter prefix with 2-4 digits (SUT001, HAR234) and a bare
// 2-4 digit student number.
func DefaultReferencePatterns() []ReferencePattern {
	return []ReferencePattern{
		{Pattern: regexp.MustCompile(`\b[A-Za-z]{2,4}[0-9]{2,4}\b`), AlphaPrefix: true},
		{Pattern: regexp.MustCompile(`\b[0-9]{2,4}\b`)},
	}
}

// ExtractReference finds the payer reference for one row. A dedicated
// reference cell wins outright; otherwise the description is scanned against
// the pattern family, preferring the first alpha-prefix match. The result is
// trimmed and upper-cased; empty means no reference was found and the
// transaction will reconcile as Unmatched.
//
// Extraction is deterministic and depends only on the cell values passed in.
func ExtractReference(refCell, description string, patterns []ReferencePattern) string {
	if ref := strings.TrimSpace(refCell); ref != "" {
		return strings.ToUpper(ref)
	}
	desc := strings.TrimSpace(description)
	if desc == "" {
		return ""
	}
	// alpha-prefix patterns first, in family order
	for _, p := range patterns {
		if !p.AlphaPrefix {
			continue
		}
		if m := p.Pattern.FindString(desc); m != "" {
			return strings.ToUpper(m)
		}
	}
	for _, p := range patterns {
		if p.AlphaPrefix {
			continue
		}
		if m := p.Pattern.FindString(desc); m != "" {
			return strings.ToUpper(m)
		}
	}
	return ""
}
