// Package slug converts names and identifiers to kebab-case.
// This is part of the Functional Core - all functions are pure with no I/O.
package slug

import (
	"regexp"
	"strings"
)

var kebabRegex = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// =============================================================================
// Kebab Case
// =============================================================================

// Kebab converts a name or identifier to kebab-case.
//
// The transformation rules are:
//   - Uppercase letters are lowercased; a lower-to-upper boundary starts a new word
//   - Spaces, underscores, dots and slashes become hyphens
//   - Consecutive hyphens collapse and leading/trailing hyphens are trimmed
//   - All other characters are dropped
//
// Example:
//
//	Kebab("Hero Banner")    // returns "hero-banner"
//	Kebab("pricingTable")   // returns "pricing-table"
//	Kebab("my_section.v2!") // returns "my-section-v2"
func Kebab(name string) string {
	var b strings.Builder
	var prev rune
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if (prev >= 'a' && prev <= 'z') || (prev >= '0' && prev <= '9') {
				b.WriteByte('-')
			}
			b.WriteRune(r + 32)
		case r == ' ' || r == '_' || r == '.' || r == '/' || r == '-':
			b.WriteByte('-')
		}
		prev = r
	}

	s := b.String()
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	return strings.Trim(s, "-")
}

// IsKebab reports whether s is already non-empty kebab-case.
func IsKebab(s string) bool {
	return kebabRegex.MatchString(s)
}
