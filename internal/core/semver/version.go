// Package semver parses, compares and bumps semantic versions.
// This is part of the Functional Core - all functions are pure with no I/O.
package semver

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrInvalidVersionFormat is returned when a string is not MAJOR.MINOR.PATCH[-pre][+build].
	ErrInvalidVersionFormat = errors.New("invalid version format")

	// ErrInvalidBumpType is returned by Bump for anything but major, minor or patch.
	ErrInvalidBumpType = errors.New("invalid bump type")
)

// =============================================================================
// Version
// =============================================================================

// Version is a parsed semantic version.
type Version struct {
	Major      int    `json:"major" yaml:"major"`
	Minor      int    `json:"minor" yaml:"minor"`
	Patch      int    `json:"patch" yaml:"patch"`
	Prerelease string `json:"prerelease,omitempty" yaml:"prerelease,omitempty"`
	Build      string `json:"build,omitempty" yaml:"build,omitempty"`
}

var versionRegex = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)(?:-([0-9A-Za-z.-]+))?(?:\+([0-9A-Za-z.-]+))?$`)

// Parse parses a version string.
//
// Example:
//
//	v, err := Parse("1.4.0-beta.1+build.7")
//	// v.Major == 1, v.Minor == 4, v.Prerelease == "beta.1", v.Build == "build.7"
func Parse(s string) (Version, error) {
	m := versionRegex.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersionFormat, s)
	}

	major, err := strconv.Atoi(m[1])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: major: %v", ErrInvalidVersionFormat, s, err)
	}
	minor, err := strconv.Atoi(m[2])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: minor: %v", ErrInvalidVersionFormat, s, err)
	}
	patch, err := strconv.Atoi(m[3])
	if err != nil {
		return Version{}, fmt.Errorf("%w: %q: patch: %v", ErrInvalidVersionFormat, s, err)
	}

	return Version{
		Major:      major,
		Minor:      minor,
		Patch:      patch,
		Prerelease: m[4],
		Build:      m[5],
	}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(s string) Version {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// IsValid reports whether s parses as a version.
func IsValid(s string) bool {
	return versionRegex.MatchString(s)
}

// String formats the version. It is the inverse of Parse.
func (v Version) String() string {
	s := fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
	if v.Prerelease != "" {
		s += "-" + v.Prerelease
	}
	if v.Build != "" {
		s += "+" + v.Build
	}
	return s
}

// IsStable reports whether the version is >= 1.0.0 without a prerelease tag.
func (v Version) IsStable() bool {
	return v.Major >= 1 && v.Prerelease == ""
}

// =============================================================================
// Comparison
// =============================================================================

// Ordering is the result of comparing two versions.
type Ordering int

const (
	Less    Ordering = -1
	Equal   Ordering = 0
	Greater Ordering = 1
)

func (o Ordering) String() string {
	switch o {
	case Less:
		return "less"
	case Greater:
		return "greater"
	default:
		return "equal"
	}
}

// Compare orders a against b by major, minor, patch and then prerelease.
// A release sorts after any prerelease of the same triple; two prereleases
// compare as plain strings. Build metadata is ignored.
func Compare(a, b Version) Ordering {
	if o := compareInt(a.Major, b.Major); o != Equal {
		return o
	}
	if o := compareInt(a.Minor, b.Minor); o != Equal {
		return o
	}
	if o := compareInt(a.Patch, b.Patch); o != Equal {
		return o
	}

	switch {
	case a.Prerelease == "" && b.Prerelease == "":
		return Equal
	case a.Prerelease == "":
		return Greater
	case b.Prerelease == "":
		return Less
	}
	return Ordering(strings.Compare(a.Prerelease, b.Prerelease))
}

// CompareStrings parses both strings and compares them.
func CompareStrings(a, b string) (Ordering, error) {
	va, err := Parse(a)
	if err != nil {
		return Equal, err
	}
	vb, err := Parse(b)
	if err != nil {
		return Equal, err
	}
	return Compare(va, vb), nil
}

func compareInt(a, b int) Ordering {
	switch {
	case a < b:
		return Less
	case a > b:
		return Greater
	default:
		return Equal
	}
}

// =============================================================================
// Ranges
// =============================================================================

// Satisfies reports whether v matches a single-operator range expression.
//
// Supported forms:
//   - "^1.2.0"  same major, >= 1.2.0
//   - "~1.2.0"  same major.minor, >= 1.2.0
//   - ">=1.0.0", ">1.0.0", "<=1.0.0", "<1.0.0"
//   - "1.2.0"   exact match
//
// Compound ranges such as ">=1.0.0 <2.0.0" are not supported and never match,
// as does any range whose version part fails to parse.
func Satisfies(v Version, rng string) bool {
	rng = strings.TrimSpace(rng)

	op := ""
	for _, candidate := range []string{">=", "<=", "^", "~", ">", "<"} {
		if strings.HasPrefix(rng, candidate) {
			op = candidate
			break
		}
	}

	target, err := Parse(strings.TrimSpace(rng[len(op):]))
	if err != nil {
		return false
	}
	cmp := Compare(v, target)

	switch op {
	case "^":
		return v.Major == target.Major && cmp != Less
	case "~":
		return v.Major == target.Major && v.Minor == target.Minor && cmp != Less
	case ">=":
		return cmp != Less
	case ">":
		return cmp == Greater
	case "<=":
		return cmp != Greater
	case "<":
		return cmp == Less
	default:
		return cmp == Equal
	}
}

// SatisfiesString parses v and checks it against rng. Unparsable versions never match.
func SatisfiesString(v, rng string) bool {
	parsed, err := Parse(v)
	if err != nil {
		return false
	}
	return Satisfies(parsed, rng)
}

// =============================================================================
// Bumping
// =============================================================================

// BumpType selects which component Bump increments.
type BumpType string

const (
	BumpMajor BumpType = "major"
	BumpMinor BumpType = "minor"
	BumpPatch BumpType = "patch"
)

// IsValid checks if the bump type is valid.
func (b BumpType) IsValid() bool {
	switch b {
	case BumpMajor, BumpMinor, BumpPatch:
		return true
	default:
		return false
	}
}

// Bump returns the next version. Lower components are reset to zero and
// prerelease/build tags are dropped.
func Bump(v Version, kind BumpType) (Version, error) {
	switch kind {
	case BumpMajor:
		return Version{Major: v.Major + 1}, nil
	case BumpMinor:
		return Version{Major: v.Major, Minor: v.Minor + 1}, nil
	case BumpPatch:
		return Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 1}, nil
	default:
		return v, fmt.Errorf("%w: %q", ErrInvalidBumpType, kind)
	}
}

// HasBreakingChanges reports whether moving from one version to another crosses a major version.
func HasBreakingChanges(from, to Version) bool {
	return to.Major > from.Major
}
