// Package version compares extension versions.
//
// Extension versions are dotted numerics with one to four segments ("1", "2.0",
// "120.0.6099.109"), sometimes with a prerelease or build suffix. Parsing is a
// superset of that: any segment count plus optional "-pre" and "+meta" parts,
// with an optional leading "v".
package version

import (
	"fmt"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Version represents a parsed extension version.
type Version struct {
	v   *goversion.Version
	Raw string
}

// Parse parses a version string. Surrounding whitespace is ignored.
// Returns an error if the string is not a comparable version.
func Parse(s string) (Version, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Version{}, fmt.Errorf("empty version string")
	}
	if c := s[0]; c != 'v' && (c < '0' || c > '9') {
		return Version{}, fmt.Errorf("invalid version format: %s", s)
	}
	v, err := goversion.NewVersion(s)
	if err != nil {
		return Version{}, fmt.Errorf("invalid version format: %s", s)
	}
	return Version{v: v, Raw: s}, nil
}

// Valid reports whether s parses as a version.
func Valid(s string) bool {
	_, err := Parse(s)
	return err == nil
}

// String returns the version as originally written.
func (v Version) String() string {
	return v.Raw
}

// Compare compares two versions.
// Returns:
//
//	-1 if v < other
//	 0 if v == other
//	 1 if v > other
//
// Missing segments compare as zero, so "1.0" equals "1.0.0". Prerelease
// versions are less than the matching release.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// IsUpToDate reports whether installed version a is at least b.
//
// When only one side parses, the parsed side wins: an unparseable b is not a
// usable discovered version (true), an unparseable a cannot be shown to be
// current (false). When neither parses the answer is false.
func IsUpToDate(a, b string) bool {
	va, errA := Parse(a)
	vb, errB := Parse(b)

	switch {
	case errA != nil && errB != nil:
		return false
	case errA == nil && errB != nil:
		return true
	case errA != nil && errB == nil:
		return false
	}
	return va.Compare(vb) >= 0
}

// IsNewer reports whether candidate should be offered as an update over installed.
func IsNewer(candidate, installed string) bool {
	if strings.TrimSpace(candidate) == strings.TrimSpace(installed) {
		return false
	}
	return !IsUpToDate(installed, candidate)
}

// Matches reports whether two versions are the same, either literally or numerically.
func Matches(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == b {
		return true
	}
	va, errA := Parse(a)
	vb, errB := Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.Compare(vb) == 0
}
