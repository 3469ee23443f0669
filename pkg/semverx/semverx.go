// Package semverx parses semantic versions and version constraints for
// plugin manifests, and answers whether a version satisfies a constraint.
//
// Parsing and comparison delegate to github.com/Masterminds/semver/v3;
// this package exists to (a) translate the manifest-facing constraint
// grammar (space-separated AND, in addition to Masterminds' native
// comma-separated form) and (b) return diagnosable ParseError values
// instead of bare errors.
package semverx

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version wraps a parsed semantic version.
type Version struct {
	raw string
	v   *semver.Version
}

// String returns the original, un-normalized version string.
func (v Version) String() string {
	return v.raw
}

// Core returns the underlying Masterminds version for callers (e.g.
// pkg/depgraph) that need direct comparison.
func (v Version) Core() *semver.Version {
	return v.v
}

// Compare returns -1, 0, or 1 following semver 2.0.0 precedence: major,
// minor, patch, then prerelease (absent > present); build metadata is
// ignored.
func (v Version) Compare(other Version) int {
	return v.v.Compare(other.v)
}

// Constraint wraps a parsed version constraint expression.
type Constraint struct {
	raw string
	c   *semver.Constraints
}

func (c Constraint) String() string {
	return c.raw
}

// ParseError reports a malformed version or constraint string.
type ParseError struct {
	Input    string
	Offset   int
	Expected string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at offset %d in %q: expected %s", e.Offset, e.Input, e.Expected)
}

// ParseVersion parses a semver 2.0.0 version string. Strict: partial
// versions ("1.0") and prefixed versions ("v1.0.0") are rejected.
func ParseVersion(s string) (Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return Version{}, &ParseError{Input: s, Offset: 0, Expected: "semver 2.0.0 version (major.minor.patch[-pre][+build])"}
	}
	return Version{raw: s, v: v}, nil
}

// ParseConstraint parses a version constraint: exact ("1.2.3"), comparator
// (">=", ">", "<=", "<", "="), space-separated AND combinations
// (">=1.0.0 <2.0.0"), caret ("^1.2.3"), tilde ("~1.2.3"), or wildcard
// ("*", "1.*", "1.2.*").
//
// Caret on a zero-prefixed version is the stricter interpretation:
// "^0.2.3" excludes "0.3.0"; "^0.0.3" excludes "0.0.4" — Masterminds'
// native behavior, which this package does not override.
func ParseConstraint(s string) (Constraint, error) {
	rewritten := rewriteSpaceAND(s)
	c, err := semver.NewConstraint(rewritten)
	if err != nil {
		return Constraint{}, &ParseError{Input: s, Offset: 0, Expected: "a valid constraint expression (exact, comparator, caret, tilde, wildcard, or space-separated AND)"}
	}
	return Constraint{raw: s, c: c}, nil
}

// rewriteSpaceAND turns the manifest grammar's space-separated AND
// ("'>=1.0.0 <2.0.0'") into Masterminds' comma-separated AND ("'>=1.0.0,<2.0.0'"),
// leaving already-comma-separated or single-term constraints untouched.
func rewriteSpaceAND(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) <= 1 || strings.Contains(s, ",") {
		return s
	}
	return strings.Join(fields, ",")
}

// Satisfies reports whether v satisfies c.
//
// Strict prerelease rule: a prerelease version satisfies a constraint
// only if the constraint's operand is itself a prerelease, or the
// comparator is exact equality — Masterminds/semver/v3 enforces this by
// default (prereleases are excluded from range matches unless the
// constraint mentions a prerelease).
func Satisfies(v Version, c Constraint) bool {
	return c.c.Check(v.v)
}
