package core

import (
	"fmt"
	"regexp"
	"strings"
)

// Operator is a constraint clause comparison.
type Operator string

// Supported operators.
const (
	OpEqual        Operator = "=="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
)

var (
	nameBoundary  = regexp.MustCompile(`[^a-z0-9_]`)
	clausePattern = regexp.MustCompile(`^(==|>=|<=|>|<)\s*(\d+(?:\.\d+)*)$`)
)

// Clause is one operator applied to a version literal.
type Clause struct {
	Op      Operator
	Version SemVer
}

// String returns the clause in package string form.
func (c Clause) String() string {
	return string(c.Op) + c.Version.String()
}

// Matches reports whether v satisfies the clause.
func (c Clause) Matches(v SemVer) bool {
	r := v.Compare(c.Version)
	switch c.Op {
	case OpEqual:
		return r == 0
	case OpGreaterEqual:
		return r >= 0
	case OpLessEqual:
		return r <= 0
	case OpGreater:
		return r > 0
	case OpLess:
		return r < 0
	default:
		return false
	}
}

// Constraint is a conjunction of clauses. The empty constraint matches every version.
type Constraint []Clause

// Matches reports whether v satisfies every clause.
func (c Constraint) Matches(v SemVer) bool {
	for _, clause := range c {
		if !clause.Matches(v) {
			return false
		}
	}
	return true
}

// String returns the constraint in package string form.
func (c Constraint) String() string {
	parts := make([]string, len(c))
	for i, clause := range c {
		parts[i] = clause.String()
	}
	return strings.Join(parts, ",")
}

// SplitPackageString splits s into the bare package name and the trailing
// constraint. The name ends at the first character outside [a-z0-9_].
func SplitPackageString(s string) (name, constraint string) {
	loc := nameBoundary.FindStringIndex(s)
	if loc == nil {
		return s, ""
	}
	return s[:loc[0]], strings.TrimSpace(s[loc[0]:])
}

// ParseConstraint parses a comma separated list of clauses.
// Blank clauses are ignored, malformed clauses fail with ErrInvalidConstraint.
func ParseConstraint(s string) (Constraint, error) {
	var out Constraint
	for raw := range strings.SplitSeq(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		m := clausePattern.FindStringSubmatch(raw)
		if m == nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidConstraint, raw)
		}
		v, err := clauseVersion(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidConstraint, raw, err)
		}
		out = append(out, Clause{Op: Operator(m[1]), Version: v})
	}
	return out, nil
}

// clauseVersion pads a dot separated numeric version to major.minor.patch.
func clauseVersion(s string) (SemVer, error) {
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		return "", fmt.Errorf("too many version components in %q", s)
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	return ParseVersion(strings.Join(parts, "."))
}

// MatchConstraint reports whether version satisfies the constraint string.
func MatchConstraint(constraint, version string) (bool, error) {
	c, err := ParseConstraint(constraint)
	if err != nil {
		return false, err
	}
	if len(c) == 0 {
		return true, nil
	}
	v, err := ParseVersion(version)
	if err != nil {
		return false, err
	}
	return c.Matches(v), nil
}

// Query is a parsed package string.
type Query struct {
	Name       string
	Constraint Constraint
}

// ParseQuery parses a package string such as "name >=1.0,<2".
func ParseQuery(s string) (Query, error) {
	name, rest := SplitPackageString(s)
	c, err := ParseConstraint(rest)
	if err != nil {
		return Query{}, err
	}
	return Query{Name: name, Constraint: c}, nil
}

// Matches reports whether d satisfies the query. An empty name matches any package.
func (q Query) Matches(d Descriptor) (bool, error) {
	if q.Name != "" && q.Name != d.Name {
		return false, nil
	}
	if len(q.Constraint) == 0 {
		return true, nil
	}
	v, err := ParseVersion(d.Version)
	if err != nil {
		return false, err
	}
	return q.Constraint.Matches(v), nil
}
