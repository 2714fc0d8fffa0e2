package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/mod/semver"
)

// Descriptor identifies a package release and carries its metadata.
//
// It is embedded in archive metadata, cache entries, and installed packages.
type Descriptor struct {
	Name          string             `json:"name" yaml:"name"`
	Version       string             `json:"version" yaml:"version"`
	Description   string             `json:"description,omitempty" yaml:"description,omitempty"`
	License       string             `json:"license,omitempty" yaml:"license,omitempty"`
	Compatibility map[string]*string `json:"compatibility,omitempty" yaml:"compatibility,omitempty"`
}

// Valid reports whether both name and version are set.
func (d Descriptor) Valid() bool {
	return d.Name != "" && d.Version != ""
}

// Validate returns ErrInvalidDescriptor if the descriptor is not valid.
func (d Descriptor) Validate() error {
	if !d.Valid() {
		return fmt.Errorf("%w: name=%q version=%q", ErrInvalidDescriptor, d.Name, d.Version)
	}
	return nil
}

// Ident returns the collection identifier "name-version".
// The result is only meaningful for valid descriptors.
func (d Descriptor) Ident() string {
	return Ident(d.Name, d.Version)
}

// Ident joins a package name and version into an identifier.
func Ident(name, version string) string {
	return name + "-" + version
}

// Described is implemented by every package representation.
type Described interface {
	Descriptor() Descriptor
}

// SemVer is a semantic version in canonical "vMAJOR.MINOR.PATCH" form,
// optionally followed by a prerelease.
type SemVer string

// Compare returns -1, 0 or +1 as v sorts before, equal to or after w.
// Build metadata is ignored.
func (v SemVer) Compare(w SemVer) int {
	return semver.Compare(string(v), string(w))
}

// String returns the version without the leading "v".
func (v SemVer) String() string {
	return strings.TrimPrefix(string(v), "v")
}

// ParseVersion parses a semantic version string. The "v" prefix is
// optional and missing minor or patch components are zero.
func ParseVersion(v string) (SemVer, error) {
	s := "v" + strings.TrimPrefix(v, "v")
	if !semver.IsValid(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidVersion, v)
	}
	return SemVer(semver.Canonical(s)), nil
}

// CompareVersions orders two descriptors of the same package by semantic
// version. It returns -1, 0 or +1 and fails with ErrNameMismatch when the
// names differ.
func CompareVersions(a, b Descriptor) (int, error) {
	if a.Name != b.Name {
		return 0, fmt.Errorf("%w: %s != %s", ErrNameMismatch, a.Name, b.Name)
	}
	va, err := ParseVersion(a.Version)
	if err != nil {
		return 0, err
	}
	vb, err := ParseVersion(b.Version)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}

// SortByVersion stably sorts items in ascending version order.
// All items must share one name.
func SortByVersion[T Described](items []T) error {
	var sortErr error
	slices.SortStableFunc(items, func(a, b T) int {
		c, err := CompareVersions(a.Descriptor(), b.Descriptor())
		if err != nil && sortErr == nil {
			sortErr = err
		}
		return c
	})
	return sortErr
}

// Latest returns the highest versioned item. All items must share one name.
func Latest[T Described](items []T) (T, error) {
	var zero T
	if len(items) == 0 {
		return zero, ErrPackageNotFound
	}
	sorted := slices.Clone(items)
	if err := SortByVersion(sorted); err != nil {
		return zero, err
	}
	return sorted[len(sorted)-1], nil
}

// SortByIdent sorts items by identifier, giving listings a stable order.
func SortByIdent[T Described](items []T) {
	slices.SortFunc(items, func(a, b T) int {
		return cmp.Compare(a.Descriptor().Ident(), b.Descriptor().Ident())
	})
}
