package core

import "errors"

// Sentinel errors.
var (
	// ErrInvalidDescriptor is returned when a descriptor lacks a name or version.
	ErrInvalidDescriptor = errors.New("parcel: invalid package")

	// ErrNameMismatch is returned when versions of differently named packages are compared.
	ErrNameMismatch = errors.New("parcel: name mismatch")

	// ErrInvalidVersion is returned when a version string is not a semantic version.
	ErrInvalidVersion = errors.New("parcel: invalid version")

	// ErrInvalidConstraint is returned when a constraint clause cannot be parsed.
	ErrInvalidConstraint = errors.New("parcel: invalid constraint")

	// ErrInvalidPathParts is returned when a path part contains a separator
	// or refers to the current or parent directory.
	ErrInvalidPathParts = errors.New("parcel: invalid path parts")

	// ErrPackageNotFound is returned when no package carries the requested name.
	ErrPackageNotFound = errors.New("parcel: package not found")

	// ErrCompatiblePackageNotFound is returned when packages with the requested
	// name exist but none satisfies the constraint.
	ErrCompatiblePackageNotFound = errors.New("parcel: compatible package not found")

	// ErrNotInstalled is returned when a collection entry has no directory on disk.
	ErrNotInstalled = errors.New("parcel: package not correctly installed")
)
