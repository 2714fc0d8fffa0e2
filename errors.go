package parcel

import (
	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/download"
	"github.com/meigma/parcel/index"
	"github.com/meigma/parcel/pool"
	"github.com/meigma/parcel/recipe"
	"github.com/meigma/parcel/session"
)

// Validation errors.
var (
	// ErrInvalidDataPath is returned when the data path is not an existing directory.
	ErrInvalidDataPath = session.ErrInvalidDataPath

	// ErrInvalidDescriptor is returned when a package lacks a name or version.
	ErrInvalidDescriptor = core.ErrInvalidDescriptor

	// ErrInvalidConstraint is returned when a version constraint cannot be parsed.
	ErrInvalidConstraint = core.ErrInvalidConstraint

	// ErrInvalidPathParts is returned for path parts that are empty, contain a
	// separator, or refer to "." or "..".
	ErrInvalidPathParts = core.ErrInvalidPathParts

	// ErrValidation is returned when a recipe lacks a required field.
	ErrValidation = recipe.ErrValidation

	// ErrInvalidRepositoryURL is returned when no usable repository URL is configured.
	ErrInvalidRepositoryURL = index.ErrInvalidRepositoryURL
)

// Resolution errors.
var (
	// ErrPackageNotFound is returned when no package carries the requested name.
	ErrPackageNotFound = core.ErrPackageNotFound

	// ErrCompatiblePackageNotFound is returned when the package exists but no
	// version satisfies the constraint.
	ErrCompatiblePackageNotFound = core.ErrCompatiblePackageNotFound

	// ErrNotIncluded is returned when an installed package lacks a file.
	ErrNotIncluded = pool.ErrNotIncluded
)

// State errors.
var (
	// ErrAlreadyInstalled is returned when the exact version is already installed.
	ErrAlreadyInstalled = pool.ErrAlreadyInstalled

	// ErrNotEnoughSpace is returned when the pool filesystem cannot hold a package.
	ErrNotEnoughSpace = pool.ErrNotEnoughSpace

	// ErrNotInstalled is returned when a package directory has gone missing.
	ErrNotInstalled = core.ErrNotInstalled

	// ErrEmptyArchive is returned when an archive would contain no file.
	ErrEmptyArchive = archive.ErrEmptyArchive
)

// Integrity errors.
var (
	// ErrChecksumMismatch is returned when extracted content does not match
	// its recorded checksum.
	ErrChecksumMismatch = archive.ErrChecksumMismatch

	// ErrInvalidChecksum is returned when a downloaded body does not match the
	// checksum announced by the server.
	ErrInvalidChecksum = download.ErrInvalidChecksum
)

// Repository errors.
var (
	// ErrIndexOutOfSync is returned when the repository keeps serving
	// metadata that disagrees with its listing.
	ErrIndexOutOfSync = index.ErrIndexOutOfSync

	// ErrIdentMismatch is returned when repository metadata describes a
	// different package than listed.
	ErrIdentMismatch = index.ErrIdentMismatch
)
