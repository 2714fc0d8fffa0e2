package index

import "errors"

// Sentinel errors.
var (
	// ErrInvalidRepositoryURL is returned when no repository URL is configured.
	ErrInvalidRepositoryURL = errors.New("parcel: invalid repository url")

	// ErrIndexOutOfSync is returned when metadata etags keep disagreeing with
	// the listing after all attempts.
	ErrIndexOutOfSync = errors.New("parcel: index server out of sync")

	// ErrIdentMismatch is returned when metadata describes a different
	// package than the listing entry it was fetched for.
	ErrIdentMismatch = errors.New("parcel: package identifier mismatch")

	// ErrInvalidListing is returned for malformed listing entries.
	ErrInvalidListing = errors.New("parcel: invalid index listing")

	// errETagMismatch marks the only retryable update failure.
	errETagMismatch = errors.New("parcel: etag mismatch")
)
