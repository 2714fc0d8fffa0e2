package archive

import "errors"

// Sentinel errors.
var (
	// ErrInvalidPath is returned when a file cannot be mapped to a manifest path.
	ErrInvalidPath = errors.New("parcel: invalid archive path")

	// ErrEmptyArchive is returned when a writer is sealed without any file.
	ErrEmptyArchive = errors.New("parcel: empty archive")

	// ErrWriterClosed is returned when a sealed writer is used.
	ErrWriterClosed = errors.New("parcel: archive writer closed")

	// ErrChecksumMismatch is returned when extracted content does not match
	// the manifest checksum, including truncated or corrupted blobs.
	ErrChecksumMismatch = errors.New("parcel: checksum mismatch")

	// ErrDecompression is returned together with ErrChecksumMismatch when a
	// gzip member cannot be decoded.
	ErrDecompression = errors.New("parcel: decompression failed")

	// ErrMemberNotFound is returned when a member is not part of the archive.
	ErrMemberNotFound = errors.New("parcel: archive member not found")

	// ErrUnsupportedChecksum is returned for unknown checksum algorithms.
	ErrUnsupportedChecksum = errors.New("parcel: unsupported checksum algorithm")

	// ErrInvalidMeta is returned when meta.json is malformed.
	ErrInvalidMeta = errors.New("parcel: invalid archive metadata")

	// ErrSizeOverflow is returned when recorded sizes exceed supported limits.
	ErrSizeOverflow = errors.New("parcel: size overflow")
)
