package download

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidContentRange is returned when a partial response does not
	// continue at the requested offset or disagrees with the total size.
	ErrInvalidContentRange = errors.New("parcel: invalid content range")

	// ErrUnknownContentLength is returned when a response has no Content-Length.
	ErrUnknownContentLength = errors.New("parcel: unknown content length")

	// ErrIncompleteDownload is returned when the body ends before the announced size.
	ErrIncompleteDownload = errors.New("parcel: incomplete download")

	// ErrMissingChecksumHeader is returned when the configured checksum header is absent.
	ErrMissingChecksumHeader = errors.New("parcel: missing checksum header")

	// ErrInvalidChecksum is matched by *InvalidChecksumError.
	ErrInvalidChecksum = errors.New("parcel: invalid checksum")
)

// UnsupportedStatusError reports an HTTP status the downloader cannot handle.
type UnsupportedStatusError struct {
	Code int
}

func (e *UnsupportedStatusError) Error() string {
	return fmt.Sprintf("parcel: unsupported http status %d", e.Code)
}

// InvalidChecksumError reports a checksum mismatch of a downloaded file.
type InvalidChecksumError struct {
	Expected string
	Actual   string
}

func (e *InvalidChecksumError) Error() string {
	return fmt.Sprintf("parcel: invalid checksum: %s != %s", e.Actual, e.Expected)
}

// Is reports whether target is ErrInvalidChecksum.
func (e *InvalidChecksumError) Is(target error) bool {
	return target == ErrInvalidChecksum
}
