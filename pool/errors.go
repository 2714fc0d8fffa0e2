package pool

import (
	"errors"
	"fmt"

	units "github.com/docker/go-units"
)

// Sentinel errors.
var (
	// ErrAlreadyInstalled is returned when the exact package version is installed.
	ErrAlreadyInstalled = errors.New("parcel: package already installed")

	// ErrNotEnoughSpace is matched by *NotEnoughSpaceError.
	ErrNotEnoughSpace = errors.New("parcel: not enough space")

	// ErrNotIncluded is returned when a package does not contain a file.
	ErrNotIncluded = errors.New("parcel: package does not include file")
)

// NotEnoughSpaceError reports a failed free space check.
type NotEnoughSpaceError struct {
	Required  uint64
	Available uint64
}

// RequiredMB returns the required space in mebibytes.
func (e *NotEnoughSpaceError) RequiredMB() float64 {
	return float64(e.Required) / 1024 / 1024
}

func (e *NotEnoughSpaceError) Error() string {
	return fmt.Sprintf("parcel: not enough space: requires %0.2f MB (%s available)",
		e.RequiredMB(), units.BytesSize(float64(e.Available)))
}

// Is reports whether target is ErrNotEnoughSpace.
func (e *NotEnoughSpaceError) Is(target error) bool {
	return target == ErrNotEnoughSpace
}
