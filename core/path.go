package core

import (
	"fmt"
	"path/filepath"
	"strings"
)

// JoinPathParts validates manifest path parts and joins them with the
// platform separator.
//
// Parts must be non-empty and must not contain "/" or "\", and must not be
// "." or "..". Rejecting these keeps every joined path below the directory
// it is later resolved against.
func JoinPathParts(parts ...string) (string, error) {
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPathParts)
	}
	for _, p := range parts {
		if p == "" || p == "." || p == ".." || strings.ContainsAny(p, `/\`) {
			return "", fmt.Errorf("%w: %q", ErrInvalidPathParts, parts)
		}
	}
	return filepath.Join(parts...), nil
}

// SplitPath converts a relative filesystem path into manifest path parts.
//
// The path is cleaned first. Paths that are absolute or that escape their
// base via ".." are rejected with ErrInvalidPathParts.
func SplitPath(rel string) ([]string, error) {
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == "." || clean == ".." ||
		strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPathParts, rel)
	}
	return strings.Split(clean, string(filepath.Separator)), nil
}
