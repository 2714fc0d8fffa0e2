// Package fsutil provides the filesystem primitives behind crash-safe
// collection updates: atomic file replacement, the ".tmp" suffix protocol,
// and free space probing.
package fsutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// TmpSuffix marks directories that are being installed or removed.
	TmpSuffix = ".tmp"

	// TempFilePrefix starts the names of files being written atomically.
	TempFilePrefix = ".parcel-"

	// DirPerm is used for directories created by parcel.
	DirPerm = 0o750

	// FilePerm is used for files created by parcel.
	FilePerm = 0o644
)

// IsTmp reports whether name carries the temporary suffix or is a file
// left behind by an interrupted atomic write.
func IsTmp(name string) bool {
	return strings.HasSuffix(name, TmpSuffix) || strings.HasPrefix(name, TempFilePrefix)
}

// TmpPath returns the temporary sibling of path.
func TmpPath(path string) string {
	return path + TmpSuffix
}

// WriteFileAtomic writes data to a temp file then renames it to target,
// ensuring atomic replacement of the target file. Parent directories are
// created as needed.
func WriteFileAtomic(target string, data []byte) error {
	return StreamFileAtomic(target, bytes.NewReader(data))
}

// StreamFileAtomic streams from r to a temp file then renames it to target.
func StreamFileAtomic(target string, r io.Reader) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, DirPerm); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, TempFilePrefix+"*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, FilePerm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// MarshalJSON encodes v the way every parcel metadata file is written:
// two space indentation with a trailing newline.
func MarshalJSON(v any) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// WriteJSONAtomic encodes v and writes it atomically to target.
func WriteJSONAtomic(target string, v any) error {
	data, err := MarshalJSON(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(target), err)
	}
	return WriteFileAtomic(target, data)
}

// ReadJSON decodes the JSON document at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // path is composed from the collection root
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// RemoveAllTmp renames path to its temporary sibling and deletes it.
//
// A crash between the two steps leaves a ".tmp" directory that is purged on
// the next scan instead of a half deleted entry under its real name.
func RemoveAllTmp(path string) error {
	tmp := TmpPath(path)
	if err := os.RemoveAll(tmp); err != nil {
		return err
	}
	if err := os.Rename(path, tmp); err != nil {
		return err
	}
	return os.RemoveAll(tmp)
}

// PurgeTmp deletes every entry of dir carrying the temporary suffix and
// returns the removed names.
func PurgeTmp(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var removed []string
	for _, e := range entries {
		if !IsTmp(e.Name()) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return removed, err
		}
		removed = append(removed, e.Name())
	}
	return removed, nil
}

// CopyFile copies src to dst, creating parent directories of dst.
func CopyFile(dst string, src io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(dst), DirPerm); err != nil {
		return err
	}
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, FilePerm) //nolint:gosec // dst is validated by callers
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
