package pool

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/meigma/parcel/core"
)

// FileProvider resolves package files by manifest path parts.
type FileProvider interface {
	HasFile(parts ...string) bool
	FilePath(parts ...string) (string, error)
}

// openFile opens a package file or returns ErrNotIncluded.
func openFile(p FileProvider, parts []string) (*os.File, error) {
	path, err := p.FilePath(parts...)
	if err != nil {
		return nil, err
	}
	return os.Open(path) //nolint:gosec // path is validated by FilePath
}

// withFile calls fn with the open file and closes it afterwards.
// found is false when the package does not include the file.
func withFile(p FileProvider, parts []string, fn func(*os.File) error) (found bool, err error) {
	if !p.HasFile(parts...) {
		return false, nil
	}
	f, err := openFile(p, parts)
	if err != nil {
		return true, err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return true, fn(f)
}

// loadJSON decodes a JSON package file into v.
// found is false when the package does not include the file.
func loadJSON(p FileProvider, v any, parts []string) (bool, error) {
	return withFile(p, parts, func(f *os.File) error {
		if err := json.NewDecoder(f).Decode(v); err != nil {
			return fmt.Errorf("decode %s: %w", f.Name(), err)
		}
		return nil
	})
}

// dirPath joins validated parts below root. No parts yields root itself.
func dirPath(root string, parts []string) (string, error) {
	if len(parts) == 0 {
		return root, nil
	}
	rel, err := core.JoinPathParts(parts...)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// DirPackage exposes the package file accessors over a plain directory.
type DirPackage struct {
	path string
}

// NewDirPackage returns a DirPackage rooted at path.
func NewDirPackage(path string) *DirPackage {
	return &DirPackage{path: path}
}

// Path returns the directory.
func (d *DirPackage) Path() string {
	return d.path
}

// HasFile reports whether a regular file exists at the path parts.
func (d *DirPackage) HasFile(parts ...string) bool {
	path, err := dirPath(d.path, parts)
	if err != nil || len(parts) == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// FilePath returns the path of an existing file.
func (d *DirPackage) FilePath(parts ...string) (string, error) {
	path, err := dirPath(d.path, parts)
	if err != nil {
		return "", err
	}
	if !d.HasFile(parts...) {
		return "", fmt.Errorf("%w: %s", ErrNotIncluded, path)
	}
	return path, nil
}

// DirPath returns the path of a directory below the package root.
func (d *DirPackage) DirPath(parts ...string) (string, error) {
	return dirPath(d.path, parts)
}

// Open opens a file or returns ErrNotIncluded.
func (d *DirPackage) Open(parts ...string) (*os.File, error) {
	return openFile(d, parts)
}

// WithFile calls fn with the open file. found is false when the file is missing.
func (d *DirPackage) WithFile(fn func(*os.File) error, parts ...string) (bool, error) {
	return withFile(d, parts, fn)
}

// LoadJSON decodes a JSON file into v. found is false when the file is missing.
func (d *DirPackage) LoadJSON(v any, parts ...string) (bool, error) {
	return loadJSON(d, v, parts)
}
