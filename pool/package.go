package pool

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// Package is an installed package: an extracted archive together with its
// metadata.
type Package struct {
	path string
	meta archive.Meta
}

// LoadPackage reads the installed package at path.
func LoadPackage(path string) (*Package, error) {
	var meta archive.Meta
	if err := fsutil.ReadJSON(filepath.Join(path, archive.DefaultMetaName), &meta); err != nil {
		return nil, err
	}
	if err := meta.Package.Validate(); err != nil {
		return nil, err
	}
	return &Package{path: path, meta: meta}, nil
}

// Descriptor returns the package descriptor.
func (p *Package) Descriptor() core.Descriptor {
	return p.meta.Package
}

// Ident returns the package identifier.
func (p *Package) Ident() string {
	return p.meta.Package.Ident()
}

// Path returns the install directory.
func (p *Package) Path() string {
	return p.path
}

// Meta returns a copy of the package metadata.
func (p *Package) Meta() archive.Meta {
	return p.meta.Clone()
}

// Manifest returns the installed files.
func (p *Package) Manifest() []archive.ManifestEntry {
	return p.meta.Clone().Manifest
}

// Size returns the total size of the installed files.
func (p *Package) Size() uint64 {
	return p.meta.UncompressedSize()
}

// HasFile reports whether the manifest lists the path parts.
func (p *Package) HasFile(parts ...string) bool {
	return slices.ContainsFunc(p.meta.Manifest, func(e archive.ManifestEntry) bool {
		return slices.Equal(e.Path, parts)
	})
}

// FilePath returns the path of a manifest file or ErrNotIncluded.
func (p *Package) FilePath(parts ...string) (string, error) {
	rel, err := core.JoinPathParts(parts...)
	if err != nil {
		return "", err
	}
	if !p.HasFile(parts...) {
		return "", fmt.Errorf("%w: %s", ErrNotIncluded, rel)
	}
	return filepath.Join(p.path, rel), nil
}

// DirPath returns the path of a directory below the install directory.
// The directory is not checked against the manifest.
func (p *Package) DirPath(parts ...string) (string, error) {
	return dirPath(p.path, parts)
}

// Open opens a manifest file or returns ErrNotIncluded.
func (p *Package) Open(parts ...string) (*os.File, error) {
	return openFile(p, parts)
}

// WithFile calls fn with the open file and closes it afterwards.
// found is false when the package does not include the file.
func (p *Package) WithFile(fn func(*os.File) error, parts ...string) (found bool, err error) {
	return withFile(p, parts, fn)
}

// LoadJSON decodes a JSON manifest file into v.
// found is false when the package does not include the file.
func (p *Package) LoadJSON(v any, parts ...string) (found bool, err error) {
	return loadJSON(p, v, parts)
}
