package cache

import (
	"path/filepath"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// CachedPackage is a cache entry: the repository metadata of a package and,
// once fetched, its archive body.
type CachedPackage struct {
	path string
	meta archive.Meta
}

// LoadCachedPackage reads the cache entry at path.
func LoadCachedPackage(path string) (*CachedPackage, error) {
	var meta archive.Meta
	if err := fsutil.ReadJSON(filepath.Join(path, archive.DefaultMetaName), &meta); err != nil {
		return nil, err
	}
	if err := meta.Package.Validate(); err != nil {
		return nil, err
	}
	return &CachedPackage{path: path, meta: meta}, nil
}

// Descriptor returns the package descriptor.
func (p *CachedPackage) Descriptor() core.Descriptor {
	return p.meta.Package
}

// Ident returns the package identifier.
func (p *CachedPackage) Ident() string {
	return p.meta.Package.Ident()
}

// Path returns the entry directory.
func (p *CachedPackage) Path() string {
	return p.path
}

// Meta returns a copy of the stored metadata.
func (p *CachedPackage) Meta() archive.Meta {
	return p.meta.Clone()
}

// ETag returns the repository etag the entry was stored with.
func (p *CachedPackage) ETag() string {
	return p.meta.ETag
}

// URL returns the resolved archive body URL.
func (p *CachedPackage) URL() string {
	return p.meta.Archive.URL
}

// BodyPath returns where the archive body is downloaded to.
func (p *CachedPackage) BodyPath() string {
	return filepath.Join(p.path, p.meta.Archive.Filename)
}

// Size returns the installed size of the package.
func (p *CachedPackage) Size() uint64 {
	return p.meta.UncompressedSize()
}
