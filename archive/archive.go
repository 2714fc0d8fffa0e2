package archive

import (
	"bytes"
	"crypto/md5" //nolint:gosec // MD5 is pinned by the archive format
	"encoding/hex"
	"fmt"
	"io"
	"path"

	"github.com/meigma/parcel/core"
)

// Archive is an archive whose metadata carries a valid package descriptor.
type Archive struct {
	*Reader
	desc core.Descriptor
}

// Open opens the archive at path, in container or directory form, and
// validates its package descriptor.
func Open(path string, opts ...ReaderOption) (*Archive, error) {
	r, err := OpenReader(path, opts...)
	if err != nil {
		return nil, err
	}
	desc := r.meta.Package
	if err := desc.Validate(); err != nil {
		r.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &Archive{Reader: r, desc: desc}, nil
}

// Descriptor returns the package descriptor.
func (a *Archive) Descriptor() core.Descriptor {
	return a.meta.Clone().Package
}

// Ident returns the package identifier.
func (a *Archive) Ident() string {
	return a.desc.Ident()
}

// Manifest returns the manifest entries.
func (a *Archive) Manifest() []ManifestEntry {
	return a.List()
}

// Object is one object published to the repository's object store.
type Object struct {
	// Key is the object key, "<ident>/<member>".
	Key string

	// Size is the body size in bytes.
	Size int64

	// MD5 is the hex MD5 digest of the body.
	MD5 string

	// Body is the object content.
	Body io.ReadSeeker
}

// Objects returns the objects that publish this archive: its metadata and
// its blob.
func (a *Archive) Objects() ([]Object, error) {
	metaData, err := a.ReadMember(DefaultMetaName)
	if err != nil {
		return nil, err
	}
	if a.file == nil {
		return nil, fmt.Errorf("%w: objects require an archive container", ErrMemberNotFound)
	}
	blob, size, release, err := a.blob()
	if err != nil {
		return nil, err
	}
	release()
	section := io.NewSectionReader(blob, 0, size)

	sum := a.meta.Archive.Checksum
	if sum == "" {
		h := md5.New() //nolint:gosec // pinned by the archive format
		if _, err := io.Copy(h, io.NewSectionReader(section, 0, size)); err != nil {
			return nil, err
		}
		sum = hex.EncodeToString(h.Sum(nil))
	}
	metaSum := md5.Sum(metaData) //nolint:gosec // pinned by the archive format

	ident := a.Ident()
	return []Object{
		{
			Key:  path.Join(ident, DefaultMetaName),
			Size: int64(len(metaData)),
			MD5:  hex.EncodeToString(metaSum[:]),
			Body: bytes.NewReader(metaData),
		},
		{
			Key:  path.Join(ident, a.meta.Archive.Filename),
			Size: size,
			MD5:  sum,
			Body: io.NewSectionReader(section, 0, size),
		},
	}, nil
}
