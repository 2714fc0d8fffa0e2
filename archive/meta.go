package archive

import (
	"crypto/md5" //nolint:gosec // MD5 is pinned by the archive format
	"crypto/sha1" //nolint:gosec // accepted for manifests written by other tools
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"hash"
	"maps"

	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/parcel/core"
)

// Default member names and format constants.
const (
	// DefaultBlobName is the container member holding the compressed blob.
	DefaultBlobName = "archive.gz"

	// DefaultMetaName is the container member holding the metadata document.
	DefaultMetaName = "meta.json"

	// ChecksumAlgorithm is the digest used for files and blobs.
	ChecksumAlgorithm = "md5"

	// ChunkSize is the buffer size used when streaming file content.
	ChunkSize = 16 * 1024
)

// Checksum is an (algorithm, hex digest) pair, encoded as a two element array.
type Checksum struct {
	Algorithm string
	Hex       string
}

// MarshalJSON implements json.Marshaler.
func (c Checksum) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{c.Algorithm, c.Hex})
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Checksum) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: checksum: %v", ErrInvalidMeta, err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("%w: checksum must have 2 elements, got %d", ErrInvalidMeta, len(pair))
	}
	c.Algorithm, c.Hex = pair[0], pair[1]
	return nil
}

// newHash returns a hash for the named algorithm.
func newHash(algorithm string) (hash.Hash, error) {
	switch algorithm {
	case "md5":
		return md5.New(), nil //nolint:gosec // pinned by the archive format
	case "sha1":
		return sha1.New(), nil //nolint:gosec // see import
	case "sha256":
		return sha256.New(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedChecksum, algorithm)
	}
}

// ManifestEntry describes one file of the blob.
type ManifestEntry struct {
	// Path is the file path relative to the package root, one element per segment.
	Path []string `json:"path"`

	// NOffset is the blob offset just after this file's gzip member.
	NOffset uint64 `json:"noffset"`

	// Size is the uncompressed size in bytes.
	Size uint64 `json:"size"`

	// Checksum is the digest of the uncompressed content.
	Checksum Checksum `json:"checksum"`
}

// BlobRef points at the compressed blob. It is encoded as
// [filename, checksum] or, for cache entries, [filename, checksum, url].
type BlobRef struct {
	Filename string
	Checksum string
	URL      string
}

// MarshalJSON implements json.Marshaler. An empty checksum encodes as null.
func (b BlobRef) MarshalJSON() ([]byte, error) {
	out := []any{b.Filename, nil}
	if b.Checksum != "" {
		out[1] = b.Checksum
	}
	if b.URL != "" {
		out = append(out, b.URL)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *BlobRef) UnmarshalJSON(data []byte) error {
	var parts []*string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: archive: %v", ErrInvalidMeta, err)
	}
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("%w: archive must have 2 or 3 elements, got %d", ErrInvalidMeta, len(parts))
	}
	if parts[0] == nil || *parts[0] == "" {
		return fmt.Errorf("%w: archive filename is empty", ErrInvalidMeta)
	}
	*b = BlobRef{Filename: *parts[0]}
	if parts[1] != nil {
		b.Checksum = *parts[1]
	}
	if len(parts) == 3 && parts[2] != nil {
		b.URL = *parts[2]
	}
	return nil
}

// Meta is the meta.json document shared by archives, cache entries, and
// installed packages.
type Meta struct {
	Manifest []ManifestEntry
	Package  core.Descriptor
	Archive  BlobRef

	// Digest is the canonical content digest of the blob. Optional.
	Digest digest.Digest

	// ETag is the repository validation token of a cache entry.
	ETag string

	// Extra holds additional top-level members, keyed by name.
	Extra map[string]json.RawMessage
}

var reservedMembers = map[string]struct{}{
	"manifest": {},
	"package":  {},
	"archive":  {},
	"digest":   {},
	"etag":     {},
}

// MarshalJSON implements json.Marshaler. Members are emitted in sorted order.
func (m Meta) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	manifest := m.Manifest
	if manifest == nil {
		manifest = []ManifestEntry{}
	}
	out["manifest"] = manifest
	out["package"] = m.Package
	out["archive"] = m.Archive
	if m.Digest != "" {
		out["digest"] = m.Digest
	}
	if m.ETag != "" {
		out["etag"] = m.ETag
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Meta) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMeta, err)
	}
	var out Meta
	if v, ok := raw["manifest"]; ok {
		if err := json.Unmarshal(v, &out.Manifest); err != nil {
			return fmt.Errorf("%w: manifest: %w", ErrInvalidMeta, err)
		}
	}
	if v, ok := raw["package"]; ok {
		if err := json.Unmarshal(v, &out.Package); err != nil {
			return fmt.Errorf("%w: package: %v", ErrInvalidMeta, err)
		}
	}
	v, ok := raw["archive"]
	if !ok {
		return fmt.Errorf("%w: missing archive member", ErrInvalidMeta)
	}
	if err := json.Unmarshal(v, &out.Archive); err != nil {
		return err
	}
	if v, ok := raw["digest"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &out.Digest); err != nil {
			return fmt.Errorf("%w: digest: %v", ErrInvalidMeta, err)
		}
		if err := out.Digest.Validate(); err != nil {
			return fmt.Errorf("%w: digest: %v", ErrInvalidMeta, err)
		}
	}
	if v, ok := raw["etag"]; ok && string(v) != "null" {
		if err := json.Unmarshal(v, &out.ETag); err != nil {
			return fmt.Errorf("%w: etag: %v", ErrInvalidMeta, err)
		}
	}
	for k, v := range raw {
		if _, reserved := reservedMembers[k]; reserved {
			continue
		}
		if out.Extra == nil {
			out.Extra = make(map[string]json.RawMessage)
		}
		out.Extra[k] = v
	}
	*m = out
	return nil
}

// Clone returns a deep copy of m.
func (m Meta) Clone() Meta {
	out := m
	out.Manifest = make([]ManifestEntry, len(m.Manifest))
	for i, e := range m.Manifest {
		e.Path = append([]string(nil), e.Path...)
		out.Manifest[i] = e
	}
	out.Extra = maps.Clone(m.Extra)
	out.Package.Compatibility = maps.Clone(m.Package.Compatibility)
	return out
}

// CompressedSize returns the size of the blob, which is the offset recorded
// by the last manifest entry.
func (m Meta) CompressedSize() uint64 {
	if len(m.Manifest) == 0 {
		return 0
	}
	return m.Manifest[len(m.Manifest)-1].NOffset
}

// UncompressedSize returns the sum of all file sizes.
func (m Meta) UncompressedSize() uint64 {
	var total uint64
	for _, e := range m.Manifest {
		total += e.Size
	}
	return total
}
