package archive

import (
	"archive/tar"
	"crypto/md5" //nolint:gosec // MD5 is pinned by the archive format
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithReaderLogger sets the logger used for extraction steps.
func WithReaderLogger(logger *slog.Logger) ReaderOption {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReaderProgress sets a callback receiving extraction progress.
func WithReaderProgress(fn core.ProgressFunc) ReaderOption {
	return func(r *Reader) {
		r.progress = fn
	}
}

// Member is a loose container member.
type Member struct {
	Name string `json:"name" yaml:"name"`
	Size int64  `json:"size" yaml:"size"`
}

type member struct {
	Member
	offset int64  // data offset inside the container (tar form)
	path   string // file path (directory form)
}

// Reader reads an archive from a tar container or from the same layout
// exploded into a directory.
//
// Reader is safe for concurrent extraction in container form.
type Reader struct {
	path     string
	logger   *slog.Logger
	progress core.ProgressFunc

	file    *os.File // container, nil in directory form
	members map[string]member
	meta    Meta
}

// OpenReader opens the archive at path.
//
// The metadata is loaded eagerly. The blob is only accessed on extraction
// or verification.
func OpenReader(path string, opts ...ReaderOption) (*Reader, error) {
	r := &Reader{
		path:    path,
		logger:  slog.New(slog.DiscardHandler),
		members: make(map[string]member),
	}
	for _, opt := range opts {
		opt(r)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		err = r.indexDir()
	} else {
		err = r.indexContainer()
	}
	if err != nil {
		r.Close()
		return nil, err
	}

	if err := r.loadMeta(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) indexDir() error {
	entries, err := os.ReadDir(r.path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || fsutil.IsTmp(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return err
		}
		r.members[e.Name()] = member{
			Member: Member{Name: e.Name(), Size: info.Size()},
			path:   filepath.Join(r.path, e.Name()),
		}
	}
	return nil
}

// indexContainer records the data offset of every tar member so members
// can be read as sections of the container file.
func (r *Reader) indexContainer() error {
	f, err := os.Open(r.path)
	if err != nil {
		return err
	}
	r.file = f

	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: read container: %w", ErrInvalidMeta, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		off, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		r.members[hdr.Name] = member{
			Member: Member{Name: hdr.Name, Size: hdr.Size},
			offset: off,
		}
	}
}

func (r *Reader) loadMeta() error {
	rc, err := r.openMember(DefaultMetaName)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMeta, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, &r.meta); err != nil {
		if errors.Is(err, ErrInvalidMeta) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrInvalidMeta, err)
	}
	for _, e := range r.meta.Manifest {
		if e.NOffset > math.MaxInt64 || e.Size > math.MaxInt64 {
			return fmt.Errorf("%w: %v", ErrSizeOverflow, e.Path)
		}
	}
	return nil
}

func (r *Reader) openMember(name string) (io.ReadCloser, error) {
	m, ok := r.members[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMemberNotFound, name)
	}
	if r.file != nil {
		return io.NopCloser(io.NewSectionReader(r.file, m.offset, m.Size)), nil
	}
	return os.Open(m.path)
}

// ReadMember returns the content of a loose member.
func (r *Reader) ReadMember(name string) ([]byte, error) {
	if name == r.meta.Archive.Filename {
		return nil, fmt.Errorf("%w: %s is the blob", ErrMemberNotFound, name)
	}
	rc, err := r.openMember(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// blob returns the compressed blob and a release function.
func (r *Reader) blob() (io.ReaderAt, int64, func(), error) {
	name := r.meta.Archive.Filename
	m, ok := r.members[name]
	if !ok {
		return nil, 0, nil, fmt.Errorf("%w: blob %s", ErrMemberNotFound, name)
	}
	if r.file != nil {
		return io.NewSectionReader(r.file, m.offset, m.Size), m.Size, func() {}, nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		return nil, 0, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, nil, err
	}
	return f, info.Size(), func() { f.Close() }, nil
}

// Path returns the path the reader was opened from.
func (r *Reader) Path() string {
	return r.path
}

// Meta returns a copy of the archive metadata.
func (r *Reader) Meta() Meta {
	return r.meta.Clone()
}

// List returns the manifest entries in blob order.
func (r *Reader) List() []ManifestEntry {
	return r.meta.Clone().Manifest
}

// Members returns the loose members sorted by name. The blob is not a loose member.
func (r *Reader) Members() []Member {
	out := make([]Member, 0, len(r.members))
	for name, m := range r.members {
		if name == r.meta.Archive.Filename {
			continue
		}
		out = append(out, m.Member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Size returns the extracted size: loose members plus uncompressed files.
func (r *Reader) Size() uint64 {
	total := r.meta.UncompressedSize()
	for _, m := range r.Members() {
		total += uint64(m.Size) //nolint:gosec // member sizes are non-negative
	}
	return total
}

// CompressedSize returns the blob size recorded by the manifest.
func (r *Reader) CompressedSize() uint64 {
	return r.meta.CompressedSize()
}

// Extract decompresses one manifest file below dest and returns the written path.
func (r *Reader) Extract(path []string, dest string) (string, error) {
	rel, err := core.JoinPathParts(path...)
	if err != nil {
		return "", err
	}
	idx := slices.IndexFunc(r.meta.Manifest, func(e ManifestEntry) bool {
		return slices.Equal(e.Path, path)
	})
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrMemberNotFound, rel)
	}

	blob, size, release, err := r.blob()
	if err != nil {
		return "", err
	}
	defer release()

	target := filepath.Join(dest, rel)
	if err := r.extractEntry(blob, size, idx, target, nil); err != nil {
		return "", err
	}
	return target, nil
}

// ExtractAll extracts every manifest file in order, then copies the loose
// members verbatim into dest.
func (r *Reader) ExtractAll(dest string) error {
	if err := os.MkdirAll(dest, fsutil.DirPerm); err != nil {
		return err
	}

	if len(r.meta.Manifest) > 0 {
		blob, size, release, err := r.blob()
		if err != nil {
			return err
		}
		defer release()

		st := &extractState{total: r.meta.UncompressedSize(), files: len(r.meta.Manifest)}
		for i, e := range r.meta.Manifest {
			rel, err := core.JoinPathParts(e.Path...)
			if err != nil {
				return err
			}
			r.logger.Debug("extract", slog.String("path", rel))
			if err := r.extractEntry(blob, size, i, filepath.Join(dest, rel), st); err != nil {
				return err
			}
			st.filesDone++
		}
	}

	for _, m := range r.Members() {
		if !filepath.IsLocal(m.Name) {
			return fmt.Errorf("%w: member %q", ErrInvalidPath, m.Name)
		}
		if err := r.copyMember(m.Name, filepath.Join(dest, filepath.FromSlash(m.Name))); err != nil {
			return fmt.Errorf("copy member %s: %w", m.Name, err)
		}
	}
	return nil
}

func (r *Reader) copyMember(name, target string) error {
	rc, err := r.openMember(name)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := os.MkdirAll(filepath.Dir(target), fsutil.DirPerm); err != nil {
		return err
	}
	return fsutil.CopyFile(target, rc)
}

type extractState struct {
	done      uint64
	total     uint64
	filesDone int
	files     int
}

// extractEntry decompresses manifest entry idx into target.
func (r *Reader) extractEntry(blob io.ReaderAt, blobSize int64, idx int, target string, st *extractState) (err error) {
	e := r.meta.Manifest[idx]
	var start uint64
	if idx > 0 {
		start = r.meta.Manifest[idx-1].NOffset
	}
	if e.NOffset < start || e.NOffset > uint64(blobSize) { //nolint:gosec // blob sizes are non-negative
		return fmt.Errorf("%w: %s: compressed span [%d, %d) outside blob of %d bytes",
			ErrChecksumMismatch, filepath.Join(e.Path...), start, e.NOffset, blobSize)
	}
	h, err := newHash(e.Checksum.Algorithm)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), fsutil.DirPerm); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, fsutil.FilePerm) //nolint:gosec // target is joined from validated parts
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = cerr
		}
		if err != nil {
			os.Remove(target)
		}
	}()

	section := io.NewSectionReader(blob, int64(start), int64(e.NOffset-start)) //nolint:gosec // bounds checked at load
	zr, err := gzip.NewReader(section)
	if err != nil {
		return decompressionError(e, err)
	}
	defer zr.Close()
	zr.Multistream(false)

	src := &hashingReader{r: io.LimitReader(zr, int64(e.Size)), h: h} //nolint:gosec // bounds checked at load
	buf := make([]byte, ChunkSize)
	var written uint64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return werr
			}
			written += uint64(n) //nolint:gosec // n is non-negative
			if st != nil && r.progress != nil {
				r.progress(core.ProgressEvent{
					Stage:      core.StageExtracting,
					Path:       filepath.Join(e.Path...),
					BytesDone:  st.done + written,
					BytesTotal: st.total,
					FilesDone:  st.filesDone,
					FilesTotal: st.files,
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return decompressionError(e, rerr)
		}
	}
	if st != nil {
		st.done += written
	}

	if written != e.Size {
		return fmt.Errorf("%w: %s: expected %d bytes, got %d",
			ErrChecksumMismatch, filepath.Join(e.Path...), e.Size, written)
	}
	if err := ensureNoExtra(zr); err != nil {
		return decompressionError(e, err)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != e.Checksum.Hex {
		return fmt.Errorf("%w: %s: expected %s, got %s",
			ErrChecksumMismatch, filepath.Join(e.Path...), e.Checksum.Hex, got)
	}
	return nil
}

func decompressionError(e ManifestEntry, err error) error {
	return fmt.Errorf("%w: %w: %s: %w", ErrChecksumMismatch, ErrDecompression, filepath.Join(e.Path...), err)
}

// Verify checks the whole blob against the recorded MD5 checksum and, when
// present, the canonical digest.
func (r *Reader) Verify() error {
	blob, size, release, err := r.blob()
	if err != nil {
		return err
	}
	defer release()

	h := md5.New() //nolint:gosec // pinned by the archive format
	writers := []io.Writer{h}
	var verifier digest.Verifier
	if r.meta.Digest != "" {
		if !r.meta.Digest.Algorithm().Available() {
			return fmt.Errorf("%w: %s", ErrUnsupportedChecksum, r.meta.Digest.Algorithm())
		}
		verifier = r.meta.Digest.Verifier()
		writers = append(writers, verifier)
	}
	if _, err := io.Copy(io.MultiWriter(writers...), io.NewSectionReader(blob, 0, size)); err != nil {
		return err
	}

	if want := r.meta.Archive.Checksum; want != "" {
		if got := hex.EncodeToString(h.Sum(nil)); got != want {
			return fmt.Errorf("%w: blob: expected %s, got %s", ErrChecksumMismatch, want, got)
		}
	}
	if verifier != nil && !verifier.Verified() {
		return fmt.Errorf("%w: blob digest %s", ErrChecksumMismatch, r.meta.Digest)
	}
	return nil
}

// Close releases the container file.
func (r *Reader) Close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
