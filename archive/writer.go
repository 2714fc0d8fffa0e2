package archive

import (
	"archive/tar"
	"crypto/md5" //nolint:gosec // MD5 is pinned by the archive format
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	digest "github.com/opencontainers/go-digest"

	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// DefaultCompressionLevel is the gzip level used for every file.
const DefaultCompressionLevel = gzip.BestCompression

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithBasePath sets the directory manifest paths are made relative to.
// Without a base path only relative file paths can be added.
func WithBasePath(path string) WriterOption {
	return func(w *Writer) {
		w.basePath = path
	}
}

// WithCompressionLevel sets the gzip compression level.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithLogger sets the logger used for build steps.
func WithLogger(logger *slog.Logger) WriterOption {
	return func(w *Writer) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithProgress sets a callback receiving compression progress.
func WithProgress(fn core.ProgressFunc) WriterOption {
	return func(w *Writer) {
		w.progress = fn
	}
}

// Writer builds an archive file.
//
// Files are compressed into a temporary blob as they are added; Close seals
// the blob and the metadata into the container at the target path. A Writer
// is single use and not safe for concurrent use.
type Writer struct {
	path     string
	basePath string
	level    int
	logger   *slog.Logger
	progress core.ProgressFunc

	tmpDir string
	blob   *os.File
	offset uint64
	meta   Meta
	buf    []byte
	closed bool
}

// NewWriter creates a Writer producing the archive at path.
func NewWriter(path string, opts ...WriterOption) (*Writer, error) {
	w := &Writer{
		path:   path,
		level:  DefaultCompressionLevel,
		logger: slog.New(slog.DiscardHandler),
		buf:    make([]byte, ChunkSize),
	}
	for _, opt := range opts {
		opt(w)
	}

	tmpDir, err := os.MkdirTemp("", "parcel-build-*")
	if err != nil {
		return nil, fmt.Errorf("create build directory: %w", err)
	}
	blob, err := os.Create(filepath.Join(tmpDir, DefaultBlobName))
	if err != nil {
		os.RemoveAll(tmpDir)
		return nil, fmt.Errorf("create blob: %w", err)
	}
	w.tmpDir = tmpDir
	w.blob = blob
	return w, nil
}

// Path returns the target archive path.
func (w *Writer) Path() string {
	return w.path
}

// SetPackage sets the package descriptor stored in the metadata.
func (w *Writer) SetPackage(d core.Descriptor) {
	w.meta.Package = d
}

// AddJSON stores v as an additional top-level metadata member.
// The reserved members manifest, archive, digest and etag cannot be set;
// "package" must be a descriptor and is equivalent to SetPackage.
func (w *Writer) AddJSON(name string, v any) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.logger.Info("adding", slog.String("member", name))
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if name == "package" {
		var d core.Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%w: package: %v", ErrInvalidMeta, err)
		}
		w.meta.Package = d
		return nil
	}
	if _, reserved := reservedMembers[name]; reserved {
		return fmt.Errorf("%w: %s is reserved", ErrInvalidMeta, name)
	}
	if w.meta.Extra == nil {
		w.meta.Extra = make(map[string]json.RawMessage)
	}
	w.meta.Extra[name] = data
	return nil
}

// Add compresses the file at path into the blob and records it in the manifest.
//
// Absolute paths require a base path. The manifest path is the file path
// relative to the base path (or the path itself without one) and must not
// escape it.
func (w *Writer) Add(path string) error {
	if w.closed {
		return ErrWriterClosed
	}
	w.logger.Info("adding", slog.String("path", path))

	parts, err := w.manifestPath(path)
	if err != nil {
		return err
	}

	f, err := os.Open(path) //nolint:gosec // caller chooses which files to archive
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: not a regular file: %s", ErrInvalidPath, path)
	}

	entry, err := w.writeFile(f, parts, info.Size())
	if err != nil {
		// Drop the partial gzip member so later offsets stay consistent.
		if terr := w.rewind(); terr != nil {
			return errors.Join(fmt.Errorf("write %s: %w", path, err), terr)
		}
		return fmt.Errorf("write %s: %w", path, err)
	}
	w.meta.Manifest = append(w.meta.Manifest, entry)
	return nil
}

// AddPath walks dir recursively and adds every regular file.
// Symbolic links are not followed.
func (w *Writer) AddPath(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return w.Add(path)
	})
}

func (w *Writer) manifestPath(path string) ([]string, error) {
	if w.basePath == "" {
		if filepath.IsAbs(path) {
			return nil, fmt.Errorf("%w: cannot handle absolute paths without base path: %s", ErrInvalidPath, path)
		}
		parts, err := core.SplitPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
		}
		return parts, nil
	}

	absBase, err := filepath.Abs(w.basePath)
	if err != nil {
		return nil, err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	rel, err := filepath.Rel(absBase, absPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	parts, err := core.SplitPath(rel)
	if err != nil {
		return nil, fmt.Errorf("%w: %s is not below %s: %w", ErrInvalidPath, path, w.basePath, err)
	}
	return parts, nil
}

// writeFile streams one file through the hash and gzip pipeline into the blob.
func (w *Writer) writeFile(f *os.File, parts []string, expectedSize int64) (ManifestEntry, error) {
	h := md5.New() //nolint:gosec // pinned by the archive format
	cw := &countingWriter{w: w.blob}
	gz, err := gzip.NewWriterLevel(cw, w.level)
	if err != nil {
		return ManifestEntry{}, err
	}

	var read uint64
	name := filepath.Join(parts...)
	for {
		n, rerr := f.Read(w.buf)
		if n > 0 {
			chunk := w.buf[:n]
			if _, err := gz.Write(chunk); err != nil {
				gz.Close()
				return ManifestEntry{}, err
			}
			_, _ = h.Write(chunk) //nolint:errcheck // hash writes never fail
			read += uint64(n)     //nolint:gosec // n is non-negative
			if w.progress != nil {
				w.progress(core.ProgressEvent{
					Stage:      core.StageCompressing,
					Path:       name,
					BytesDone:  read,
					BytesTotal: uint64(expectedSize), //nolint:gosec // sizes from Stat are non-negative
					FilesDone:  len(w.meta.Manifest),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			gz.Close()
			return ManifestEntry{}, rerr
		}
	}
	if err := gz.Close(); err != nil {
		return ManifestEntry{}, fmt.Errorf("close gzip member: %w", err)
	}
	if read != uint64(expectedSize) { //nolint:gosec // sizes from Stat are non-negative
		return ManifestEntry{}, fmt.Errorf("file size changed during archive creation: expected %d, got %d", expectedSize, read)
	}

	w.offset += cw.n
	return ManifestEntry{
		Path:     parts,
		NOffset:  w.offset,
		Size:     read,
		Checksum: Checksum{Algorithm: ChecksumAlgorithm, Hex: hex.EncodeToString(h.Sum(nil))},
	}, nil
}

// rewind truncates the blob to the end of the last complete member.
func (w *Writer) rewind() error {
	off := int64(w.offset) //nolint:gosec // offsets are bounded by the blob file size
	if err := w.blob.Truncate(off); err != nil {
		return err
	}
	_, err := w.blob.Seek(off, io.SeekStart)
	return err
}

// Close seals the archive.
//
// With no files added it returns ErrEmptyArchive and writes nothing. The
// temporary build directory is removed in every case. The container is
// written to a temporary sibling of the target and renamed into place.
func (w *Writer) Close() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	defer w.cleanup()

	if err := w.blob.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	if len(w.meta.Manifest) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyArchive, w.path)
	}

	blobPath := filepath.Join(w.tmpDir, DefaultBlobName)
	sum, dgst, err := blobDigests(blobPath)
	if err != nil {
		return fmt.Errorf("checksum blob: %w", err)
	}
	w.meta.Archive = BlobRef{Filename: DefaultBlobName, Checksum: sum}
	w.meta.Digest = dgst

	metaData, err := fsutil.MarshalJSON(w.meta)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := w.writeContainer(blobPath, metaData); err != nil {
		return fmt.Errorf("write archive %s: %w", w.path, err)
	}
	w.logger.Info("archive sealed",
		slog.String("path", w.path),
		slog.Int("files", len(w.meta.Manifest)),
		slog.String("digest", dgst.String()))
	return nil
}

// Abort discards the writer without producing an archive.
func (w *Writer) Abort() error {
	if w.closed {
		return ErrWriterClosed
	}
	w.closed = true
	defer w.cleanup()
	return w.blob.Close()
}

func (w *Writer) cleanup() {
	if err := os.RemoveAll(w.tmpDir); err != nil {
		w.logger.Warn("remove build directory", slog.String("path", w.tmpDir), slog.Any("error", err))
	}
}

func (w *Writer) writeContainer(blobPath string, metaData []byte) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, fsutil.DirPerm); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".parcel-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if err := writeTar(tmp, blobPath, metaData); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Chmod(tmpPath, fsutil.FilePerm); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, w.path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func writeTar(dst io.Writer, blobPath string, metaData []byte) error {
	blob, err := os.Open(blobPath) //nolint:gosec // path inside our own build directory
	if err != nil {
		return err
	}
	defer blob.Close()
	info, err := blob.Stat()
	if err != nil {
		return err
	}

	tw := tar.NewWriter(dst)
	if err := tw.WriteHeader(&tar.Header{
		Name:     DefaultBlobName,
		Size:     info.Size(),
		Mode:     fsutil.FilePerm,
		ModTime:  info.ModTime(),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	if _, err := io.Copy(tw, blob); err != nil {
		return err
	}
	if err := tw.WriteHeader(&tar.Header{
		Name:     DefaultMetaName,
		Size:     int64(len(metaData)),
		Mode:     fsutil.FilePerm,
		ModTime:  time.Now(),
		Typeflag: tar.TypeReg,
	}); err != nil {
		return err
	}
	if _, err := tw.Write(metaData); err != nil {
		return err
	}
	return tw.Close()
}

// blobDigests computes the MD5 hex digest and the canonical digest of a file.
func blobDigests(path string) (string, digest.Digest, error) {
	f, err := os.Open(path) //nolint:gosec // path inside our own build directory
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h := md5.New() //nolint:gosec // pinned by the archive format
	digester := digest.Canonical.Digester()
	if _, err := io.Copy(io.MultiWriter(h, digester.Hash()), f); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(h.Sum(nil)), digester.Digest(), nil
}
