// Package download implements resumable HTTP downloads with checksum
// verification.
//
// A download appends to whatever is already present at the target path, so
// an interrupted transfer is continued by calling Download again with the
// same arguments. Existing bytes are re-hashed so the checksum always covers
// the complete file.
package download

import (
	"context"
	"crypto/md5" //nolint:gosec // repository checksums are MD5
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// ChunkSize is the read size used when streaming response bodies.
const ChunkSize = 16 * 1024

// Doer sends HTTP requests. *http.Client and *session.Session satisfy it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Option configures a Downloader.
type Option func(*Downloader)

// WithChecksumHeader verifies downloads against the hex digest carried by
// the named response header.
func WithChecksumHeader(name string) Option {
	return func(d *Downloader) {
		d.checksumHeader = name
	}
}

// WithHash sets the hash used for checksum verification. Defaults to MD5.
func WithHash(fn func() hash.Hash) Option {
	return func(d *Downloader) {
		if fn != nil {
			d.newHash = fn
		}
	}
}

// WithProgress sets a callback receiving download progress.
func WithProgress(fn core.ProgressFunc) Option {
	return func(d *Downloader) {
		d.progress = fn
	}
}

// WithLogger sets the logger used for download steps.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Downloader) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithSamplePeriod sets the transfer rate sample period and the estimate
// cooldown. Defaults to one second.
func WithSamplePeriod(period time.Duration) Option {
	return func(d *Downloader) {
		d.period = period
	}
}

// Downloader fetches files over HTTP with resume support.
type Downloader struct {
	client         Doer
	checksumHeader string
	newHash        func() hash.Hash
	progress       core.ProgressFunc
	logger         *slog.Logger
	period         time.Duration
}

// New creates a Downloader using client for requests.
func New(client Doer, opts ...Option) *Downloader {
	d := &Downloader{
		client:  client,
		newHash: md5.New,
		logger:  slog.New(slog.DiscardHandler),
		period:  time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = http.DefaultClient
	}
	return d
}

// Download fetches rawURL into dest and returns the written path.
//
// When dest is a directory the last URL path segment is used as the file
// name. A partial file at the target is resumed with a range request.
func (d *Downloader) Download(ctx context.Context, rawURL, dest string) (string, error) {
	target, err := targetPath(rawURL, dest)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(target), fsutil.DirPerm); err != nil {
		return "", err
	}

	f, err := os.OpenFile(target, os.O_CREATE|os.O_RDWR, fsutil.FilePerm) //nolint:gosec // caller chooses the target
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := d.newHash()
	offset, err := io.Copy(h, f)
	if err != nil {
		return "", fmt.Errorf("hash partial download: %w", err)
	}

	resp, err := d.get(ctx, rawURL, offset)
	if err != nil {
		return "", err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best-effort drain for connection reuse
		_ = resp.Body.Close()
	}()

	var header http.Header
	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		d.logger.Info("download already complete", slog.String("path", target))
		if d.checksumHeader == "" {
			return target, nil
		}
		header, err = d.head(ctx, rawURL)
		if err != nil {
			return "", err
		}
	case http.StatusOK:
		if offset > 0 {
			d.logger.Info("server ignored range, restarting download", slog.String("url", rawURL))
			if err := restart(f, h); err != nil {
				return "", err
			}
			offset = 0
		}
		header = resp.Header
		if err := d.copyBody(f, h, resp, target, offset); err != nil {
			return "", err
		}
	case http.StatusPartialContent:
		if err := checkContentRange(resp, offset); err != nil {
			return "", err
		}
		d.logger.Info("continue downloading", slog.String("url", rawURL), slog.Int64("offset", offset))
		header = resp.Header
		if err := d.copyBody(f, h, resp, target, offset); err != nil {
			return "", err
		}
	default:
		return "", &UnsupportedStatusError{Code: resp.StatusCode}
	}

	if err := f.Sync(); err != nil {
		return "", err
	}
	if d.checksumHeader == "" {
		return target, nil
	}
	expected := unquote(header.Get(d.checksumHeader))
	if expected == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingChecksumHeader, d.checksumHeader)
	}
	actual := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(actual, expected) {
		return "", &InvalidChecksumError{Expected: expected, Actual: actual}
	}
	d.logger.Info("checksum ok", slog.String("path", filepath.Base(target)))
	return target, nil
}

func (d *Downloader) get(ctx context.Context, rawURL string, offset int64) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Encoding", "identity")
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	return d.client.Do(req)
}

func (d *Downloader) head(ctx context.Context, rawURL string) (http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &UnsupportedStatusError{Code: resp.StatusCode}
	}
	return resp.Header, nil
}

// copyBody appends the response body to f, reporting progress per chunk.
func (d *Downloader) copyBody(f *os.File, h hash.Hash, resp *http.Response, target string, offset int64) error {
	if resp.ContentLength < 0 {
		return ErrUnknownContentLength
	}
	total := uint64(offset + resp.ContentLength) //nolint:gosec // both operands are non-negative
	done := uint64(offset)                       //nolint:gosec // offsets are non-negative

	rate := NewRateSampler(d.period)
	eta := NewTimeEstimator(d.period)
	buf := make([]byte, ChunkSize)
	w := io.MultiWriter(f, h)
	name := filepath.Base(target)
	for {
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			done += uint64(n) //nolint:gosec // n is non-negative
			rate.Add(n)
			eta.Update(done-uint64(offset), total-uint64(offset)) //nolint:gosec // offsets are non-negative
			if d.progress != nil {
				r, _ := rate.Rate()
				left, _ := eta.Remaining()
				d.progress(core.ProgressEvent{
					Stage:      core.StageDownloading,
					Path:       name,
					BytesDone:  done,
					BytesTotal: total,
					Rate:       r,
					Remaining:  left,
					Resumed:    offset > 0,
				})
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			if errors.Is(rerr, io.ErrUnexpectedEOF) {
				return fmt.Errorf("%w: %d of %d bytes", ErrIncompleteDownload, done, total)
			}
			return rerr
		}
	}
	if done != total {
		return fmt.Errorf("%w: %d of %d bytes", ErrIncompleteDownload, done, total)
	}
	return nil
}

// restart truncates f and resets h to download from scratch.
func restart(f *os.File, h hash.Hash) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h.Reset()
	return nil
}

// checkContentRange validates a 206 response against the requested offset.
func checkContentRange(resp *http.Response, offset int64) error {
	value := resp.Header.Get("Content-Range")
	start, end, size, err := parseContentRange(value)
	if err != nil {
		return err
	}
	if resp.ContentLength < 0 {
		return ErrUnknownContentLength
	}
	if start != offset || size != offset+resp.ContentLength || end+1-start != resp.ContentLength {
		return fmt.Errorf("%w: %q for offset %d and length %d", ErrInvalidContentRange, value, offset, resp.ContentLength)
	}
	return nil
}

// parseContentRange parses "bytes start-end/size".
func parseContentRange(value string) (start, end, size int64, err error) {
	invalid := fmt.Errorf("%w: %q", ErrInvalidContentRange, value)
	value = strings.TrimSpace(value)
	rest, ok := strings.CutPrefix(value, "bytes ")
	if !ok {
		return 0, 0, 0, invalid
	}
	span, total, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, 0, 0, invalid
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return 0, 0, 0, invalid
	}
	if start, err = strconv.ParseInt(first, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if end, err = strconv.ParseInt(last, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if size, err = strconv.ParseInt(total, 10, 64); err != nil {
		return 0, 0, 0, invalid
	}
	if start < 0 || end < start || size <= end {
		return 0, 0, 0, invalid
	}
	return start, end, size, nil
}

// targetPath resolves dest, appending the URL's last path segment when dest
// is a directory.
func targetPath(rawURL, dest string) (string, error) {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		u, err := url.Parse(rawURL)
		if err != nil {
			return "", err
		}
		base := path.Base(u.Path)
		if base == "/" || base == "." {
			return "", fmt.Errorf("parcel: no file name in url %s", rawURL)
		}
		dest = filepath.Join(dest, base)
	}
	return filepath.Abs(dest)
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), `"`)
}
