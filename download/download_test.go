package download

import (
	"bytes"
	"context"
	"crypto/md5" //nolint:gosec // repository checksums are MD5
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/core"
)

const checksumHeader = "X-Amz-Meta-Md5"

func testContent() []byte {
	return bytes.Repeat([]byte("0123456789abcdef"), 5000)
}

func md5Hex(data []byte) string {
	sum := md5.Sum(data) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])
}

type recorder struct {
	mu       sync.Mutex
	requests []string
	ranges   []string
}

func (r *recorder) record(req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, req.Method)
	r.ranges = append(r.ranges, req.Header.Get("Range"))
}

// serveContent serves content with range support and a checksum header.
func serveContent(t *testing.T, content []byte, checksum string) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.record(req)
		if checksum != "" {
			w.Header().Set(checksumHeader, strconv.Quote(checksum))
		}
		http.ServeContent(w, req, "archive.gz", time.Time{}, bytes.NewReader(content))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func newDownloader(opts ...Option) *Downloader {
	return New(http.DefaultClient, append([]Option{WithChecksumHeader(checksumHeader)}, opts...)...)
}

func TestDownloadFull(t *testing.T) {
	content := testContent()
	srv, rec := serveContent(t, content, md5Hex(content))

	var last core.ProgressEvent
	events := 0
	d := newDownloader(WithProgress(func(e core.ProgressEvent) {
		last = e
		events++
	}))

	target := filepath.Join(t.TempDir(), "out.gz")
	got, err := d.Download(context.Background(), srv.URL+"/pkg/archive.gz", target)
	require.NoError(t, err)
	assert.Equal(t, target, got)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, data)

	assert.Equal(t, []string{""}, rec.ranges)
	assert.Positive(t, events)
	assert.Equal(t, core.StageDownloading, last.Stage)
	assert.Equal(t, uint64(len(content)), last.BytesDone)
	assert.Equal(t, uint64(len(content)), last.BytesTotal)
	assert.False(t, last.Resumed)
}

func TestDownloadIntoDirectory(t *testing.T) {
	content := testContent()
	srv, _ := serveContent(t, content, md5Hex(content))

	dir := t.TempDir()
	got, err := newDownloader().Download(context.Background(), srv.URL+"/pkg/archive.gz", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive.gz"), got)
}

func TestDownloadResume(t *testing.T) {
	content := testContent()
	srv, rec := serveContent(t, content, md5Hex(content))

	target := filepath.Join(t.TempDir(), "archive.gz")
	require.NoError(t, os.WriteFile(target, content[:20000], 0o644))

	var last core.ProgressEvent
	d := newDownloader(WithProgress(func(e core.ProgressEvent) { last = e }))
	_, err := d.Download(context.Background(), srv.URL+"/archive.gz", target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, data)
	assert.Equal(t, []string{"bytes=20000-"}, rec.ranges)
	assert.True(t, last.Resumed)
	assert.Equal(t, uint64(len(content)), last.BytesDone)
}

func TestDownloadResumeDetectsCorruptPrefix(t *testing.T) {
	content := testContent()
	srv, _ := serveContent(t, content, md5Hex(content))

	target := filepath.Join(t.TempDir(), "archive.gz")
	prefix := bytes.Repeat([]byte{'x'}, 20000)
	require.NoError(t, os.WriteFile(target, prefix, 0o644))

	_, err := newDownloader().Download(context.Background(), srv.URL+"/archive.gz", target)
	require.ErrorIs(t, err, ErrInvalidChecksum)
}

func TestDownloadAlreadyComplete(t *testing.T) {
	content := testContent()
	srv, rec := serveContent(t, content, md5Hex(content))

	target := filepath.Join(t.TempDir(), "archive.gz")
	require.NoError(t, os.WriteFile(target, content, 0o644))

	_, err := newDownloader().Download(context.Background(), srv.URL+"/archive.gz", target)
	require.NoError(t, err)
	assert.Equal(t, []string{http.MethodGet, http.MethodHead}, rec.requests)

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloadServerIgnoresRange(t *testing.T) {
	content := testContent()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(checksumHeader, md5Hex(content))
		w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		_, _ = w.Write(content) //nolint:errcheck // test server
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "archive.gz")
	require.NoError(t, os.WriteFile(target, []byte("stale partial data"), 0o644))

	_, err := newDownloader().Download(context.Background(), srv.URL+"/archive.gz", target)
	require.NoError(t, err)
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestDownloadChecksumErrors(t *testing.T) {
	content := testContent()

	t.Run("mismatch", func(t *testing.T) {
		srv, _ := serveContent(t, content, "0123456789abcdef0123456789abcdef")
		_, err := newDownloader().Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
		require.ErrorIs(t, err, ErrInvalidChecksum)
		var checksumErr *InvalidChecksumError
		require.ErrorAs(t, err, &checksumErr)
		assert.Equal(t, md5Hex(content), checksumErr.Actual)
	})

	t.Run("missing header", func(t *testing.T) {
		srv, _ := serveContent(t, content, "")
		_, err := newDownloader().Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
		require.ErrorIs(t, err, ErrMissingChecksumHeader)
	})

	t.Run("no verification without header option", func(t *testing.T) {
		srv, _ := serveContent(t, content, "")
		_, err := New(nil).Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
		require.NoError(t, err)
	})
}

func TestDownloadUnsupportedStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := newDownloader().Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
	var statusErr *UnsupportedStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
}

func TestDownloadInvalidContentRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Range", "bytes 5-9/100")
		w.Header().Set("Content-Length", "5")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("01234")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	target := filepath.Join(t.TempDir(), "a")
	require.NoError(t, os.WriteFile(target, []byte("0123456789"), 0o644))
	_, err := newDownloader().Download(context.Background(), srv.URL+"/a", target)
	require.ErrorIs(t, err, ErrInvalidContentRange)
}

func TestDownloadUnknownContentLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("chunk")) //nolint:errcheck // test server
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("chunk")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	_, err := newDownloader().Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
	require.ErrorIs(t, err, ErrUnknownContentLength)
}

func TestDownloadIncomplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("only a few bytes")) //nolint:errcheck // test server
	}))
	defer srv.Close()

	_, err := newDownloader().Download(context.Background(), srv.URL+"/a", filepath.Join(t.TempDir(), "a"))
	require.ErrorIs(t, err, ErrIncompleteDownload)
}

func TestParseContentRange(t *testing.T) {
	start, end, size, err := parseContentRange("bytes 10-19/20")
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 19, 20}, []int64{start, end, size})

	for _, bad := range []string{"", "bytes */20", "bytes 10-19", "items 0-1/2", "bytes 5-1/10", "bytes 0-10/10"} {
		_, _, _, err := parseContentRange(bad)
		assert.ErrorIs(t, err, ErrInvalidContentRange, bad)
	}
}
