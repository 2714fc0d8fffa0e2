package testutil

import (
	"bytes"
	"crypto/md5" //nolint:gosec // repository checksums are MD5
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/archive"
)

// ChecksumHeader carries the MD5 of object bodies.
const ChecksumHeader = "X-Amz-Meta-Md5"

type published struct {
	meta []byte
	blob []byte
	etag string
}

// Repository is a fake package repository backed by an httptest.Server.
//
// It serves the index listing, package metadata with ETags, archive bodies
// with range support, the upload coordinates, reindexing, and an object
// store under /objects/.
type Repository struct {
	Server *httptest.Server

	mu        sync.Mutex
	packages  map[string]*published
	metaETag  func(ident, etag string) string
	quoted    bool
	objects   map[string][]byte
	headers   map[string]http.Header
	reindexed int
	requests  []string
}

// NewRepository starts a repository that is shut down with the test.
func NewRepository(tb testing.TB) *Repository {
	tb.Helper()
	r := &Repository{
		packages: make(map[string]*published),
		objects:  make(map[string][]byte),
		headers:  make(map[string]http.Header),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /models", r.handleModels)
	mux.HandleFunc("GET /upload", r.handleUpload)
	mux.HandleFunc("PUT /reindex", r.handleReindex)
	mux.HandleFunc("PUT /objects/{key...}", r.handlePutObject)
	mux.HandleFunc("GET /{ident}/{member}", r.handleMember)

	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.requests = append(r.requests, req.Method+" "+req.URL.Path)
		r.mu.Unlock()
		mux.ServeHTTP(w, req)
	}))
	tb.Cleanup(r.Server.Close)
	return r
}

// URL returns the repository base URL.
func (r *Repository) URL() string {
	return r.Server.URL
}

// Publish makes the archive at path available and returns its identifier.
func (r *Repository) Publish(tb testing.TB, path string) string {
	tb.Helper()
	a, err := archive.Open(path)
	require.NoError(tb, err)
	defer a.Close()

	objects, err := a.Objects()
	require.NoError(tb, err)
	p := &published{}
	for _, o := range objects {
		data, err := io.ReadAll(o.Body)
		require.NoError(tb, err)
		if strings.HasSuffix(o.Key, "/"+archive.DefaultMetaName) {
			p.meta = data
		} else {
			p.blob = data
		}
	}
	sum := md5.Sum(p.meta) //nolint:gosec // see import
	p.etag = hex.EncodeToString(sum[:])

	r.mu.Lock()
	defer r.mu.Unlock()
	r.packages[a.Ident()] = p
	return a.Ident()
}

// Unpublish removes a package from the listing.
func (r *Repository) Unpublish(ident string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.packages, ident)
}

// ETag returns the listing etag of a published package.
func (r *Repository) ETag(ident string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.packages[ident]; ok {
		return p.etag
	}
	return ""
}

// SetMetaETag overrides the ETag header sent with metadata responses.
// fn receives the identifier and the listing etag.
func (r *Repository) SetMetaETag(fn func(ident, etag string) string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metaETag = fn
}

// QuoteListingETags makes the listing carry etags in their quoted HTTP
// form, as S3-backed listings do.
func (r *Repository) QuoteListingETags() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.quoted = true
}

// Object returns an uploaded object body and its request headers.
func (r *Repository) Object(key string) ([]byte, http.Header, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.objects[key]
	return data, r.headers[key], ok
}

// Reindexed returns the number of reindex requests.
func (r *Repository) Reindexed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reindexed
}

// Requests returns the "METHOD /path" log of received requests.
func (r *Repository) Requests() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.requests...)
}

// CountRequests returns how many requests matched "METHOD /path".
func (r *Repository) CountRequests(request string) int {
	n := 0
	for _, req := range r.Requests() {
		if req == request {
			n++
		}
	}
	return n
}

func (r *Repository) handleModels(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	listing := make(map[string][2]string, len(r.packages))
	for ident, p := range r.packages {
		etag := p.etag
		if r.quoted {
			etag = strconv.Quote(etag)
		}
		listing[ident] = [2]string{"/" + ident + "/" + archive.DefaultMetaName, etag}
	}
	r.mu.Unlock()
	writeJSON(w, listing)
}

func (r *Repository) handleUpload(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"bucket": "parcel-test", "region": "local"})
}

func (r *Repository) handleReindex(w http.ResponseWriter, _ *http.Request) {
	r.mu.Lock()
	r.reindexed++
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *Repository) handlePutObject(w http.ResponseWriter, req *http.Request) {
	data, err := io.ReadAll(req.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	key := req.PathValue("key")
	r.mu.Lock()
	r.objects[key] = data
	r.headers[key] = req.Header.Clone()
	r.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (r *Repository) handleMember(w http.ResponseWriter, req *http.Request) {
	ident := req.PathValue("ident")
	r.mu.Lock()
	p, ok := r.packages[ident]
	override := r.metaETag
	r.mu.Unlock()
	if !ok {
		http.NotFound(w, req)
		return
	}

	switch req.PathValue("member") {
	case archive.DefaultMetaName:
		etag := p.etag
		if override != nil {
			etag = override(ident, etag)
		}
		w.Header().Set("ETag", strconv.Quote(etag))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(p.meta) //nolint:errcheck // test server
	case archive.DefaultBlobName:
		sum := md5.Sum(p.blob) //nolint:gosec // see import
		w.Header().Set(ChecksumHeader, hex.EncodeToString(sum[:]))
		http.ServeContent(w, req, archive.DefaultBlobName, time.Time{}, bytes.NewReader(p.blob))
	default:
		http.NotFound(w, req)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // test server
}
