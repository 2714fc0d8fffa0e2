// Package index synchronizes the local cache with a package repository and
// publishes archives to it.
//
// The repository lists every package as "ident -> [metaURL, etag]" under
// /models. Metadata responses carry an ETag that must agree with the
// listing; a disagreement means the repository has not finished
// propagating an upload and the update is retried.
package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/cache"
	"github.com/meigma/parcel/core"
)

// Default retry policy of Update: one attempt plus five retries.
const (
	DefaultRetryWait   = 3 * time.Second
	DefaultMaxAttempts = 6
)

// Client is the HTTP surface the index needs. *session.Session satisfies it.
type Client interface {
	GetJSON(ctx context.Context, url string, v any) (http.Header, error)
	Put(ctx context.Context, url string, body io.Reader, header http.Header) (int, error)
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for update and upload steps.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Index) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithRetryWait sets the wait between update attempts.
func WithRetryWait(d time.Duration) Option {
	return func(ix *Index) {
		if d > 0 {
			ix.wait = d
		}
	}
}

// WithMaxAttempts sets how many times Update tries before giving up.
func WithMaxAttempts(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.attempts = n
		}
	}
}

// WithProgress sets a callback receiving upload progress.
func WithProgress(fn core.ProgressFunc) Option {
	return func(ix *Index) {
		ix.progress = fn
	}
}

// Index is a package repository bound to a local cache.
type Index struct {
	url      *url.URL
	client   Client
	cache    *cache.Cache
	logger   *slog.Logger
	progress core.ProgressFunc
	wait     time.Duration
	attempts int
}

// New creates an index for the repository at repositoryURL.
func New(repositoryURL string, client Client, c *cache.Cache, opts ...Option) (*Index, error) {
	if repositoryURL == "" {
		return nil, ErrInvalidRepositoryURL
	}
	u, err := url.Parse(repositoryURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRepositoryURL, repositoryURL)
	}
	ix := &Index{
		url:      u,
		client:   client,
		cache:    c,
		logger:   slog.New(slog.DiscardHandler),
		wait:     DefaultRetryWait,
		attempts: DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// URL returns the repository URL.
func (ix *Index) URL() string {
	return ix.url.String()
}

// Cache returns the cache the index updates.
func (ix *Index) Cache() *cache.Cache {
	return ix.cache
}

func (ix *Index) endpoint(name string) string {
	return ix.url.JoinPath(name).String()
}

// listingEntry is one "ident: [metaURL, etag]" member of the listing. The
// etag is stored unquoted, the form compared against response headers and
// kept in the cache.
type listingEntry struct {
	MetaURL string
	ETag    string
}

func (e *listingEntry) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidListing, err)
	}
	if len(pair) != 2 || pair[0] == "" {
		return fmt.Errorf("%w: entry %s", ErrInvalidListing, data)
	}
	e.MetaURL, e.ETag = pair[0], unquoteETag(pair[1])
	return nil
}

// Update brings the cache in line with the repository listing.
//
// New or changed packages are fetched and stored, packages no longer
// listed are removed. The listing is assumed complete. When a metadata
// ETag disagrees with the listing the whole update is retried after a
// wait; ErrIndexOutOfSync is returned once all attempts are used.
func (ix *Index) Update(ctx context.Context) error {
	op := func() (struct{}, error) {
		err := ix.sync(ctx)
		if err != nil && !errors.Is(err, errETagMismatch) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	notify := func(err error, wait time.Duration) {
		ix.logger.Info("wait for index server to sync", slog.Duration("wait", wait), slog.Any("reason", err))
	}

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(ix.wait)),
		backoff.WithMaxTries(uint(ix.attempts)), //nolint:gosec // attempts is positive
		backoff.WithNotify(notify),
	)
	if errors.Is(err, errETagMismatch) {
		return fmt.Errorf("%w: %w", ErrIndexOutOfSync, err)
	}
	return err
}

// sync performs one update attempt.
func (ix *Index) sync(ctx context.Context) error {
	stale := make(map[string]struct{})
	for _, ident := range ix.cache.Idents() {
		stale[ident] = struct{}{}
	}

	var listing map[string]listingEntry
	if _, err := ix.client.GetJSON(ctx, ix.endpoint("models"), &listing); err != nil {
		return fmt.Errorf("fetch listing: %w", err)
	}

	for _, ident := range slices.Sorted(maps.Keys(listing)) {
		entry := listing[ident]
		if !ix.cache.Exists(ident, entry.ETag) {
			if err := ix.fetchMeta(ctx, ident, entry); err != nil {
				return err
			}
		}
		delete(stale, ident)
	}

	for _, ident := range slices.Sorted(maps.Keys(stale)) {
		ix.logger.Info("remove", slog.String("ident", ident))
		if err := ix.cache.RemoveIdent(ident); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) fetchMeta(ctx context.Context, ident string, entry listingEntry) error {
	ref, err := url.Parse(entry.MetaURL)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidListing, ident, err)
	}
	metaURL := ix.url.ResolveReference(ref).String()

	var meta archive.Meta
	header, err := ix.client.GetJSON(ctx, metaURL, &meta)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", ident, err)
	}
	if got := meta.Package.Ident(); got != ident {
		return fmt.Errorf("%w: listed %s, metadata describes %s", ErrIdentMismatch, ident, got)
	}
	if got := unquoteETag(header.Get("ETag")); got != entry.ETag {
		return fmt.Errorf("%w: %s: listed %q, served %q", errETagMismatch, ident, entry.ETag, got)
	}

	ix.logger.Info("update", slog.String("ident", ident))
	if _, err := ix.cache.Update(meta, metaURL, entry.ETag); err != nil {
		return fmt.Errorf("store %s: %w", ident, err)
	}
	return nil
}

func unquoteETag(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "W/")
	return strings.Trim(s, `"`)
}
