// Package cache stores repository metadata and downloaded archive bodies.
//
// Entries live in "<dataPath>/__cache__/<ident>". They are created by the
// index synchronizer with metadata only; Fetch downloads the body on demand
// and opens the entry as a directory archive.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/collection"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/download"
	"github.com/meigma/parcel/internal/fsutil"
)

const (
	// DirName is the cache directory below the data path.
	DirName = "__cache__"

	// ChecksumHeader carries the MD5 of archive bodies.
	ChecksumHeader = "X-Amz-Meta-Md5"
)

var (
	// ErrInvalidBlobRef is returned when metadata names an unusable archive body.
	ErrInvalidBlobRef = errors.New("parcel: invalid archive reference")

	// ErrNoArchiveURL is returned when fetching an entry without a body URL.
	ErrNoArchiveURL = errors.New("parcel: cache entry has no archive url")
)

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for cache updates and fetches.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClient sets the HTTP client used to download archive bodies.
func WithClient(client download.Doer) Option {
	return func(c *Cache) {
		c.client = client
	}
}

// WithProgress sets a callback receiving download and extraction progress.
func WithProgress(fn core.ProgressFunc) Option {
	return func(c *Cache) {
		c.progress = fn
	}
}

// Cache is the collection of repository packages known locally.
type Cache struct {
	*collection.Collection[*CachedPackage]

	logger   *slog.Logger
	client   download.Doer
	progress core.ProgressFunc
	fetches  singleflight.Group
}

// New opens the cache below dataPath.
func New(dataPath string, opts ...Option) (*Cache, error) {
	c := &Cache{
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}

	root := filepath.Join(dataPath, DirName)
	if err := os.MkdirAll(root, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	removed, err := fsutil.PurgeTmp(root)
	for _, name := range removed {
		c.logger.Info("remove", slog.String("path", name))
	}
	if err != nil {
		return nil, fmt.Errorf("clean cache: %w", err)
	}

	coll, err := collection.New[*CachedPackage](root, LoadCachedPackage, collection.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}
	c.Collection = coll
	return c, nil
}

// Exists reports whether ident is cached with the given etag.
func (c *Cache) Exists(ident, etag string) bool {
	p, ok := c.Lookup(ident)
	return ok && p.ETag() == etag
}

// Update stores repository metadata. The archive filename is resolved
// against baseURL, normally the URL the metadata was fetched from, and the
// entry is stamped with etag.
//
// A body downloaded for an older etag is discarded.
func (c *Cache) Update(meta archive.Meta, baseURL, etag string) (*CachedPackage, error) {
	if err := meta.Package.Validate(); err != nil {
		return nil, err
	}
	filename := meta.Archive.Filename
	if _, err := core.JoinPathParts(filename); err != nil || filename == archive.DefaultMetaName {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBlobRef, filename)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	ref, err := url.Parse(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidBlobRef, filename, err)
	}
	meta.Archive.URL = base.ResolveReference(ref).String()
	meta.ETag = etag

	ident := meta.Package.Ident()
	dir := filepath.Join(c.Root(), ident)
	if old, ok := c.Lookup(ident); ok && old.ETag() != etag {
		if err := os.Remove(old.BodyPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("discard stale body: %w", err)
		}
	}

	c.logger.Debug("update", slog.String("ident", ident), slog.String("etag", etag))
	if err := fsutil.WriteJSONAtomic(filepath.Join(dir, archive.DefaultMetaName), meta); err != nil {
		return nil, fmt.Errorf("store %s: %w", ident, err)
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	p, ok := c.Lookup(ident)
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrNotInstalled, ident)
	}
	return p, nil
}

// Fetch resolves query against the cache, downloads the archive body when
// it is missing or incomplete, and opens the entry.
//
// Concurrent fetches of the same package share one download. The caller
// closes the returned archive.
func (c *Cache) Fetch(ctx context.Context, query string) (*archive.Archive, error) {
	p, err := c.Get(query)
	if err != nil {
		return nil, err
	}
	if p.URL() == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoArchiveURL, p.Ident())
	}

	_, err, _ = c.fetches.Do(p.Ident(), func() (any, error) {
		c.logger.Info("fetch", slog.String("ident", p.Ident()), slog.String("url", p.URL()))
		d := download.New(c.client,
			download.WithChecksumHeader(ChecksumHeader),
			download.WithProgress(c.progress),
			download.WithLogger(c.logger),
		)
		path, err := d.Download(ctx, p.URL(), p.BodyPath())
		if errors.Is(err, download.ErrInvalidChecksum) {
			if rerr := os.Remove(p.BodyPath()); rerr != nil {
				c.logger.Warn("remove corrupt body", slog.String("path", p.BodyPath()), slog.Any("error", rerr))
			}
		}
		return path, err
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", p.Ident(), err)
	}

	return archive.Open(p.Path(),
		archive.WithReaderLogger(c.logger),
		archive.WithReaderProgress(c.progress),
	)
}
