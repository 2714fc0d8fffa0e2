package parcel

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/cache"
	"github.com/meigma/parcel/collection"
	"github.com/meigma/parcel/pool"
)

// Entry is a package listed by Find: an installed or a cached package.
type Entry interface {
	collection.Entry

	// Meta returns the stored package metadata.
	Meta() archive.Meta
}

// FindOptions selects the collection searched by Find.
type FindOptions struct {
	// Cache searches cached repository packages instead of installed ones.
	Cache bool
}

// Find returns the packages matching query in identifier order. An empty
// query lists everything.
func (c *Client) Find(query string, opts FindOptions) ([]Entry, error) {
	if opts.Cache {
		found, err := c.cache.Find(query)
		return toEntries(found), err
	}
	found, err := c.pool.Find(query)
	return toEntries(found), err
}

func toEntries[E Entry](items []E) []Entry {
	out := make([]Entry, len(items))
	for i, e := range items {
		out[i] = e
	}
	return out
}

// Search updates the index and returns the repository packages matching query.
func (c *Client) Search(ctx context.Context, query string) ([]*cache.CachedPackage, error) {
	if err := c.Update(ctx); err != nil {
		return nil, err
	}
	return c.cache.Find(query)
}

// Package returns the newest installed package matching query.
func (c *Client) Package(query string) (*pool.Package, error) {
	return c.pool.Get(query)
}

// Remove uninstalls every package matching query and returns them.
func (c *Client) Remove(query string) ([]*pool.Package, error) {
	found, err := c.pool.Find(query)
	if err != nil {
		return nil, err
	}
	for _, pkg := range found {
		if err := c.pool.Remove(pkg); err != nil {
			return nil, err
		}
	}
	return found, nil
}

// FileInfo describes one file of a package.
type FileInfo struct {
	Checksum archive.Checksum `json:"checksum"`
	Size     uint64           `json:"size"`
}

// FileList lists the files of a package keyed by relative path.
type FileList struct {
	Ident string              `json:"ident"`
	Files map[string]FileInfo `json:"files"`
}

// Files lists the files of an archive file or of the newest installed
// package matching packageString.
func (c *Client) Files(packageString string) (*FileList, error) {
	var (
		ident    string
		manifest []archive.ManifestEntry
	)
	if info, err := os.Stat(packageString); err == nil && info.Mode().IsRegular() {
		a, err := archive.Open(packageString, archive.WithReaderLogger(c.logger))
		if err != nil {
			return nil, err
		}
		defer a.Close()
		ident, manifest = a.Ident(), a.Manifest()
	} else {
		pkg, err := c.pool.Get(packageString)
		if err != nil {
			return nil, err
		}
		ident, manifest = pkg.Ident(), pkg.Manifest()
	}

	out := &FileList{Ident: ident, Files: make(map[string]FileInfo, len(manifest))}
	for _, e := range manifest {
		out.Files[filepath.Join(e.Path...)] = FileInfo{Checksum: e.Checksum, Size: e.Size}
	}
	return out, nil
}

// PurgeOptions selects what Purge empties. Selecting neither empties both.
type PurgeOptions struct {
	Cache bool
	Pool  bool
}

// Purge removes every cached and/or installed package.
func (c *Client) Purge(opts PurgeOptions) error {
	both := !opts.Cache && !opts.Pool
	var errs []error
	if opts.Cache || both {
		c.logger.Info("purge cache")
		errs = append(errs, c.cache.Purge())
	}
	if opts.Pool || both {
		c.logger.Info("purge pool")
		errs = append(errs, c.pool.Purge())
	}
	return errors.Join(errs...)
}
