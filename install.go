package parcel

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/index"
	"github.com/meigma/parcel/pool"
	"github.com/meigma/parcel/recipe"
)

// Install installs a package and returns it.
//
// When packageString names an existing archive file that archive is
// installed. Otherwise packageString is a query: the index is updated, an
// installed match is returned as is, and the newest compatible cached
// package is fetched and installed.
func (c *Client) Install(ctx context.Context, packageString string) (*pool.Package, error) {
	if info, err := os.Stat(packageString); err == nil && info.Mode().IsRegular() {
		a, err := archive.Open(packageString,
			archive.WithReaderLogger(c.logger),
			archive.WithReaderProgress(c.cfg.Progress),
		)
		if err != nil {
			return nil, err
		}
		defer a.Close()
		return c.install(ctx, a)
	}

	q, err := core.ParseQuery(packageString)
	if err != nil {
		return nil, err
	}
	if err := c.Update(ctx); err != nil {
		return nil, err
	}

	installed, err := c.pool.FindQuery(q)
	if err != nil {
		return nil, err
	}
	if len(installed) > 0 {
		c.logger.Info("already installed", slog.String("ident", installed[0].Ident()))
		return installed[0], nil
	}

	a, err := c.cache.Fetch(ctx, packageString)
	if err != nil {
		return nil, err
	}
	defer a.Close()
	return c.install(ctx, a)
}

func (c *Client) install(ctx context.Context, a *archive.Archive) (*pool.Package, error) {
	path, err := c.pool.Install(ctx, a)
	if err != nil {
		return nil, err
	}
	pkg, ok := c.pool.Lookup(a.Ident())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, path)
	}
	return pkg, nil
}

// Build builds the recipe in recipePath into an archive. An empty
// archivePath writes "<ident>.parcel" into the recipe directory; a
// directory receives the same file name. The caller closes the archive.
func Build(recipePath, archivePath string, opts ...recipe.Option) (*archive.Archive, error) {
	r, err := recipe.Load(recipePath, opts...)
	if err != nil {
		return nil, err
	}
	if archivePath == "" {
		archivePath = recipePath
	}
	return r.Build(archivePath)
}

// Upload publishes the archive at path to the repository. It reports
// whether the repository accepted the reindex request.
func (c *Client) Upload(ctx context.Context, path string) (bool, error) {
	ix, err := c.index()
	if err != nil {
		return false, err
	}
	store := index.NewHTTPObjectStore(c.session, c.cfg.ObjectEndpoint)
	return ix.Upload(ctx, path, store)
}

// Update refreshes the cache from the repository listing.
func (c *Client) Update(ctx context.Context) error {
	ix, err := c.index()
	if err != nil {
		return err
	}
	return ix.Update(ctx)
}
