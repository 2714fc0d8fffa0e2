// Package pool manages installed packages.
//
// Installs extract into "<ident>.tmp" and rename into place, so a crash never
// leaves a partially extracted package under its real name. Leftover
// temporary directories are removed when the pool is opened.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/meigma/parcel/collection"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// Installable is an archive that can be installed.
type Installable interface {
	Descriptor() core.Descriptor

	// Size returns the extracted size in bytes.
	Size() uint64

	// ExtractAll extracts the archive into dest.
	ExtractAll(dest string) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for install and remove steps.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithFreeSpaceFunc replaces the free space probe.
func WithFreeSpaceFunc(fn fsutil.FreeSpaceFunc) Option {
	return func(p *Pool) {
		if fn != nil {
			p.freeSpace = fn
		}
	}
}

// Pool is the collection of installed packages below a data path.
type Pool struct {
	*collection.Collection[*Package]

	logger    *slog.Logger
	freeSpace fsutil.FreeSpaceFunc
}

// New opens the pool at dataPath, removing interrupted installs and removals.
func New(dataPath string, opts ...Option) (*Pool, error) {
	p := &Pool{
		logger:    slog.New(slog.DiscardHandler),
		freeSpace: fsutil.FreeSpace,
	}
	for _, opt := range opts {
		opt(p)
	}

	if err := os.MkdirAll(dataPath, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	removed, err := fsutil.PurgeTmp(dataPath)
	for _, name := range removed {
		p.logger.Info("remove", slog.String("path", name))
	}
	if err != nil {
		return nil, fmt.Errorf("clean pool: %w", err)
	}

	c, err := collection.New[*Package](dataPath, LoadPackage, collection.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.Collection = c
	return p, nil
}

// Install extracts the archive into the pool and returns the install path.
//
// Installed versions of the same package are removed first. Installing the
// exact installed version fails with ErrAlreadyInstalled; too little free
// space fails with *NotEnoughSpaceError before anything is removed.
func (p *Pool) Install(ctx context.Context, a Installable) (string, error) {
	desc := a.Descriptor()
	if err := desc.Validate(); err != nil {
		return "", err
	}
	ident := desc.Ident()

	installed := p.FindName(desc.Name)
	for _, pkg := range installed {
		if pkg.Ident() == ident {
			return "", fmt.Errorf("%w: %s", ErrAlreadyInstalled, ident)
		}
	}

	required := a.Size()
	free, err := p.freeSpace(ctx, p.Root())
	if err != nil {
		return "", fmt.Errorf("check free space: %w", err)
	}
	if free < required {
		return "", &NotEnoughSpaceError{Required: required, Available: free}
	}

	for _, pkg := range installed {
		if err := p.Remove(pkg); err != nil {
			return "", err
		}
	}

	path := filepath.Join(p.Root(), ident)
	tmp := fsutil.TmpPath(path)
	if err := os.RemoveAll(tmp); err != nil {
		return "", err
	}

	p.logger.Info("install", slog.String("ident", ident))
	if err := a.ExtractAll(tmp); err != nil {
		if rerr := os.RemoveAll(tmp); rerr != nil {
			p.logger.Warn("remove failed install", slog.String("path", tmp), slog.Any("error", rerr))
		}
		return "", fmt.Errorf("install %s: %w", ident, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("install %s: %w", ident, err)
	}

	if err := p.Load(); err != nil {
		return "", err
	}
	return path, nil
}
