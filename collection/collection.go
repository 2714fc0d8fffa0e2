// Package collection implements the directory-backed package collection
// shared by the download cache and the install pool.
//
// A collection is a root directory with one subdirectory per entry, named by
// the entry identifier and holding a meta.json file. Directories carrying the
// ".tmp" suffix are in-flight installs or removals and are never loaded.
package collection

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// Entry is a loaded collection entry.
type Entry interface {
	core.Described

	// Path returns the entry directory.
	Path() string
}

// Loader builds an entry from its directory.
type Loader[E Entry] func(path string) (E, error)

// config holds collection options.
type config struct {
	logger *slog.Logger
}

// Option configures a Collection.
type Option func(*config)

// WithLogger sets the logger used for collection changes.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Collection is an in-memory view of the entries below a root directory.
//
// The view is rebuilt by Load and after every removal. A Collection is not
// safe for concurrent use.
type Collection[E Entry] struct {
	root    string
	load    Loader[E]
	logger  *slog.Logger
	entries map[string]E
}

// New creates the root directory if needed and loads its entries.
func New[E Entry](root string, loader Loader[E], opts ...Option) (*Collection[E], error) {
	cfg := config{logger: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&cfg)
	}
	if root == "" {
		return nil, errors.New("parcel: empty collection root")
	}
	if err := os.MkdirAll(root, fsutil.DirPerm); err != nil {
		return nil, fmt.Errorf("create collection root: %w", err)
	}
	c := &Collection[E]{
		root:   root,
		load:   loader,
		logger: cfg.logger,
	}
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Root returns the collection directory.
func (c *Collection[E]) Root() string {
	return c.root
}

// Logger returns the collection logger.
func (c *Collection[E]) Logger() *slog.Logger {
	return c.logger
}

// Load rescans the root directory.
//
// A metadata file that cannot be parsed fails the load and leaves the
// previous view in place.
func (c *Collection[E]) Load() error {
	dirents, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("scan %s: %w", c.root, err)
	}

	entries := make(map[string]E, len(dirents))
	for _, d := range dirents {
		if !d.IsDir() || fsutil.IsTmp(d.Name()) {
			continue
		}
		path := filepath.Join(c.root, d.Name())
		info, err := os.Stat(filepath.Join(path, archive.DefaultMetaName))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		e, err := c.load(path)
		if err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		ident := e.Descriptor().Ident()
		if prev, ok := entries[ident]; ok {
			c.logger.Warn("duplicate package",
				slog.String("ident", ident),
				slog.String("path", path),
				slog.String("previous", prev.Path()))
		}
		entries[ident] = e
	}
	c.entries = entries
	return nil
}

// Len returns the number of entries.
func (c *Collection[E]) Len() int {
	return len(c.entries)
}

// Lookup returns the entry with the given identifier.
func (c *Collection[E]) Lookup(ident string) (E, bool) {
	e, ok := c.entries[ident]
	return e, ok
}

// All returns every entry sorted by identifier.
func (c *Collection[E]) All() []E {
	out := make([]E, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	core.SortByIdent(out)
	return out
}

// Idents returns the sorted identifiers of all entries.
func (c *Collection[E]) Idents() []string {
	out := make([]string, 0, len(c.entries))
	for ident := range c.entries {
		out = append(out, ident)
	}
	slices.Sort(out)
	return out
}

// Find returns the entries matching a package string such as "name >=1.0,<2",
// sorted by identifier. An empty package string matches every entry.
func (c *Collection[E]) Find(query string) ([]E, error) {
	q, err := core.ParseQuery(query)
	if err != nil {
		return nil, err
	}
	return c.FindQuery(q)
}

// FindQuery returns the entries matching a parsed query, sorted by identifier.
func (c *Collection[E]) FindQuery(q core.Query) ([]E, error) {
	var out []E
	for _, e := range c.entries {
		ok, err := q.Matches(e.Descriptor())
		if err != nil {
			return nil, fmt.Errorf("match %s: %w", e.Descriptor().Ident(), err)
		}
		if ok {
			out = append(out, e)
		}
	}
	core.SortByIdent(out)
	return out, nil
}

// FindName returns the entries with exactly the given name.
func (c *Collection[E]) FindName(name string) []E {
	var out []E
	for _, e := range c.entries {
		if e.Descriptor().Name == name {
			out = append(out, e)
		}
	}
	core.SortByIdent(out)
	return out
}

// Get returns the highest version satisfying the package string.
//
// The package string must name a package; a bare constraint fails with
// core.ErrInvalidConstraint. It fails with core.ErrPackageNotFound when no
// entry carries the name and with core.ErrCompatiblePackageNotFound when
// none satisfies the constraint.
func (c *Collection[E]) Get(query string) (E, error) {
	var zero E
	q, err := core.ParseQuery(query)
	if err != nil {
		return zero, err
	}
	if q.Name == "" {
		return zero, fmt.Errorf("%w: missing package name in %q", core.ErrInvalidConstraint, query)
	}
	if len(c.FindName(q.Name)) == 0 {
		return zero, fmt.Errorf("%w: %s", core.ErrPackageNotFound, query)
	}
	candidates, err := c.FindQuery(q)
	if err != nil {
		return zero, err
	}
	if len(candidates) == 0 {
		return zero, fmt.Errorf("%w: %s", core.ErrCompatiblePackageNotFound, query)
	}
	return core.Latest(candidates)
}

// Remove deletes an entry directory through its temporary sibling and reloads.
func (c *Collection[E]) Remove(e E) error {
	path := e.Path()
	ident := e.Descriptor().Ident()
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s", core.ErrNotInstalled, ident)
	}

	c.logger.Info("pending remove", slog.String("ident", ident))
	if err := fsutil.RemoveAllTmp(path); err != nil {
		return fmt.Errorf("remove %s: %w", ident, err)
	}
	c.logger.Info("remove", slog.String("ident", ident))
	return c.Load()
}

// RemoveIdent removes the entry with the given identifier.
func (c *Collection[E]) RemoveIdent(ident string) error {
	e, ok := c.entries[ident]
	if !ok {
		return fmt.Errorf("%w: %s", core.ErrNotInstalled, ident)
	}
	return c.Remove(e)
}

// Purge removes every entry.
func (c *Collection[E]) Purge() error {
	c.logger.Info("purging", slog.String("root", c.root))
	for _, e := range c.All() {
		if err := c.Remove(e); err != nil {
			return err
		}
	}
	return nil
}
