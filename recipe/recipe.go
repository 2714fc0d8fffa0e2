// Package recipe builds archives from a package.json recipe.
//
// A recipe directory holds package.json with the package descriptor and an
// "include" list of glob patterns. Each pattern is a list of path parts
// below the recipe directory, for example ["vocab", "*.bin"]; a plain
// string is split on "/".
package recipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
)

// Filename is the recipe file inside a recipe directory.
const Filename = "package.json"

// ErrValidation is returned when a recipe lacks a required field.
var ErrValidation = errors.New("parcel: invalid recipe")

// Pattern is one include glob, stored as path parts.
type Pattern []string

// UnmarshalJSON accepts a list of parts or a slash separated string.
func (p *Pattern) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = strings.Split(strings.Trim(s, "/"), "/")
		return nil
	}
	var parts []string
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("%w: include: %v", ErrValidation, err)
	}
	*p = parts
	return nil
}

// Option configures a Recipe.
type Option func(*Recipe)

// WithLogger sets the logger used while building.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Recipe) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithProgress sets a callback receiving compression progress.
func WithProgress(fn core.ProgressFunc) Option {
	return func(r *Recipe) {
		r.progress = fn
	}
}

// Recipe describes how to build a package archive.
type Recipe struct {
	path     string
	logger   *slog.Logger
	progress core.ProgressFunc

	Package core.Descriptor
	Include []Pattern
}

// Load reads the recipe in the directory recipePath.
func Load(recipePath string, opts ...Option) (*Recipe, error) {
	r := &Recipe{
		path:   recipePath,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}

	var doc struct {
		core.Descriptor
		Include []Pattern `json:"include"`
	}
	if err := fsutil.ReadJSON(filepath.Join(recipePath, Filename), &doc); err != nil {
		return nil, fmt.Errorf("load recipe: %w", err)
	}
	r.Package = doc.Descriptor
	r.Include = doc.Include
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks the required fields and the include patterns.
func (r *Recipe) Validate() error {
	var missing []string
	if r.Package.Name == "" {
		missing = append(missing, "name")
	}
	if r.Package.Version == "" {
		missing = append(missing, "version")
	}
	if len(r.Include) == 0 {
		missing = append(missing, "include")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrValidation, strings.Join(missing, ", "))
	}
	for _, p := range r.Include {
		if _, err := core.JoinPathParts(p...); err != nil {
			return fmt.Errorf("%w: include %q: %w", ErrValidation, p, err)
		}
	}
	return nil
}

// Path returns the recipe directory.
func (r *Recipe) Path() string {
	return r.path
}

// Files returns the regular files matched by the include patterns, in
// pattern order without duplicates.
func (r *Recipe) Files() ([]string, error) {
	var files []string
	seen := make(map[string]struct{})
	for _, p := range r.Include {
		rel, err := core.JoinPathParts(p...)
		if err != nil {
			return nil, fmt.Errorf("%w: include %q: %w", ErrValidation, p, err)
		}
		matches, err := filepath.Glob(filepath.Join(r.path, rel))
		if err != nil {
			return nil, fmt.Errorf("%w: include %q: %w", ErrValidation, p, err)
		}
		slices.Sort(matches)
		for _, m := range matches {
			info, err := os.Lstat(m)
			if err != nil {
				return nil, err
			}
			if !info.Mode().IsRegular() {
				continue
			}
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			files = append(files, m)
		}
	}
	return files, nil
}

// Build writes the archive and opens it. A directory archivePath receives
// "<ident>.parcel".
func (r *Recipe) Build(archivePath string) (*archive.Archive, error) {
	target := archivePath
	if info, err := os.Stat(archivePath); err == nil && info.IsDir() {
		target = filepath.Join(archivePath, r.Package.Ident()+".parcel")
	}

	files, err := r.Files()
	if err != nil {
		return nil, err
	}

	r.logger.Info("build", slog.String("ident", r.Package.Ident()), slog.String("path", target))
	w, err := archive.NewWriter(target,
		archive.WithBasePath(r.path),
		archive.WithLogger(r.logger),
		archive.WithProgress(r.progress),
	)
	if err != nil {
		return nil, err
	}
	w.SetPackage(r.Package)
	for _, f := range files {
		if err := w.Add(f); err != nil {
			return nil, errors.Join(err, w.Abort())
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return archive.Open(target, archive.WithReaderLogger(r.logger))
}
