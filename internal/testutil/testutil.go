// Package testutil provides fixtures shared by package tests: source trees,
// built archives, and a fake repository server.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
)

// WriteTree writes files, keyed by slash separated relative path, below dir.
func WriteTree(tb testing.TB, dir string, files map[string]string) {
	tb.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(tb, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(tb, os.WriteFile(path, []byte(content), 0o644))
	}
}

// SampleFiles returns a small package tree.
func SampleFiles() map[string]string {
	return map[string]string{
		"vocab/strings.json": `["a","b","c"]`,
		"vocab/lexemes.bin":  "lexemes",
		"config.json":        `{"lang":"en"}`,
	}
}

// BuildArchive archives files for desc into dir and returns the archive path.
func BuildArchive(tb testing.TB, dir string, desc core.Descriptor, files map[string]string) string {
	tb.Helper()
	src := tb.TempDir()
	WriteTree(tb, src, files)

	target := filepath.Join(dir, desc.Ident()+".parcel")
	w, err := archive.NewWriter(target, archive.WithBasePath(src))
	require.NoError(tb, err)
	w.SetPackage(desc)
	require.NoError(tb, w.AddPath(src))
	require.NoError(tb, w.Close())
	return target
}

// OpenArchive builds and opens an archive that is closed with the test.
func OpenArchive(tb testing.TB, desc core.Descriptor, files map[string]string) *archive.Archive {
	tb.Helper()
	a, err := archive.Open(BuildArchive(tb, tb.TempDir(), desc, files))
	require.NoError(tb, err)
	tb.Cleanup(func() { a.Close() })
	return a
}
