package recipe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/internal/testutil"
)

func writeRecipe(t *testing.T, doc string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.WriteTree(t, dir, testutil.SampleFiles())
	testutil.WriteTree(t, dir, map[string]string{
		Filename:          doc,
		"vocab/notes.txt": "not a vector",
	})
	return dir
}

func manifestPaths(a *archive.Archive) []string {
	var out []string
	for _, e := range a.Manifest() {
		out = append(out, filepath.ToSlash(filepath.Join(e.Path...)))
	}
	return out
}

func TestLoad(t *testing.T) {
	dir := writeRecipe(t, `{
		"name": "en_core",
		"version": "1.0.0",
		"license": "MIT",
		"include": [["vocab", "*.json"], "config.json"]
	}`)

	r, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "en_core", r.Package.Name)
	assert.Equal(t, "MIT", r.Package.License)
	assert.Equal(t, []Pattern{{"vocab", "*.json"}, {"config.json"}}, r.Include)
	assert.Equal(t, dir, r.Path())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing name", `{"version": "1.0.0", "include": [["*"]]}`},
		{"missing version", `{"name": "en_core", "include": [["*"]]}`},
		{"missing include", `{"name": "en_core", "version": "1.0.0"}`},
		{"empty include", `{"name": "en_core", "version": "1.0.0", "include": []}`},
		{"escaping include", `{"name": "en_core", "version": "1.0.0", "include": [["..", "*"]]}`},
		{"bad include type", `{"name": "en_core", "version": "1.0.0", "include": [42]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeRecipe(t, tt.doc))
			require.ErrorIs(t, err, ErrValidation)
		})
	}

	_, err := Load(t.TempDir())
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestBuild(t *testing.T) {
	dir := writeRecipe(t, `{
		"name": "en_core",
		"version": "1.0.0",
		"include": [["vocab", "*"], ["config.json"], ["vocab", "strings.json"], ["missing", "*"]]
	}`)
	r, err := Load(dir)
	require.NoError(t, err)

	out := t.TempDir()
	a, err := r.Build(out)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, filepath.Join(out, "en_core-1.0.0.parcel"), a.Path())
	assert.Equal(t, "en_core-1.0.0", a.Ident())
	assert.Equal(t, []string{
		"vocab/lexemes.bin",
		"vocab/notes.txt",
		"vocab/strings.json",
		"config.json",
	}, manifestPaths(a))
	require.NoError(t, a.Verify())
}

func TestBuildExplicitPath(t *testing.T) {
	dir := writeRecipe(t, `{"name": "en_core", "version": "1.0.0", "include": ["config.json"]}`)
	r, err := Load(dir)
	require.NoError(t, err)

	target := filepath.Join(t.TempDir(), "custom.parcel")
	a, err := r.Build(target)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, target, a.Path())
	assert.Equal(t, []string{"config.json"}, manifestPaths(a))
}

func TestBuildNothingMatched(t *testing.T) {
	dir := writeRecipe(t, `{"name": "en_core", "version": "1.0.0", "include": [["missing", "*"]]}`)
	r, err := Load(dir)
	require.NoError(t, err)

	out := t.TempDir()
	_, err = r.Build(out)
	require.ErrorIs(t, err, archive.ErrEmptyArchive)
	assert.NoFileExists(t, filepath.Join(out, "en_core-1.0.0.parcel"))
}
