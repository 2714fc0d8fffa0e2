package parcel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/testutil"
)

func newClient(t *testing.T, repoURL string) (*Client, string) {
	t.Helper()
	data := t.TempDir()
	c, err := New(Config{
		AppName:       "tagger",
		AppVersion:    "1.2.0",
		DataPath:      data,
		RepositoryURL: repoURL,
		RetryWait:     time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c, data
}

func idents(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Descriptor().Ident()
	}
	return out
}

func TestNewInvalidDataPath(t *testing.T) {
	_, err := New(Config{DataPath: filepath.Join(t.TempDir(), "missing")})
	require.ErrorIs(t, err, ErrInvalidDataPath)
}

func TestBuildInstallFindRemove(t *testing.T) {
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"package.json": `{"name": "test", "version": "1.0.0", "include": [["data", "*"]]}`,
		"data/x.json":  `{"x": 1}`,
	})

	a, err := Build(src, "")
	require.NoError(t, err)
	archivePath := a.Path()
	require.NoError(t, a.Close())
	assert.Equal(t, filepath.Join(src, "test-1.0.0.parcel"), archivePath)

	c, data := newClient(t, "")
	pkg, err := c.Install(context.Background(), archivePath)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, "test-1.0.0"), pkg.Path())

	found, err := c.Find("test", FindOptions{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "test-1.0.0", found[0].Descriptor().Ident())

	var x struct{ X int }
	ok, err := pkg.LoadJSON(&x, "data", "x.json")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, x.X)

	removed, err := c.Remove("test")
	require.NoError(t, err)
	assert.Len(t, removed, 1)

	found, err = c.Find("test", FindOptions{})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestInstallFromRepository(t *testing.T) {
	repo := testutil.NewRepository(t)
	for _, v := range []string{"1.0.0", "1.1.0", "2.0.0"} {
		d := core.Descriptor{Name: "en_core", Version: v}
		repo.Publish(t, testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))
	}

	c, _ := newClient(t, repo.URL())
	pkg, err := c.Install(context.Background(), "en_core <2")
	require.NoError(t, err)
	assert.Equal(t, "en_core-1.1.0", pkg.Ident())
	assert.True(t, pkg.HasFile("vocab", "strings.json"))

	// A satisfied query returns the installed package without downloading.
	again, err := c.Install(context.Background(), "en_core >=1.0")
	require.NoError(t, err)
	assert.Equal(t, "en_core-1.1.0", again.Ident())
	assert.Equal(t, 1, repo.CountRequests("GET /en_core-1.1.0/archive.gz"))

	// A newer version replaces the installed one.
	pkg, err = c.Install(context.Background(), "en_core >=2")
	require.NoError(t, err)
	assert.Equal(t, "en_core-2.0.0", pkg.Ident())
	installed, err := c.Find("", FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{"en_core-2.0.0"}, idents(installed))

	cached, err := c.Find("en_core", FindOptions{Cache: true})
	require.NoError(t, err)
	assert.Equal(t, []string{"en_core-1.0.0", "en_core-1.1.0", "en_core-2.0.0"}, idents(cached))

	got, err := c.Package("en_core")
	require.NoError(t, err)
	assert.Equal(t, "en_core-2.0.0", got.Ident())
}

func TestInstallErrors(t *testing.T) {
	repo := testutil.NewRepository(t)
	d := core.Descriptor{Name: "en_core", Version: "1.0.0"}
	repo.Publish(t, testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))

	c, _ := newClient(t, repo.URL())
	_, err := c.Install(context.Background(), "xx_core")
	require.ErrorIs(t, err, ErrPackageNotFound)
	_, err = c.Install(context.Background(), "en_core >=2")
	require.ErrorIs(t, err, ErrCompatiblePackageNotFound)
	_, err = c.Install(context.Background(), "en_core ~1")
	require.ErrorIs(t, err, ErrInvalidConstraint)

	offline, _ := newClient(t, "")
	_, err = offline.Install(context.Background(), "en_core")
	require.ErrorIs(t, err, ErrInvalidRepositoryURL)
}

func TestSearch(t *testing.T) {
	repo := testutil.NewRepository(t)
	for _, name := range []string{"en_core", "de_core"} {
		d := core.Descriptor{Name: name, Version: "1.0.0"}
		repo.Publish(t, testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))
	}

	c, _ := newClient(t, repo.URL())
	found, err := c.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "de_core-1.0.0", found[0].Ident())

	found, err = c.Search(context.Background(), "en_core")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "en_core-1.0.0", found[0].Ident())
}

func TestFiles(t *testing.T) {
	d := core.Descriptor{Name: "en_core", Version: "1.0.0"}
	path := testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles())

	c, _ := newClient(t, "")
	fromArchive, err := c.Files(path)
	require.NoError(t, err)
	assert.Equal(t, "en_core-1.0.0", fromArchive.Ident)
	assert.Len(t, fromArchive.Files, 3)
	cfg := fromArchive.Files[filepath.Join("config.json")]
	assert.Equal(t, uint64(len(`{"lang":"en"}`)), cfg.Size)
	assert.Equal(t, "md5", cfg.Checksum.Algorithm)

	_, err = c.Install(context.Background(), path)
	require.NoError(t, err)
	fromPool, err := c.Files("en_core")
	require.NoError(t, err)
	assert.Equal(t, fromArchive, fromPool)

	_, err = c.Files("xx_core")
	require.ErrorIs(t, err, ErrPackageNotFound)
}

func TestUpload(t *testing.T) {
	repo := testutil.NewRepository(t)
	data := t.TempDir()
	c, err := New(Config{
		DataPath:       data,
		RepositoryURL:  repo.URL(),
		ObjectEndpoint: repo.URL() + "/objects/{key}",
	})
	require.NoError(t, err)
	defer c.Close()

	d := core.Descriptor{Name: "en_core", Version: "1.0.0"}
	ok, err := c.Upload(context.Background(), testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))
	require.NoError(t, err)
	assert.True(t, ok)

	_, _, found := repo.Object("en_core-1.0.0/archive.gz")
	assert.True(t, found)
	assert.Equal(t, 1, repo.Reindexed())
}

func TestPurge(t *testing.T) {
	repo := testutil.NewRepository(t)
	for _, name := range []string{"en_core", "de_core"} {
		d := core.Descriptor{Name: name, Version: "1.0.0"}
		repo.Publish(t, testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))
	}
	c, _ := newClient(t, repo.URL())
	_, err := c.Install(context.Background(), "en_core")
	require.NoError(t, err)

	count := func(cache bool) int {
		found, err := c.Find("", FindOptions{Cache: cache})
		require.NoError(t, err)
		return len(found)
	}
	require.Equal(t, 2, count(true))
	require.Equal(t, 1, count(false))

	require.NoError(t, c.Purge(PurgeOptions{Pool: true}))
	assert.Equal(t, 2, count(true))
	assert.Zero(t, count(false))

	_, err = c.Install(context.Background(), "de_core")
	require.NoError(t, err)
	require.NoError(t, c.Purge(PurgeOptions{}))
	assert.Zero(t, count(true))
	assert.Zero(t, count(false))
}

func TestCloseSavesCookies(t *testing.T) {
	c, data := newClient(t, "")
	require.NoError(t, c.Close())
	_, err := os.Stat(filepath.Join(data, "cookies.txt"))
	require.NoError(t, err)
}
