package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/archive"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/download"
	"github.com/meigma/parcel/internal/testutil"
)

func desc(version string) core.Descriptor {
	return core.Descriptor{Name: "en_core", Version: version}
}

type fixture struct {
	repo  *testutil.Repository
	cache *Cache
	data  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	data := t.TempDir()
	c, err := New(data, WithClient(nil))
	require.NoError(t, err)
	return &fixture{repo: testutil.NewRepository(t), cache: c, data: data}
}

// publish builds and publishes a package and stores its metadata in the cache.
func (f *fixture) publish(t *testing.T, version string) *CachedPackage {
	t.Helper()
	path := testutil.BuildArchive(t, t.TempDir(), desc(version), testutil.SampleFiles())
	ident := f.repo.Publish(t, path)

	a, err := archive.Open(path)
	require.NoError(t, err)
	defer a.Close()

	p, err := f.cache.Update(a.Meta(), f.repo.URL()+"/"+ident+"/meta.json", f.repo.ETag(ident))
	require.NoError(t, err)
	return p
}

func TestNewCreatesCacheDir(t *testing.T) {
	data := t.TempDir()
	c, err := New(data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(data, DirName), c.Root())
	assert.DirExists(t, c.Root())
	assert.Zero(t, c.Len())
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	p := f.publish(t, "1.0.0")

	assert.Equal(t, filepath.Join(f.data, DirName, "en_core-1.0.0"), p.Path())
	assert.Equal(t, f.repo.URL()+"/en_core-1.0.0/archive.gz", p.URL())
	assert.Equal(t, f.repo.ETag("en_core-1.0.0"), p.ETag())
	assert.FileExists(t, filepath.Join(p.Path(), archive.DefaultMetaName))
	assert.NoFileExists(t, p.BodyPath())

	assert.True(t, f.cache.Exists("en_core-1.0.0", p.ETag()))
	assert.False(t, f.cache.Exists("en_core-1.0.0", "other"))
	assert.False(t, f.cache.Exists("en_core-2.0.0", p.ETag()))

	reopened, err := New(f.data)
	require.NoError(t, err)
	got, ok := reopened.Lookup("en_core-1.0.0")
	require.True(t, ok)
	assert.Equal(t, p.URL(), got.URL())
	assert.Equal(t, p.ETag(), got.ETag())
}

func TestUpdateRejectsInvalidMeta(t *testing.T) {
	f := newFixture(t)

	_, err := f.cache.Update(archive.Meta{Archive: archive.BlobRef{Filename: "archive.gz"}}, f.repo.URL(), "e")
	require.ErrorIs(t, err, core.ErrInvalidDescriptor)

	for _, name := range []string{"../archive.gz", "a/b.gz", archive.DefaultMetaName} {
		meta := archive.Meta{Package: desc("1.0.0"), Archive: archive.BlobRef{Filename: name}}
		_, err := f.cache.Update(meta, f.repo.URL(), "e")
		require.ErrorIs(t, err, ErrInvalidBlobRef, name)
	}
	assert.Zero(t, f.cache.Len())
}

func TestFetch(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "1.0.0")
	f.publish(t, "2.0.0")

	a, err := f.cache.Fetch(context.Background(), "en_core <2")
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "en_core-1.0.0", a.Ident())
	require.NoError(t, a.Verify())

	dest := t.TempDir()
	require.NoError(t, a.ExtractAll(dest))
	data, err := os.ReadFile(filepath.Join(dest, "config.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"lang":"en"}`, string(data))

	assert.Equal(t, 1, f.repo.CountRequests("GET /en_core-1.0.0/archive.gz"))
	assert.Zero(t, f.repo.CountRequests("GET /en_core-2.0.0/archive.gz"))
}

func TestFetchCompleteBody(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "1.0.0")

	a, err := f.cache.Fetch(context.Background(), "en_core")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	a, err = f.cache.Fetch(context.Background(), "en_core")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	// The second fetch only confirms the body: a satisfied range then HEAD.
	assert.Equal(t, 2, f.repo.CountRequests("GET /en_core-1.0.0/archive.gz"))
	assert.Equal(t, 1, f.repo.CountRequests("HEAD /en_core-1.0.0/archive.gz"))
}

func TestFetchCorruptBody(t *testing.T) {
	f := newFixture(t)
	p := f.publish(t, "1.0.0")

	a, err := f.cache.Fetch(context.Background(), "en_core")
	require.NoError(t, err)
	require.NoError(t, a.Close())

	body, err := os.ReadFile(p.BodyPath())
	require.NoError(t, err)
	body[len(body)/2] ^= 0xff
	require.NoError(t, os.WriteFile(p.BodyPath(), body, 0o644))

	_, err = f.cache.Fetch(context.Background(), "en_core")
	require.ErrorIs(t, err, download.ErrInvalidChecksum)
	assert.NoFileExists(t, p.BodyPath())

	a, err = f.cache.Fetch(context.Background(), "en_core")
	require.NoError(t, err)
	require.NoError(t, a.Verify())
	require.NoError(t, a.Close())
}

func TestFetchNotFound(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "1.0.0")

	_, err := f.cache.Fetch(context.Background(), "xx_core")
	require.ErrorIs(t, err, core.ErrPackageNotFound)

	_, err = f.cache.Fetch(context.Background(), "en_core >=2")
	require.ErrorIs(t, err, core.ErrCompatiblePackageNotFound)
}

func TestFetchConcurrent(t *testing.T) {
	f := newFixture(t)
	f.publish(t, "1.0.0")

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.cache.Fetch(context.Background(), "en_core")
			if err == nil {
				err = a.Close()
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestUpdateDiscardsStaleBody(t *testing.T) {
	f := newFixture(t)
	p := f.publish(t, "1.0.0")

	a, err := f.cache.Fetch(context.Background(), "en_core")
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.FileExists(t, p.BodyPath())

	// Same etag keeps the body.
	_, err = f.cache.Update(p.Meta(), p.URL(), p.ETag())
	require.NoError(t, err)
	assert.FileExists(t, p.BodyPath())

	_, err = f.cache.Update(p.Meta(), p.URL(), "changed")
	require.NoError(t, err)
	assert.NoFileExists(t, p.BodyPath())
	assert.True(t, f.cache.Exists("en_core-1.0.0", "changed"))
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	p := f.publish(t, "1.0.0")

	require.NoError(t, f.cache.RemoveIdent(p.Ident()))
	assert.NoDirExists(t, p.Path())
	assert.False(t, f.cache.Exists(p.Ident(), p.ETag()))
}
