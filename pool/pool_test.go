package pool

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/fsutil"
	"github.com/meigma/parcel/internal/testutil"
)

func desc(version string) core.Descriptor {
	return core.Descriptor{Name: "en_core", Version: version, License: "MIT"}
}

func plentyOfSpace(context.Context, string) (uint64, error) {
	return 1 << 40, nil
}

func newPool(tb testing.TB, dataPath string) *Pool {
	tb.Helper()
	p, err := New(dataPath, WithFreeSpaceFunc(plentyOfSpace))
	require.NoError(tb, err)
	return p
}

func TestInstall(t *testing.T) {
	dataPath := t.TempDir()
	p := newPool(t, dataPath)
	a := testutil.OpenArchive(t, desc("1.0.0"), testutil.SampleFiles())

	path, err := p.Install(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataPath, "en_core-1.0.0"), path)
	assert.NoDirExists(t, path+fsutil.TmpSuffix)

	pkg, ok := p.Lookup("en_core-1.0.0")
	require.True(t, ok)
	assert.Equal(t, desc("1.0.0"), pkg.Descriptor())
	assert.Len(t, pkg.Manifest(), 3)
	assert.FileExists(t, filepath.Join(path, "meta.json"))

	data, err := os.ReadFile(filepath.Join(path, "vocab", "strings.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b","c"]`, string(data))
}

func TestInstallTwice(t *testing.T) {
	p := newPool(t, t.TempDir())
	a := testutil.OpenArchive(t, desc("1.0.0"), testutil.SampleFiles())

	_, err := p.Install(context.Background(), a)
	require.NoError(t, err)
	_, err = p.Install(context.Background(), a)
	require.ErrorIs(t, err, ErrAlreadyInstalled)
	assert.Equal(t, 1, p.Len())
}

func TestInstallReplacesOtherVersions(t *testing.T) {
	dataPath := t.TempDir()
	p := newPool(t, dataPath)
	ctx := context.Background()

	_, err := p.Install(ctx, testutil.OpenArchive(t, desc("1.0.0"), testutil.SampleFiles()))
	require.NoError(t, err)
	_, err = p.Install(ctx, testutil.OpenArchive(t, desc("2.0.0"), testutil.SampleFiles()))
	require.NoError(t, err)

	assert.Equal(t, []string{"en_core-2.0.0"}, p.Idents())
	assert.NoDirExists(t, filepath.Join(dataPath, "en_core-1.0.0"))
}

func TestInstallNotEnoughSpace(t *testing.T) {
	dataPath := t.TempDir()
	p := newPool(t, dataPath)
	_, err := p.Install(context.Background(), testutil.OpenArchive(t, desc("1.0.0"), testutil.SampleFiles()))
	require.NoError(t, err)

	p.freeSpace = func(context.Context, string) (uint64, error) { return 10, nil }
	a := testutil.OpenArchive(t, desc("2.0.0"), testutil.SampleFiles())
	_, err = p.Install(context.Background(), a)
	require.ErrorIs(t, err, ErrNotEnoughSpace)

	var spaceErr *NotEnoughSpaceError
	require.ErrorAs(t, err, &spaceErr)
	assert.Equal(t, a.Size(), spaceErr.Required)
	assert.Equal(t, uint64(10), spaceErr.Available)
	assert.Contains(t, err.Error(), "requires 0.00 MB")

	// The installed version is kept when the check fails.
	assert.Equal(t, []string{"en_core-1.0.0"}, p.Idents())
	assert.NoDirExists(t, filepath.Join(dataPath, "en_core-2.0.0"))
}

type failingArchive struct {
	desc core.Descriptor
}

func (f failingArchive) Descriptor() core.Descriptor { return f.desc }
func (f failingArchive) Size() uint64 { return 1 }
func (f failingArchive) ExtractAll(dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dest, "partial"), []byte("x"), 0o644); err != nil {
		return err
	}
	return errors.New("disk on fire")
}

func TestInstallFailureRemovesTmp(t *testing.T) {
	dataPath := t.TempDir()
	p := newPool(t, dataPath)

	_, err := p.Install(context.Background(), failingArchive{desc: desc("1.0.0")})
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dataPath, "en_core-1.0.0.tmp"))
	assert.NoDirExists(t, filepath.Join(dataPath, "en_core-1.0.0"))
	assert.Zero(t, p.Len())
}

func TestNewPurgesTmp(t *testing.T) {
	dataPath := t.TempDir()
	p := newPool(t, dataPath)
	path, err := p.Install(context.Background(), testutil.OpenArchive(t, desc("1.0.0"), testutil.SampleFiles()))
	require.NoError(t, err)

	// Simulate a crash during install and one during removal.
	testutil.WriteTree(t, filepath.Join(dataPath, "en_core-2.0.0.tmp"), map[string]string{"meta.json": "{}"})
	require.NoError(t, os.Rename(path, path+fsutil.TmpSuffix))

	p = newPool(t, dataPath)
	assert.Zero(t, p.Len())
	entries, err := os.ReadDir(dataPath)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPoolGetAndRemove(t *testing.T) {
	p := newPool(t, t.TempDir())
	_, err := p.Install(context.Background(), testutil.OpenArchive(t, desc("1.2.0"), testutil.SampleFiles()))
	require.NoError(t, err)

	pkg, err := p.Get("en_core >=1.0")
	require.NoError(t, err)
	assert.Equal(t, "en_core-1.2.0", pkg.Ident())

	_, err = p.Get("en_core >=2")
	require.ErrorIs(t, err, core.ErrCompatiblePackageNotFound)

	require.NoError(t, p.Remove(pkg))
	_, err = p.Get("en_core")
	require.ErrorIs(t, err, core.ErrPackageNotFound)
}
