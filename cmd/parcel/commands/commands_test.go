package commands_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/parcel"
	"github.com/meigma/parcel/cmd/parcel/commands"
	"github.com/meigma/parcel/core"
	"github.com/meigma/parcel/internal/testutil"
)

type result struct {
	stdout string
	stderr string
	err    error
}

func isolate(t *testing.T) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(home, "config"))
	t.Setenv("XDG_CACHE_HOME", filepath.Join(home, "cache"))
	for _, key := range []string{"NAME", "VERSION", "DATA_PATH", "REPOSITORY_URL", "OBJECT_ENDPOINT", "LOG_LEVEL", "OUTPUT"} {
		t.Setenv("PARCEL_"+key, "")
		os.Unsetenv("PARCEL_" + key)
	}
}

func execute(t *testing.T, args ...string) result {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cli := commands.New()
	cli.SetArgs(args)
	cli.SetOutput(&stdout, &stderr)
	err := cli.Execute(context.Background())
	return result{stdout: stdout.String(), stderr: stderr.String(), err: err}
}

func decodeStrings(t *testing.T, out string) []string {
	t.Helper()
	var v []string
	require.NoError(t, json.Unmarshal([]byte(out), &v), out)
	return v
}

func publish(t *testing.T, repo *testutil.Repository, names ...string) {
	t.Helper()
	for _, name := range names {
		d := core.Descriptor{Name: name, Version: "1.0.0"}
		repo.Publish(t, testutil.BuildArchive(t, t.TempDir(), d, testutil.SampleFiles()))
	}
}

func TestCommands_BuildInstallFindRemove(t *testing.T) {
	isolate(t)
	data := t.TempDir()
	src := t.TempDir()
	testutil.WriteTree(t, src, map[string]string{
		"package.json": `{"name": "test", "version": "1.0.0", "include": [["data", "*"]]}`,
		"data/x.json":  `{"x": 1}`,
	})

	res := execute(t, "build", src)
	require.NoError(t, res.err)
	archivePath := filepath.Join(src, "test-1.0.0.parcel")
	assert.Equal(t, archivePath+"\n", res.stdout)

	res = execute(t, "--data-path", data, "install", archivePath)
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(data, "test-1.0.0")+"\n", res.stdout)

	res = execute(t, "--data-path", data, "find", "test")
	require.NoError(t, res.err)
	assert.Equal(t, []string{"test-1.0.0"}, decodeStrings(t, res.stdout))

	res = execute(t, "--data-path", data, "files", "test")
	require.NoError(t, res.err)
	var files parcel.FileList
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &files))
	assert.Equal(t, "test-1.0.0", files.Ident)
	require.Contains(t, files.Files, filepath.Join("data", "x.json"))
	assert.Equal(t, uint64(len(`{"x": 1}`)), files.Files[filepath.Join("data", "x.json")].Size)

	res = execute(t, "--data-path", data, "remove", "test")
	require.NoError(t, res.err)
	assert.Equal(t, []string{"test-1.0.0"}, decodeStrings(t, res.stdout))

	res = execute(t, "--data-path", data, "find")
	require.NoError(t, res.err)
	assert.Empty(t, decodeStrings(t, res.stdout))
}

func TestCommands_InstallFromRepository(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	publish(t, repo, "en_core", "de_core")
	data := t.TempDir()

	res := execute(t, "--data-path", data, "--repository-url", repo.URL(), "install", "en_core")
	require.NoError(t, res.err)
	assert.Equal(t, filepath.Join(data, "en_core-1.0.0")+"\n", res.stdout)

	res = execute(t, "--data-path", data, "find", "--cache")
	require.NoError(t, res.err)
	assert.Equal(t, []string{"de_core-1.0.0", "en_core-1.0.0"}, decodeStrings(t, res.stdout))
}

func TestCommands_InstallSuggestsNames(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	publish(t, repo, "en_core", "de_news")

	res := execute(t, "--data-path", t.TempDir(), "--repository-url", repo.URL(), "install", "encore")
	require.ErrorIs(t, res.err, parcel.ErrPackageNotFound)
	assert.Contains(t, res.stderr, "Did you mean: en_core?")
}

func TestCommands_SearchMeta(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	publish(t, repo, "en_core", "de_core")

	res := execute(t, "--data-path", t.TempDir(), "--repository-url", repo.URL(), "search", "en_core", "--meta")
	require.NoError(t, res.err)

	var metas []struct {
		Package core.Descriptor `json:"package"`
		ETag    string          `json:"etag"`
	}
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &metas))
	require.Len(t, metas, 1)
	assert.Equal(t, "en_core", metas[0].Package.Name)
	assert.NotEmpty(t, metas[0].ETag)
}

func TestCommands_YAMLOutput(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	publish(t, repo, "en_core")

	res := execute(t, "--data-path", t.TempDir(), "--repository-url", repo.URL(), "-o", "yaml", "search")
	require.NoError(t, res.err)
	assert.Equal(t, "- en_core-1.0.0\n", res.stdout)
}

func TestCommands_Upload(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	path := testutil.BuildArchive(t, t.TempDir(), core.Descriptor{Name: "en_core", Version: "1.0.0"}, testutil.SampleFiles())

	res := execute(t,
		"--data-path", t.TempDir(),
		"--repository-url", repo.URL(),
		"--object-endpoint", repo.URL()+"/objects/{key}",
		"upload", path,
	)
	require.NoError(t, res.err)
	assert.Equal(t, 1, repo.Reindexed())
}

func TestCommands_Purge(t *testing.T) {
	isolate(t)
	repo := testutil.NewRepository(t)
	publish(t, repo, "en_core")
	data := t.TempDir()

	res := execute(t, "--data-path", data, "--repository-url", repo.URL(), "install", "en_core")
	require.NoError(t, res.err)

	res = execute(t, "--data-path", data, "purge", "--pool")
	require.NoError(t, res.err)

	res = execute(t, "--data-path", data, "find")
	require.NoError(t, res.err)
	assert.Empty(t, decodeStrings(t, res.stdout))

	res = execute(t, "--data-path", data, "find", "--cache")
	require.NoError(t, res.err)
	assert.Len(t, decodeStrings(t, res.stdout), 1)
}

func TestCommands_CreatesDataPath(t *testing.T) {
	isolate(t)
	data := filepath.Join(t.TempDir(), "nested", "data")

	res := execute(t, "--data-path", data, "find")
	require.NoError(t, res.err)
	assert.DirExists(t, data)
}

func TestCommands_InvalidSettings(t *testing.T) {
	isolate(t)

	tests := []struct {
		name string
		args []string
	}{
		{"output", []string{"--output", "xml", "find"}},
		{"log level", []string{"--log-level", "loud", "find"}},
		{"missing config", []string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "find"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := execute(t, append([]string{"--data-path", t.TempDir()}, tt.args...)...)
			require.Error(t, res.err)
		})
	}
}

func TestCommands_Args(t *testing.T) {
	isolate(t)

	res := execute(t, "install")
	require.Error(t, res.err)
	res = execute(t, "build")
	require.Error(t, res.err)
}
