package local_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-harvester/internal/storage/local"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("reader broke") }

func TestNew(t *testing.T) {
	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "exports", "nested")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)

		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "write probe must be cleaned up")
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{BaseDir: "  "})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

		_, err := local.New(local.Config{BaseDir: file})
		assert.ErrorContains(t, err, "not a directory")
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		dir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(dir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- restore permissions so the temp dir can be removed.
			_ = os.Chmod(dir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: dir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	dir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)

	t.Run("WritesNestedFile", func(t *testing.T) {
		body := "id,name\n55,Mesin Cuci\n"
		uri, err := store.PutObject(context.Background(), "exports/mesin-cuci.csv", "text/csv", strings.NewReader(body))
		require.NoError(t, err)

		path := filepath.Join(dir, "exports", "mesin-cuci.csv")
		assert.Equal(t, "file://"+path, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, body, string(got))
	})

	t.Run("OverwritesExisting", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "same.csv", "text/csv", strings.NewReader("first"))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "same.csv", "text/csv", strings.NewReader("second"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		got, err := os.ReadFile(filepath.Join(dir, "same.csv"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "text/csv", strings.NewReader("data"))
		assert.Error(t, err)
	})

	t.Run("RejectsTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.csv", "text/csv", strings.NewReader("data"))
		assert.ErrorContains(t, err, "escapes base directory")
	})

	t.Run("ReaderFailureLeavesNothing", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "broken/out.csv", "text/csv", failingReader{})
		require.ErrorContains(t, err, "reader broke")

		entries, err := os.ReadDir(filepath.Join(dir, "broken"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}
