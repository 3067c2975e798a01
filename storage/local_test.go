package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRoundTrip(t *testing.T) {
	store, err := NewLocal(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)

	key, size, err := store.Save(strings.NewReader("payslip"))
	require.NoError(t, err)
	assert.Equal(t, int64(7), size)
	assert.Regexp(t, keyPattern, key)

	rc, err := store.Open(key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "payslip", string(body))

	require.NoError(t, store.Delete(key))
	_, err = store.Open(key)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete(key), ErrNotFound))
}

func TestLocalRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secret"), []byte("x"), 0o600))
	store, err := NewLocal(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	_, err = store.Open("../secret")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(store.Delete("../secret"), ErrNotFound))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestLocalSaveCleansUpOnError(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocal(root)
	require.NoError(t, err)

	_, _, err = store.Save(failingReader{})
	require.Error(t, err)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
