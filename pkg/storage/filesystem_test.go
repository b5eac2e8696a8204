package storage

import (
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalStorageSaveOpenDelete(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	n, err := store.SaveStream("user-1/avatar.png", strings.NewReader("pngdata"), 1024)
	require.NoError(t, err)
	require.Equal(t, int64(7), n)

	f, err := store.Open("user-1/avatar.png")
	require.NoError(t, err)
	body, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.Equal(t, "pngdata", string(body))

	require.NoError(t, store.Delete("user-1/avatar.png"))
	require.NoError(t, store.Delete("user-1/avatar.png"))

	_, err = store.Open("user-1/avatar.png")
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestLocalStorageRejectsOversizedStream(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("big.png", strings.NewReader(strings.Repeat("x", 11)), 10)
	require.ErrorIs(t, err, ErrTooLarge)

	_, err = store.Open("big.png")
	require.Error(t, err)
}

func TestLocalStorageRejectsTraversal(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = store.SaveStream("../escape.png", strings.NewReader("x"), 0)
	require.ErrorIs(t, err, ErrInvalidName)
	_, err = store.Open("/etc/passwd")
	require.ErrorIs(t, err, ErrInvalidName)
}
