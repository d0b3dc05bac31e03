package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFileSystem_Exists(t *testing.T) {
	fsys := OSFileSystem{}

	assert.True(t, fsys.Exists("filesystem.go"))
	assert.False(t, fsys.Exists("nonexistent_file_xyz.go"))
}

func TestOSFileSystem_WriteFileReplaces(t *testing.T) {
	dir := t.TempDir()
	fsys := OSFileSystem{}
	path := filepath.Join(dir, "nested", "features_10.csv")

	require.NoError(t, fsys.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, fsys.WriteFile(path, []byte("first"), 0644))
	require.NoError(t, fsys.WriteFile(path, []byte("second"), 0644))

	data, err := fsys.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := fsys.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())

	// no temp files are left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestOSFileSystem_WriteFileMissingDir(t *testing.T) {
	fsys := OSFileSystem{}
	err := fsys.WriteFile(filepath.Join(t.TempDir(), "missing", "x"), []byte("x"), 0644)
	assert.Error(t, err)
}

func TestMemoryFileSystem_WriteAndRead(t *testing.T) {
	now := time.Date(2023, 5, 4, 10, 0, 0, 0, time.UTC)
	mfs := NewMemoryFileSystem(func() time.Time { return now })
	require.NoError(t, mfs.MkdirAll("/out/p1", 0755))

	require.NoError(t, mfs.WriteFile("/out/p1/a.csv", []byte("hello"), 0644))
	require.NoError(t, mfs.WriteFile("/out/p1/a.csv", []byte("hello, world"), 0644))

	data, err := mfs.ReadFile("/out/p1/a.csv")
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(data))
	assert.Equal(t, 2, mfs.Writes("/out/p1/a.csv"))
	assert.Zero(t, mfs.Writes("/out/p1/b.csv"))

	info, err := mfs.Stat("/out/p1/a.csv")
	require.NoError(t, err)
	assert.Equal(t, int64(12), info.Size())
	assert.Equal(t, now, info.ModTime())
	assert.False(t, info.IsDir())
}

func TestMemoryFileSystem_WriteRequiresDir(t *testing.T) {
	mfs := NewMemoryFileSystem(nil)
	err := mfs.WriteFile("/missing/a.csv", []byte("x"), 0644)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_Open(t *testing.T) {
	mfs := NewMemoryFileSystem(nil)
	require.NoError(t, mfs.WriteFile("/open.txt", []byte("content"), 0644))

	f, err := mfs.Open("/open.txt")
	require.NoError(t, err)
	defer f.Close()

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "open.txt", info.Name())

	_, err = mfs.Open("/nonexistent.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_MkdirAll(t *testing.T) {
	mfs := NewMemoryFileSystem(nil)
	require.NoError(t, mfs.MkdirAll("/a/b/c", 0755))

	for _, dir := range []string{"/a", "/a/b", "/a/b/c"} {
		assert.True(t, mfs.Exists(dir), dir)
		info, err := mfs.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir(), dir)
	}
	_, err := mfs.Stat("/a/x")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMemoryFileSystem_Files(t *testing.T) {
	mfs := NewMemoryFileSystem(nil)
	require.NoError(t, mfs.MkdirAll("/out/p2", 0755))
	require.NoError(t, mfs.MkdirAll("/outer", 0755))
	require.NoError(t, mfs.WriteFile("/out/p2/b", nil, 0644))
	require.NoError(t, mfs.WriteFile("/out/a", nil, 0644))
	require.NoError(t, mfs.WriteFile("/outer/c", nil, 0644))

	assert.Equal(t, []string{"/out/a", "/out/p2/b"}, mfs.Files("/out"))
}

func TestMemoryFileSystem_DataIsolation(t *testing.T) {
	mfs := NewMemoryFileSystem(nil)
	original := []byte("original")
	require.NoError(t, mfs.WriteFile("/iso.txt", original, 0644))
	original[0] = 'X'

	data, err := mfs.ReadFile("/iso.txt")
	require.NoError(t, err)
	data[1] = 'Y'

	again, err := mfs.ReadFile("/./iso.txt")
	require.NoError(t, err)
	assert.Equal(t, "original", string(again))
}
