package fs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFSRoundtrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file")

	f, err := Default.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	info, err := Default.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())

	require.NoError(t, Default.Rename(path, path+".new"))
	require.NoError(t, Default.Remove(path+".new"))
	_, err = Default.Stat(path + ".new")
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFSFailAfterBytes(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("victim", Fault{FailAfterBytes: 4})

	path := filepath.Join(t.TempDir(), "victim")
	f, err := faulty.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.Write([]byte("1234"))
	require.NoError(t, err)
	_, err = f.Write([]byte("5"))
	assert.ErrorIs(t, err, ErrInjected)
}

func TestFaultyFSFailOnSync(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("victim", Fault{FailAfterBytes: -1, FailOnSync: true})

	path := filepath.Join(t.TempDir(), "victim")
	f, err := faulty.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.Write([]byte("data"))
	require.NoError(t, err)
	assert.ErrorIs(t, f.Sync(), ErrInjected)
}

func TestFaultyFSUnmatchedFilesPassThrough(t *testing.T) {
	faulty := NewFaultyFS(nil)
	faulty.AddRule("victim", Fault{FailAfterBytes: 0})

	path := filepath.Join(t.TempDir(), "innocent")
	f, err := faulty.OpenFile(path, os.O_WRONLY|os.O_CREATE, 0o644)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	_, err = f.Write([]byte("plenty of bytes"))
	assert.NoError(t, err)
	assert.NoError(t, f.Sync())
}
