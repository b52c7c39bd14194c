package common

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnsureDir(t *testing.T) {
	tmp, err := ioutil.TempDir("", "ensure-dir")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)

	dir := filepath.Join(tmp, "a", "b")
	require.NoError(t, EnsureDir(dir, 0700))
	assert.True(t, FileExists(dir))
	// second call is a no-op
	require.NoError(t, EnsureDir(dir, 0700))

	file := filepath.Join(tmp, "file")
	require.NoError(t, ioutil.WriteFile(file, []byte("x"), 0600))
	assert.Error(t, EnsureDir(filepath.Join(file, "sub"), 0700))
}

func TestWriteFileAtomic(t *testing.T) {
	tmp, err := ioutil.TempDir("", "write-atomic")
	require.NoError(t, err)
	defer os.RemoveAll(tmp)

	name := filepath.Join(tmp, "data.json")
	require.NoError(t, WriteFileAtomic(name, []byte("first"), 0600))
	require.NoError(t, WriteFileAtomic(name, []byte("second"), 0600))

	data, err := ioutil.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	info, err := os.Stat(name)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	entries, err := ioutil.ReadDir(tmp)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestPanicSanity(t *testing.T) {
	assert.Panics(t, func() { PanicSanity("broken") })
}
