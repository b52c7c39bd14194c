package pastry

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadOrGenNodeKey(t *testing.T) {
	dir, err := ioutil.TempDir("", "nodekey")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "node_key.json")

	k1, err := LoadOrGenNodeKey(path)
	require.NoError(t, err)
	k2, err := LoadOrGenNodeKey(path)
	require.NoError(t, err)
	assert.Equal(t, k1.PrivKey, k2.PrivKey)
	assert.Equal(t, k1.GUID(), k2.GUID())

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), fi.Mode().Perm())
}

func TestLoadNodeKeyRejectsGarbage(t *testing.T) {
	dir, err := ioutil.TempDir("", "nodekey")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "bad.json")
	require.NoError(t, ioutil.WriteFile(path, []byte("{"), 0600))
	_, err = LoadNodeKey(path)
	assert.Error(t, err)

	require.NoError(t, ioutil.WriteFile(path, []byte(`{"priv_key":"AAEC"}`), 0600))
	_, err = LoadNodeKey(path)
	assert.Error(t, err)

	_, err = LoadNodeKey(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
