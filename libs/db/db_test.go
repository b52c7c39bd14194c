package db

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempDB(t *testing.T, backend DBBackendType, counts uint64) DB {
	dir, err := ioutil.TempDir("", "dbtest")
	require.NoError(t, err)
	db, err := NewDB("test", backend, dir, counts)
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
		os.RemoveAll(dir)
	})
	return db
}

func backendsUnderTest(t *testing.T) map[string]DB {
	return map[string]DB{
		"memdb":             newTempDB(t, MemDBBackend, 1),
		"goleveldb":         newTempDB(t, GoLevelDBBackend, 1),
		"goleveldb sharded": newTempDB(t, GoLevelDBBackend, 4),
	}
}

func TestSetGetDelete(t *testing.T) {
	for name, db := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.Nil(t, db.Get([]byte("a")))
			assert.False(t, db.Has([]byte("a")))

			db.Set([]byte("a"), []byte("1"))
			db.SetSync([]byte("b"), []byte("2"))
			assert.Equal(t, []byte("1"), db.Get([]byte("a")))
			assert.True(t, db.Has([]byte("b")))

			db.Delete([]byte("a"))
			db.DeleteSync([]byte("b"))
			assert.Nil(t, db.Get([]byte("a")))
			assert.False(t, db.Has([]byte("b")))
		})
	}
}

func TestPrefixIteratorVisitsEveryShard(t *testing.T) {
	for name, db := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			var want []string
			for i := 0; i < 50; i++ {
				k := fmt.Sprintf("n:%02d", i)
				db.Set([]byte(k), []byte{byte(i)})
				want = append(want, k)
			}
			db.Set([]byte("m:zz"), []byte("other"))
			db.Set([]byte("o:aa"), []byte("other"))

			var got []string
			it := db.NewIteratorWithPrefix([]byte("n:"))
			for ; it.Valid(); it.Next() {
				got = append(got, string(it.Key()))
				assert.Len(t, it.Value(), 1)
			}
			it.Close()
			sort.Strings(got)
			assert.Equal(t, want, got)
		})
	}
}

func TestBatch(t *testing.T) {
	for name, db := range backendsUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			db.Set([]byte("gone"), []byte("x"))

			batch := db.NewBatch()
			batch.Set([]byte("k1"), []byte("v1"))
			batch.Set([]byte("k2"), []byte("v2"))
			batch.Delete([]byte("gone"))
			assert.Equal(t, 5, batch.ValueSize())
			batch.Write()

			assert.Equal(t, []byte("v1"), db.Get([]byte("k1")))
			assert.Equal(t, []byte("v2"), db.Get([]byte("k2")))
			assert.Nil(t, db.Get([]byte("gone")))

			batch.Reset()
			assert.Equal(t, 0, batch.ValueSize())
		})
	}
}

func TestRangeIterator(t *testing.T) {
	db := newTempDB(t, MemDBBackend, 1)
	for _, k := range []string{"a", "b", "c", "d"} {
		db.Set([]byte(k), []byte(k))
	}
	var got []string
	it := db.Iterator([]byte("b"), []byte("d"))
	defer it.Close()
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	assert.Equal(t, []string{"b", "c"}, got)
}

func TestUnknownBackend(t *testing.T) {
	_, err := NewDB("x", DBBackendType("nope"), "", 1)
	assert.Error(t, err)
}

func TestPrefixToEnd(t *testing.T) {
	assert.Equal(t, []byte("n;"), PrefixToEnd([]byte("n:")))
	assert.Equal(t, []byte{0x02}, PrefixToEnd([]byte{0x01, 0xff}))
	assert.Nil(t, PrefixToEnd([]byte{0xff, 0xff}))
}
