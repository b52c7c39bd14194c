package db

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	lerrors "github.com/syndtr/goleveldb/leveldb/errors"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

func init() {
	dbCreator := func(name string, dir string, counts uint64) (DB, error) {
		return NewGoLevelDB(name, dir, counts)
	}
	registerDBCreator(LevelDBBackend, dbCreator, false)
	registerDBCreator(GoLevelDBBackend, dbCreator, false)
}

var _ DB = (*GoLevelDB)(nil)

// GoLevelDB spreads keys over several leveldb instances by murmur3 hash.
type GoLevelDB struct {
	dbPaths  []string
	dbs      []*leveldb.DB
	dbCounts uint64
}

func NewGoLevelDB(name string, dir string, counts uint64) (*GoLevelDB, error) {
	dbCounts := dbCountsPreCheck(counts)
	dbs := make([]*leveldb.DB, dbCounts)
	dbPaths := make([]string, dbCounts)

	for index := uint64(0); index < dbCounts; index++ {
		dbPath := filepath.Join(dir, genDbName(name, index)+".db")
		db, err := leveldb.OpenFile(dbPath, nil)
		if lerrors.IsCorrupted(err) {
			db, err = leveldb.RecoverFile(dbPath, nil)
		}
		if err != nil {
			for _, opened := range dbs[:index] {
				opened.Close()
			}
			return nil, errors.Wrapf(err, "open %s", dbPath)
		}
		dbs[index] = db
		dbPaths[index] = dbPath
	}

	return &GoLevelDB{
		dbPaths:  dbPaths,
		dbs:      dbs,
		dbCounts: dbCounts,
	}, nil
}

func (db *GoLevelDB) Dir() string {
	return filepath.Dir(db.dbPaths[0])
}

func (db *GoLevelDB) shard(key []byte) *leveldb.DB {
	return db.dbs[dbIndex(key, db.dbCounts)]
}

// Implements DB.
func (db *GoLevelDB) Get(key []byte) []byte {
	key = nonNilBytes(key)
	res, err := db.shard(key).Get(key, nil)
	if err != nil {
		if err == lerrors.ErrNotFound {
			return nil
		}
		panic(err)
	}
	return res
}

// Implements DB.
func (db *GoLevelDB) Has(key []byte) bool {
	return db.Get(key) != nil
}

// Implements DB.
func (db *GoLevelDB) Set(key []byte, value []byte) {
	db.put(key, value, nil)
}

// Implements DB.
func (db *GoLevelDB) SetSync(key []byte, value []byte) {
	db.put(key, value, &opt.WriteOptions{Sync: true})
}

func (db *GoLevelDB) put(key, value []byte, wo *opt.WriteOptions) {
	key = nonNilBytes(key)
	value = nonNilBytes(value)
	if err := db.shard(key).Put(key, value, wo); err != nil {
		panic(err)
	}
}

// Implements DB.
func (db *GoLevelDB) Delete(key []byte) {
	db.del(key, nil)
}

// Implements DB.
func (db *GoLevelDB) DeleteSync(key []byte) {
	db.del(key, &opt.WriteOptions{Sync: true})
}

func (db *GoLevelDB) del(key []byte, wo *opt.WriteOptions) {
	key = nonNilBytes(key)
	if err := db.shard(key).Delete(key, wo); err != nil {
		panic(err)
	}
}

// Implements DB.
func (db *GoLevelDB) Close() {
	for _, d := range db.dbs {
		d.Close()
	}
}

// Implements DB.
func (db *GoLevelDB) Stats() map[string]string {
	keys := []string{
		"leveldb.stats",
		"leveldb.sstables",
		"leveldb.blockpool",
		"leveldb.cachedblock",
		"leveldb.openedtables",
		"leveldb.alivesnaps",
		"leveldb.aliveiters",
	}

	stats := make(map[string]string)
	for index, d := range db.dbs {
		for _, key := range keys {
			str, err := d.GetProperty(key)
			if err == nil {
				stats[genStatsKey(key, uint64(index))] = str
			}
		}
	}
	return stats
}

//----------------------------------------
// Batch

// Implements DB.
func (db *GoLevelDB) NewBatch() Batch {
	batchs := make([]*leveldb.Batch, db.dbCounts)
	for index := range batchs {
		batchs[index] = new(leveldb.Batch)
	}
	return &goLevelDBBatch{db: db, batchs: batchs}
}

type goLevelDBBatch struct {
	db     *GoLevelDB
	batchs []*leveldb.Batch
	size   int
}

// Implements Batch.
func (mBatch *goLevelDBBatch) Set(key, value []byte) {
	key = nonNilBytes(key)
	value = nonNilBytes(value)
	mBatch.batchs[dbIndex(key, mBatch.db.dbCounts)].Put(key, value)
	mBatch.size += len(value)
}

// Implements Batch.
func (mBatch *goLevelDBBatch) Delete(key []byte) {
	key = nonNilBytes(key)
	mBatch.batchs[dbIndex(key, mBatch.db.dbCounts)].Delete(key)
	mBatch.size++
}

// Implements Batch.
func (mBatch *goLevelDBBatch) Write() {
	mBatch.write(false)
}

// Implements Batch.
func (mBatch *goLevelDBBatch) WriteSync() {
	mBatch.write(true)
}

// write commits every shard's batch in parallel.
func (mBatch *goLevelDBBatch) write(doSync bool) {
	var wg sync.WaitGroup
	errs := make([]error, len(mBatch.batchs))
	for index := range mBatch.batchs {
		if mBatch.batchs[index].Len() == 0 {
			continue
		}
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			errs[index] = mBatch.db.dbs[index].Write(mBatch.batchs[index], &opt.WriteOptions{Sync: doSync})
		}(index)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			panic(err)
		}
	}
}

func (mBatch *goLevelDBBatch) ValueSize() int {
	return mBatch.size
}

func (mBatch *goLevelDBBatch) Reset() {
	for _, b := range mBatch.batchs {
		b.Reset()
	}
	mBatch.size = 0
}

//----------------------------------------
// Iterator

// Implements DB.
func (db *GoLevelDB) Iterator(start, end []byte) Iterator {
	itrs := make([]iterator.Iterator, db.dbCounts)
	for index, d := range db.dbs {
		itrs[index] = d.NewIterator(&util.Range{Start: start, Limit: end}, nil)
	}
	return newGoLevelDBIterator(itrs, start, end)
}

// Implements DB.
func (db *GoLevelDB) NewIteratorWithPrefix(prefix []byte) Iterator {
	itrs := make([]iterator.Iterator, db.dbCounts)
	for index, d := range db.dbs {
		itrs[index] = d.NewIterator(util.BytesPrefix(prefix), nil)
	}
	return newGoLevelDBIterator(itrs, prefix, PrefixToEnd(prefix))
}

// goLevelDBIterator walks the shards one after another.
type goLevelDBIterator struct {
	sources []iterator.Iterator
	dbIndex int
	start   []byte
	end     []byte
}

var _ Iterator = (*goLevelDBIterator)(nil)

func newGoLevelDBIterator(sources []iterator.Iterator, start, end []byte) *goLevelDBIterator {
	itr := &goLevelDBIterator{sources: sources, start: start, end: end}
	sources[0].First()
	itr.skipExhausted()
	return itr
}

// skipExhausted moves to the first shard that still has a key.
func (itr *goLevelDBIterator) skipExhausted() {
	for itr.dbIndex < len(itr.sources) && !itr.sources[itr.dbIndex].Valid() {
		itr.dbIndex++
		if itr.dbIndex < len(itr.sources) {
			itr.sources[itr.dbIndex].First()
		}
	}
}

// Implements Iterator.
func (itr *goLevelDBIterator) Domain() ([]byte, []byte) {
	return itr.start, itr.end
}

// Implements Iterator.
func (itr *goLevelDBIterator) Valid() bool {
	return itr.dbIndex < len(itr.sources)
}

// Implements Iterator.
func (itr *goLevelDBIterator) Key() []byte {
	// Key returns a copy of the current key.
	itr.assertIsValid()
	return cp(itr.sources[itr.dbIndex].Key())
}

// Implements Iterator.
func (itr *goLevelDBIterator) Value() []byte {
	// Value returns a copy of the current value.
	itr.assertIsValid()
	return cp(itr.sources[itr.dbIndex].Value())
}

// Implements Iterator.
func (itr *goLevelDBIterator) Next() bool {
	if !itr.Valid() {
		return false
	}
	itr.sources[itr.dbIndex].Next()
	itr.skipExhausted()
	return itr.Valid()
}

// Implements Iterator.
func (itr *goLevelDBIterator) Close() {
	for _, src := range itr.sources {
		src.Release()
	}
	itr.dbIndex = len(itr.sources)
}

func (itr *goLevelDBIterator) assertIsValid() {
	if !itr.Valid() {
		panic("goLevelDBIterator is invalid")
	}
}
