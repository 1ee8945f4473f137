// Package benchmarks compares gbtree cursor scans with bbolt, mdbx-go and
// RocksDB on the same data.
package benchmarks

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/Giulio2002/gbtree"
	mdbxgo "github.com/erigontech/mdbx-go/mdbx"
	"github.com/tecbot/gorocksdb"
	bolt "go.etcd.io/bbolt"
)

var (
	cacheMu  sync.Mutex
	gbtreeDB = make(map[string]*gbtree.DB)
)

// benchKey writes the big-endian key for i into key.
func benchKey(key []byte, i int) {
	binary.BigEndian.PutUint64(key, uint64(i))
}

// getCachedGbtree returns an in-memory gbtree with size keys, each with dups
// records of 32 bytes. Databases are shared between benchmarks.
func getCachedGbtree(b *testing.B, size, dups int) *gbtree.DB {
	cacheMu.Lock()
	defer cacheMu.Unlock()

	name := fmt.Sprintf("gbtree_%d_%d", size, dups)
	if db, ok := gbtreeDB[name]; ok {
		return db
	}

	opts := gbtree.DefaultOptions()
	opts.CacheSize = 1 << 16
	db, err := gbtree.Open(opts)
	if err != nil {
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, 32)
	for i := 0; i < size; i++ {
		benchKey(key, i)
		for j := 0; j < dups; j++ {
			binary.BigEndian.PutUint64(val, uint64(j))
			if err := db.Insert(key, val, gbtree.Duplicate); err != nil {
				b.Fatal(err)
			}
		}
	}
	gbtreeDB[name] = db
	return db
}

func openBolt(b *testing.B, size, dups int) *bolt.DB {
	db, err := bolt.Open(filepath.Join(b.TempDir(), "bench.bolt"), 0644, &bolt.Options{
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, 32)
	err = db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte("bench"))
		if err != nil {
			return err
		}
		for i := 0; i < size; i++ {
			benchKey(key, i)
			if dups == 1 {
				if err := bucket.Put(key, val); err != nil {
					return err
				}
				continue
			}
			// bbolt has no duplicates: a nested bucket per key
			sub, err := bucket.CreateBucketIfNotExists(key)
			if err != nil {
				return err
			}
			for j := 0; j < dups; j++ {
				var dk [8]byte
				binary.BigEndian.PutUint64(dk[:], uint64(j))
				if err := sub.Put(dk[:], val); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		b.Fatal(err)
	}
	return db
}

func openMdbx(b *testing.B, size, dups int) (*mdbxgo.Env, mdbxgo.DBI) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	env, err := mdbxgo.NewEnv(mdbxgo.Label("bench"))
	if err != nil {
		b.Fatal(err)
	}
	env.SetOption(mdbxgo.OptMaxDB, 10)
	env.SetGeometry(-1, -1, 1<<32, -1, -1, 4096)
	if err := env.Open(filepath.Join(b.TempDir(), "bench.mdbx"), mdbxgo.NoSubdir|mdbxgo.NoMetaSync|mdbxgo.WriteMap, 0644); err != nil {
		env.Close()
		b.Fatal(err)
	}

	txn, err := env.BeginTxn(nil, 0)
	if err != nil {
		b.Fatal(err)
	}
	flags := uint(mdbxgo.Create)
	if dups > 1 {
		flags |= uint(mdbxgo.DupSort)
	}
	dbi, err := txn.OpenDBI("bench", flags, nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	key := make([]byte, 8)
	val := make([]byte, 32)
	for i := 0; i < size; i++ {
		benchKey(key, i)
		for j := 0; j < dups; j++ {
			binary.BigEndian.PutUint64(val, uint64(j))
			if err := txn.Put(dbi, key, val, 0); err != nil {
				b.Fatal(err)
			}
		}
	}
	if _, err := txn.Commit(); err != nil {
		b.Fatal(err)
	}
	return env, dbi
}

func openRocks(b *testing.B, size int) *gorocksdb.DB {
	opts := gorocksdb.NewDefaultOptions()
	opts.SetCreateIfMissing(true)
	opts.SetWriteBufferSize(64 * 1024 * 1024)
	db, err := gorocksdb.OpenDb(opts, filepath.Join(b.TempDir(), "bench.rocks"))
	if err != nil {
		b.Fatal(err)
	}

	wo := gorocksdb.NewDefaultWriteOptions()
	defer wo.Destroy()
	batch := gorocksdb.NewWriteBatch()
	defer batch.Destroy()

	key := make([]byte, 8)
	val := make([]byte, 32)
	for i := 0; i < size; i++ {
		benchKey(key, i)
		batch.Put(key, val)
	}
	if err := db.Write(wo, batch); err != nil {
		b.Fatal(err)
	}
	return db
}

// CleanupBenchCache closes the shared gbtree databases.
func CleanupBenchCache() {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	for _, db := range gbtreeDB {
		db.Close()
	}
	gbtreeDB = make(map[string]*gbtree.DB)
}
