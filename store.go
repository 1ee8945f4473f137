package gbtree

import (
	"encoding/binary"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/Giulio2002/gbtree/internal/bitmap"
	"github.com/Giulio2002/gbtree/internal/fastmap"
)

// PageStore persists page images by id. Page ids are never zero.
type PageStore interface {
	// Load returns the image of page id.
	Load(id PageID) ([]byte, error)
	// Store writes the image of page id.
	Store(id PageID, image []byte) error
	// Allocate reserves a new page id.
	Allocate() (PageID, error)
	// Free releases page id for reuse.
	Free(id PageID) error
	// Root returns the root page id, or zero for an empty store.
	Root() (PageID, error)
	// SetRoot records the root page id.
	SetRoot(id PageID) error
	// Sync makes stored pages durable.
	Sync() error
	// Close releases the store.
	Close() error
}

// MemStore keeps page images in memory.
type MemStore struct {
	images *fastmap.Map[[]byte]
	ids    *bitmap.Bitmap
	root   PageID
}

// NewMemStore returns an empty in-memory page store.
func NewMemStore() *MemStore {
	return &MemStore{
		images: fastmap.New[[]byte](64),
		ids:    bitmap.New(64),
	}
}

func (s *MemStore) Load(id PageID) ([]byte, error) {
	img, ok := s.images.Get(uint32(id))
	if !ok {
		return nil, Errorf(ErrIO, "page %d not stored", id)
	}
	return img, nil
}

func (s *MemStore) Store(id PageID, image []byte) error {
	if id == 0 || !s.ids.IsAllocated(uint32(id)-1) {
		return Errorf(ErrIO, "page %d not allocated", id)
	}
	s.images.Set(uint32(id), append([]byte(nil), image...))
	return nil
}

func (s *MemStore) Allocate() (PageID, error) {
	return PageID(s.ids.Allocate() + 1), nil
}

func (s *MemStore) Free(id PageID) error {
	if id == 0 || !s.ids.IsAllocated(uint32(id)-1) {
		return Errorf(ErrIO, "page %d not allocated", id)
	}
	s.images.Delete(uint32(id))
	s.ids.Free(uint32(id) - 1)
	return nil
}

func (s *MemStore) Root() (PageID, error) { return s.root, nil }

func (s *MemStore) SetRoot(id PageID) error {
	s.root = id
	return nil
}

// Len returns the number of allocated pages.
func (s *MemStore) Len() int { return int(s.ids.Count()) }

func (s *MemStore) Sync() error  { return nil }
func (s *MemStore) Close() error { return nil }

// Bolt bucket names
var (
	boltPagesBucket = []byte("pages")
	boltMetaBucket  = []byte("meta")
	boltFreeBucket  = []byte("free")

	boltRootKey = []byte("root")
)

// BoltStore keeps page images in a bbolt file. Page ids come from the pages
// bucket sequence; freed ids are recycled through the free bucket.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens or creates the bbolt file at path.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{
		Timeout:        time.Second,
		NoSync:         true,
		NoFreelistSync: true,
	})
	if err != nil {
		return nil, WrapError(ErrIO, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltPagesBucket, boltMetaBucket, boltFreeBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, WrapError(ErrIO, err)
	}
	return &BoltStore{db: db}, nil
}

func pageKey(id PageID) []byte {
	var k [4]byte
	binary.BigEndian.PutUint32(k[:], uint32(id))
	return k[:]
}

func (s *BoltStore) Load(id PageID) ([]byte, error) {
	var img []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltPagesBucket).Get(pageKey(id))
		if v == nil {
			return Errorf(ErrIO, "page %d not stored", id)
		}
		// v is only valid inside the transaction
		img = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, wrapBolt(err)
	}
	return img, nil
}

func (s *BoltStore) Store(id PageID, image []byte) error {
	return wrapBolt(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltPagesBucket).Put(pageKey(id), image)
	}))
}

func (s *BoltStore) Allocate() (PageID, error) {
	var id PageID
	err := s.db.Update(func(tx *bolt.Tx) error {
		free := tx.Bucket(boltFreeBucket)
		if k, _ := free.Cursor().First(); k != nil {
			id = PageID(binary.BigEndian.Uint32(k))
			return free.Delete(k)
		}
		seq, err := tx.Bucket(boltPagesBucket).NextSequence()
		if err != nil {
			return err
		}
		if seq > uint64(^uint32(0)) {
			return Errorf(ErrLimitsReached, "page id space exhausted")
		}
		id = PageID(seq)
		return nil
	})
	if err != nil {
		return 0, wrapBolt(err)
	}
	return id, nil
}

func (s *BoltStore) Free(id PageID) error {
	return wrapBolt(s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.Bucket(boltPagesBucket).Delete(pageKey(id)); err != nil {
			return err
		}
		return tx.Bucket(boltFreeBucket).Put(pageKey(id), []byte{})
	}))
}

func (s *BoltStore) Root() (PageID, error) {
	var id PageID
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(boltMetaBucket).Get(boltRootKey); len(v) == 4 {
			id = PageID(binary.BigEndian.Uint32(v))
		}
		return nil
	})
	return id, wrapBolt(err)
}

func (s *BoltStore) SetRoot(id PageID) error {
	return wrapBolt(s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltMetaBucket).Put(boltRootKey, pageKey(id))
	}))
}

func (s *BoltStore) Sync() error {
	return wrapBolt(s.db.Sync())
}

func (s *BoltStore) Close() error {
	return wrapBolt(s.db.Close())
}

// wrapBolt maps bbolt failures to ErrIO and passes gbtree errors through.
func wrapBolt(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*Error); ok {
		return err
	}
	return WrapError(ErrIO, err)
}
