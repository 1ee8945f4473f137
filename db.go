package gbtree

import (
	"log/slog"
)

// DB is an ordered key-value store. A DB and its cursors belong to one
// goroutine at a time; independent DBs may be used concurrently.
type DB struct {
	opts  Options
	store PageStore
	blobs BlobStore
	arena *cursorArena
	pager *pager
	tree  *tree
	log   *slog.Logger
}

// Stat holds database statistics.
type Stat struct {
	Root         uint32 // Root page id
	CachedPages  int    // Pages currently cached
	CacheSize    int    // Cache capacity in pages
	PageLoads    uint64 // Pages read from the page store
	PageWrites   uint64 // Pages written to the page store
	Evictions    uint64 // Pages dropped from the cache
	Splits       uint64 // Page splits (leaf and branch)
	LeafRemovals uint64 // Empty leaves removed from the tree
	OpenCursors  int    // Cursors not yet closed
}

// Open opens a database with the given options. Unset fields take their
// defaults.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger

	var store PageStore
	switch opts.Backend {
	case BackendBolt:
		bs, err := OpenBoltStore(opts.Path)
		if err != nil {
			return nil, err
		}
		store = bs
	default:
		store = NewMemStore()
	}

	var blobs BlobStore
	switch opts.BlobBackend {
	case BlobFile:
		fs, err := OpenFileBlobStore(opts.Path + ".blobs")
		if err != nil {
			store.Close()
			return nil, err
		}
		blobs = fs
	default:
		blobs = NewMemBlobStore()
	}
	if opts.Compression == CompressionZstd {
		cb, err := newCompressedBlobs(blobs, opts.CompressMinSize)
		if err != nil {
			blobs.Close()
			store.Close()
			return nil, WrapError(ErrIO, err)
		}
		blobs = cb
	}

	db := &DB{
		opts:  opts,
		store: store,
		blobs: blobs,
		log:   log,
	}
	db.arena = newCursorArena(log)
	db.pager = newPager(store, opts.CacheSize, db.arena, log)
	dups := &dupStore{records: records{blobs: blobs}, alloc: opts.Allocator}

	t, err := openTree(db.pager, dups, db.arena, &opts)
	if err != nil {
		blobs.Close()
		store.Close()
		return nil, err
	}
	db.tree = t

	log.Info("opened database",
		"path", opts.Path,
		"backend", opts.Backend,
		"blobs", opts.BlobBackend,
		"root", t.root,
		"page_capacity", opts.PageCapacity,
		"cache", opts.CacheSize)
	return db, nil
}

// Close flushes and closes the database. Open cursors become nil; any
// further use fails with ErrNotInitialized.
func (db *DB) Close() error {
	if db.tree == nil {
		return nil
	}
	db.arena.forEach(func(c *Cursor) {
		c.SetToNil()
	})

	err := db.pager.flush()
	db.pager.drop()
	db.tree = nil

	if cerr := db.blobs.Close(); err == nil {
		err = cerr
	}
	if cerr := db.store.Close(); err == nil {
		err = cerr
	}
	db.log.Info("closed database", "path", db.opts.Path)
	return err
}

// Flush writes every dirty page and syncs both stores.
func (db *DB) Flush() error {
	if db.tree == nil {
		return ErrNotInitializedError
	}
	if err := db.pager.flush(); err != nil {
		return err
	}
	return db.blobs.Sync()
}

// Insert stores (key, record). See Overwrite and Duplicate.
func (db *DB) Insert(key, record []byte, flags uint) error {
	if db.tree == nil {
		return ErrNotInitializedError
	}
	if flags&(DupInsertBefore|DupInsertAfter) != 0 {
		return Errorf(ErrInvalidParameter, "relative duplicate insert needs a cursor")
	}
	_, _, _, err := db.tree.insert(key, record, flags, 0)
	return err
}

// Find returns the first record of key.
func (db *DB) Find(key []byte) ([]byte, error) {
	if db.tree == nil {
		return nil, ErrNotInitializedError
	}
	p, slot, err := db.tree.find(key)
	if err != nil {
		return nil, err
	}
	g := db.pager.pin(p)
	defer g.Release()

	e, err := db.tree.dups.slotEntry(&p.slots[slot], 0)
	if err != nil {
		return nil, err
	}
	return db.tree.dups.decode(e.Flags, e.RID)
}

// Erase removes key with all of its duplicates.
func (db *DB) Erase(key []byte) error {
	if db.tree == nil {
		return ErrNotInitializedError
	}
	return db.tree.erase(key, 0, true)
}

// OpenCursor returns a new nil cursor.
func (db *DB) OpenCursor() (*Cursor, error) {
	if db.tree == nil {
		return nil, ErrNotInitializedError
	}
	return newCursor(db), nil
}

// SetCacheSize changes the page cache capacity, evicting as needed.
func (db *DB) SetCacheSize(pages int) error {
	if pages < 1 {
		return Errorf(ErrInvalidParameter, "cache size must be positive")
	}
	if db.tree == nil {
		return ErrNotInitializedError
	}
	db.opts.CacheSize = pages
	db.pager.setCapacity(pages)
	return nil
}

// Stat returns database statistics.
func (db *DB) Stat() Stat {
	s := Stat{
		CacheSize:   db.opts.CacheSize,
		OpenCursors: db.arena.len(),
	}
	if db.tree == nil {
		return s
	}
	s.Root = uint32(db.tree.root)
	s.CachedPages = db.pager.pages.Len()
	s.PageLoads = db.pager.loads
	s.PageWrites = db.pager.writes
	s.Evictions = db.pager.evictions
	s.Splits = db.tree.splits
	s.LeafRemovals = db.tree.removes
	return s
}

// Options returns the options the database was opened with.
func (db *DB) Options() Options {
	return db.opts
}
