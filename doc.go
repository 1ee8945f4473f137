// Package gbtree is an embedded ordered key-value store organized as a
// B+tree with linked leaves and duplicate keys.
//
// Its core is the cursor engine. A Cursor is in exactly one of three states:
// nil, coupled to a cached leaf page and slot, or uncoupled, holding a
// private copy of its key. Pages never hold pointers to cursors; each page
// keeps the handles of the cursors coupled to it, and any change to a page's
// slot layout (insert, split, erase, eviction) uncouples the affected
// cursors first. An uncoupled cursor re-finds its key on next use.
//
// A key may own many records (duplicates), kept in a side table. Cursors
// walk (key, duplicate) pairs in one linear order: forward in insertion
// order, backward in reverse.
//
// Key features:
//   - Pages in memory or in a bbolt file, behind an LRU page cache
//   - Records up to 8 bytes stored inline, larger ones in a blob store
//     (memory or memory mapped file), optionally zstd compressed
//   - xxhash checksums on page images and blob records
//   - Pluggable allocator for cursor key copies and duplicate tables
//
// Basic usage:
//
//	db, err := gbtree.Open(gbtree.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	db.Insert([]byte("k1"), []byte("r1"), 0)
//	db.Insert([]byte("k1"), []byte("r2"), gbtree.Duplicate)
//
//	c, _ := db.OpenCursor()
//	defer c.Close()
//	for k, v, err := c.MoveTo(gbtree.MoveFirst, 0); err == nil; k, v, err = c.MoveTo(gbtree.MoveNext, 0) {
//	    fmt.Printf("%s=%s\n", k, v)
//	}
package gbtree
