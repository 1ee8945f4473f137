package gbtree

import (
	"log/slog"
)

// tree is a B+tree over the pager. Leaves hold the key slots and are linked
// to their siblings; branches hold separators, where child i covers the keys
// k with keys[i-1] <= k < keys[i].
//
// Every change to a leaf's slot layout first uncouples the cursors whose
// slots are affected, so no cursor ever points at a moved or freed slot.
type tree struct {
	pager      *pager
	dups       *dupStore
	arena      *cursorArena
	cmp        CompareFunc
	root       PageID
	capacity   int
	duplicates bool
	log        *slog.Logger

	splits  uint64
	removes uint64
}

// pathStep is one branch on the way from the root to a leaf.
type pathStep struct {
	p  *page
	ci int // index of the child taken
}

// openTree loads the root from the store or creates an empty root leaf.
func openTree(pg *pager, dups *dupStore, arena *cursorArena, opts *Options) (*tree, error) {
	t := &tree{
		pager:      pg,
		dups:       dups,
		arena:      arena,
		cmp:        opts.Compare,
		capacity:   opts.PageCapacity,
		duplicates: opts.Duplicates,
		log:        opts.Logger,
	}
	root, err := pg.store.Root()
	if err != nil {
		return nil, err
	}
	if root != 0 {
		t.root = root
		return t, nil
	}
	p, err := pg.alloc(pageLeaf)
	if err != nil {
		return nil, err
	}
	if err := t.setRoot(p.id); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *tree) setRoot(id PageID) error {
	t.root = id
	return t.pager.store.SetRoot(id)
}

// descend walks from the root to the leaf covering key. Every page on the
// path stays pinned until release is called.
func (t *tree) descend(key []byte) (path []pathStep, leaf *page, release func(), err error) {
	var guards []PageGuard
	release = func() {
		for i := range guards {
			guards[i].Release()
		}
	}

	p, err := t.pager.fetch(t.root)
	if err != nil {
		return nil, nil, release, err
	}
	guards = append(guards, t.pager.pin(p))
	for p.isBranch() {
		ci := p.childIndex(key, t.cmp)
		path = append(path, pathStep{p: p, ci: ci})
		child, err := t.pager.fetch(p.children[ci])
		if err != nil {
			return nil, nil, release, err
		}
		guards = append(guards, t.pager.pin(child))
		p = child
	}
	return path, p, release, nil
}

// find returns the leaf and slot holding key.
func (t *tree) find(key []byte) (*page, int, error) {
	_, leaf, release, err := t.descend(key)
	release()
	if err != nil {
		return nil, 0, err
	}
	pos, found := leaf.search(key, t.cmp)
	if !found {
		return nil, 0, ErrKeyNotFoundError
	}
	return leaf, pos, nil
}

// edge returns the leftmost (or rightmost) leaf. An empty tree reports
// ErrKeyNotFound.
func (t *tree) edge(last bool) (*page, error) {
	p, err := t.pager.fetch(t.root)
	if err != nil {
		return nil, err
	}
	for p.isBranch() {
		ci := 0
		if last {
			ci = len(p.children) - 1
		}
		if p, err = t.pager.fetch(p.children[ci]); err != nil {
			return nil, err
		}
	}
	if len(p.slots) == 0 {
		return nil, ErrKeyNotFoundError
	}
	return p, nil
}

// insert stores (key, record). With Overwrite an existing record is
// replaced (duplicate ref of a key with duplicates); with Duplicate the
// record is added to the key's duplicates at the position chosen by the
// DupInsert flags, relative to ref for Before/After. It returns where the
// record landed.
func (t *tree) insert(key, record []byte, flags uint, ref int) (*page, int, int, error) {
	if len(key) > MaxKeySize {
		return nil, 0, 0, Errorf(ErrLimitsReached, "key of %d bytes", len(key))
	}
	if flags&Overwrite != 0 && flags&Duplicate != 0 {
		return nil, 0, 0, Errorf(ErrInvalidParameter, "Overwrite and Duplicate are exclusive")
	}
	if flags&Duplicate != 0 && !t.duplicates {
		return nil, 0, 0, Errorf(ErrInvalidParameter, "database does not allow duplicates")
	}

	path, leaf, release, err := t.descend(key)
	defer release()
	if err != nil {
		return nil, 0, 0, err
	}

	pos, found := leaf.search(key, t.cmp)
	if found {
		switch {
		case flags&Overwrite != 0:
			n, err := t.dups.slotCount(&leaf.slots[pos])
			if err != nil {
				return nil, 0, 0, err
			}
			dup := min(max(ref, 0), n-1)
			if err := t.overwriteAt(leaf, pos, dup, record); err != nil {
				return nil, 0, 0, err
			}
			return leaf, pos, dup, nil
		case flags&Duplicate != 0:
			dup, err := t.insertDuplicate(leaf, pos, record, flags, ref)
			if err != nil {
				return nil, 0, 0, err
			}
			return leaf, pos, dup, nil
		default:
			return nil, 0, 0, ErrKeyExistsError
		}
	}

	// The new slot shifts everything from pos up; a split moves everything
	// from mid up. Uncouple both ranges before touching the page.
	split := len(leaf.slots)+1 > t.capacity
	mid := (len(leaf.slots) + 1) / 2
	start := pos
	if split && mid < start {
		start = mid
	}
	if err := t.arena.uncoupleAllFrom(leaf, start); err != nil {
		return nil, 0, 0, err
	}

	rf, rid, err := t.dups.encode(record)
	if err != nil {
		return nil, 0, 0, err
	}
	leaf.insertSlot(pos, slot{
		key:   append([]byte(nil), key...),
		flags: rf,
		rid:   rid,
	})
	if !split {
		return leaf, pos, 0, nil
	}

	right, err := t.splitLeaf(path, leaf, mid)
	if err != nil {
		return nil, 0, 0, err
	}
	if pos >= mid {
		return right, pos - mid, 0, nil
	}
	return leaf, pos, 0, nil
}

// insertDuplicate adds record to the duplicates of slot pos and returns its
// duplicate index.
func (t *tree) insertDuplicate(leaf *page, pos int, record []byte, flags uint, ref int) (int, error) {
	s := &leaf.slots[pos]
	n, err := t.dups.slotCount(s)
	if err != nil {
		return 0, err
	}
	ref = min(max(ref, 0), n-1)

	at := n
	switch {
	case flags&DupInsertFirst != 0:
		at = 0
	case flags&DupInsertBefore != 0:
		at = ref
	case flags&DupInsertAfter != 0:
		at = ref + 1
	}

	rf, rid, err := t.dups.encode(record)
	if err != nil {
		return 0, err
	}
	e := DupEntry{Flags: rf, RID: rid}

	if s.hasDuplicates() {
		newRid, err := t.dups.insert(s.rid, at, e)
		if err != nil {
			t.dups.records.free(rf, rid)
			return 0, err
		}
		s.rid = newRid
	} else {
		entries := []DupEntry{{Flags: s.recordFlags(), RID: s.rid}}
		entries = append(entries, DupEntry{})
		copy(entries[at+1:], entries[at:])
		entries[at] = e
		table, err := t.dups.create(entries...)
		if err != nil {
			t.dups.records.free(rf, rid)
			return 0, err
		}
		s.flags = s.flags&^keySizeMask | KeyHasDuplicates
		s.rid = table
	}
	leaf.dirty = true
	t.arena.adjustDuplicates(leaf, pos, at, +1, n+1, t.cmp, nil)
	return at, nil
}

// overwriteAt replaces the record at (slot idx, duplicate dup) of p.
func (t *tree) overwriteAt(p *page, idx, dup int, record []byte) error {
	s := &p.slots[idx]
	if s.hasDuplicates() {
		e, err := t.dups.get(s.rid, dup)
		if err != nil {
			return err
		}
		rf, rid, err := t.dups.replace(e.Flags, e.RID, record)
		if err != nil {
			return err
		}
		newRid, err := t.dups.set(s.rid, dup, DupEntry{Flags: rf, RID: rid})
		if err != nil {
			return err
		}
		s.rid = newRid
	} else {
		if dup != 0 {
			return ErrKeyNotFoundError
		}
		rf, rid, err := t.dups.replace(s.recordFlags(), s.rid, record)
		if err != nil {
			return err
		}
		s.flags = s.flags&^keySizeMask | rf
		s.rid = rid
	}
	p.dirty = true
	return nil
}

// splitLeaf moves the slots from mid up into a new right sibling and
// propagates the separator. Cursors at mid and above must already be
// uncoupled.
func (t *tree) splitLeaf(path []pathStep, leaf *page, mid int) (*page, error) {
	right, err := t.pager.alloc(pageLeaf)
	if err != nil {
		return nil, err
	}
	guard := t.pager.pin(right)
	defer guard.Release()

	right.slots = append([]slot(nil), leaf.slots[mid:]...)
	clear(leaf.slots[mid:])
	leaf.slots = leaf.slots[:mid]

	right.left = leaf.id
	right.right = leaf.right
	if leaf.right != 0 {
		next, err := t.pager.fetch(leaf.right)
		if err != nil {
			return nil, err
		}
		next.left = right.id
		next.dirty = true
	}
	leaf.right = right.id
	leaf.dirty = true

	t.splits++
	t.log.Debug("split page", "page", leaf.id, "right", right.id, "at", mid)

	sep := append([]byte(nil), right.slots[0].key...)
	if err := t.insertSeparator(path, leaf, sep, right.id); err != nil {
		return nil, err
	}
	return right, nil
}

// insertSeparator links child right (separated from left by sep) into the
// parents on path, splitting branches and growing the root as needed.
func (t *tree) insertSeparator(path []pathStep, left *page, sep []byte, right PageID) error {
	for level := len(path) - 1; level >= 0; level-- {
		parent := path[level].p
		parent.insertChild(path[level].ci, sep, right)
		if len(parent.keys) <= t.capacity {
			return nil
		}

		nb, err := t.pager.alloc(pageBranch)
		if err != nil {
			return err
		}
		m := len(parent.keys) / 2
		up := parent.keys[m]
		nb.keys = append([][]byte(nil), parent.keys[m+1:]...)
		nb.children = append([]PageID(nil), parent.children[m+1:]...)
		clear(parent.keys[m:])
		parent.keys = parent.keys[:m]
		parent.children = parent.children[:m+1]
		parent.dirty = true

		t.splits++
		t.log.Debug("split page", "page", parent.id, "right", nb.id, "at", m)
		left, sep, right = parent, up, nb.id
	}

	root, err := t.pager.alloc(pageBranch)
	if err != nil {
		return err
	}
	root.keys = [][]byte{sep}
	root.children = []PageID{left.id, right}
	t.log.Debug("grew root", "root", root.id)
	return t.setRoot(root.id)
}

// erase removes duplicate dup of key, or the whole key with all of its
// duplicates when all is set (or the key has a single record).
func (t *tree) erase(key []byte, dup int, all bool) error {
	path, leaf, release, err := t.descend(key)
	defer release()
	if err != nil {
		return err
	}
	pos, found := leaf.search(key, t.cmp)
	if !found {
		return ErrKeyNotFoundError
	}

	s := &leaf.slots[pos]
	if !all && s.hasDuplicates() {
		n, err := t.dups.count(s.rid)
		if err != nil {
			return err
		}
		if n > 1 {
			return t.eraseDuplicate(leaf, pos, dup)
		}
	}

	if err := t.arena.uncoupleAllFrom(leaf, pos); err != nil {
		return err
	}
	if err := t.dups.freeSlot(s); err != nil {
		return err
	}
	leaf.removeSlot(pos)
	if len(leaf.slots) == 0 && len(path) > 0 {
		return t.removeLeaf(path, leaf)
	}
	return nil
}

// eraseDuplicate removes one duplicate of slot pos. A table left with a
// single entry is folded back into the slot.
func (t *tree) eraseDuplicate(leaf *page, pos, dup int) error {
	s := &leaf.slots[pos]
	newRid, rest, err := t.dups.erase(s.rid, dup)
	if err != nil {
		return err
	}
	if len(rest) == 1 {
		if err := t.dups.blobs.Free(newRid); err != nil {
			return err
		}
		s.flags = s.flags&^(keySizeMask|KeyHasDuplicates) | rest[0].Flags
		s.rid = rest[0].RID
	} else {
		s.rid = newRid
	}
	leaf.dirty = true
	t.arena.adjustDuplicates(leaf, pos, dup, -1, len(rest), t.cmp, nil)
	return nil
}

// removeLeaf unlinks an empty leaf from its siblings and parents, then
// collapses single-child roots.
func (t *tree) removeLeaf(path []pathStep, leaf *page) error {
	if leaf.left != 0 {
		l, err := t.pager.fetch(leaf.left)
		if err != nil {
			return err
		}
		l.right = leaf.right
		l.dirty = true
	}
	if leaf.right != 0 {
		r, err := t.pager.fetch(leaf.right)
		if err != nil {
			return err
		}
		r.left = leaf.left
		r.dirty = true
	}
	if err := t.pager.free(leaf); err != nil {
		return err
	}
	t.removes++
	t.log.Debug("removed empty page", "page", leaf.id)

	for level := len(path) - 1; level >= 0; level-- {
		parent := path[level].p
		parent.removeChild(path[level].ci)
		if len(parent.children) > 0 {
			break
		}
		if level == 0 {
			// the whole tree is empty: the root becomes an empty leaf
			parent.kind = pageLeaf
			parent.keys = nil
			parent.children = nil
			parent.slots = nil
			parent.left, parent.right = 0, 0
			parent.dirty = true
			return nil
		}
		if err := t.pager.free(parent); err != nil {
			return err
		}
	}

	for {
		root, err := t.pager.fetch(t.root)
		if err != nil {
			return err
		}
		if !root.isBranch() || len(root.children) != 1 {
			return nil
		}
		child := root.children[0]
		if err := t.pager.free(root); err != nil {
			return err
		}
		if err := t.setRoot(child); err != nil {
			return err
		}
		t.log.Debug("collapsed root", "root", child)
	}
}
