package gbtree

// Cursor operations for Get, named after their mdbx-go counterparts.
const (
	// First positions at the first key
	First uint = iota
	// FirstDup positions at the first duplicate of the current key
	FirstDup
	// GetCurrent returns the current key and record
	GetCurrent
	// Last positions at the last key, last duplicate
	Last
	// LastDup positions at the last duplicate of the current key
	LastDup
	// Next moves to the next key or duplicate
	Next
	// NextDup moves to the next duplicate of the current key
	NextDup
	// NextNoDup moves to the first duplicate of the next key
	NextNoDup
	// Prev moves to the previous key or duplicate
	Prev
	// PrevDup moves to the previous duplicate of the current key
	PrevDup
	// PrevNoDup moves to the previous key
	PrevNoDup
	// Set positions at the given key
	Set
)

// CursorFunc operates on a cursor. It is the callback type of View.
type CursorFunc func(c *Cursor) error

// View opens a cursor, runs fn with it and closes it.
func (db *DB) View(fn CursorFunc) error {
	c, err := db.OpenCursor()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}

// ForEach calls fn for every (key, record) pair in order, duplicates in
// insertion order. Returning an error from fn stops the walk.
func (db *DB) ForEach(fn func(key, record []byte) error) error {
	return db.View(func(c *Cursor) error {
		k, v, err := c.MoveTo(MoveFirst, 0)
		for err == nil {
			if err = fn(k, v); err != nil {
				return err
			}
			k, v, err = c.MoveTo(MoveNext, 0)
		}
		if IsNotFound(err) {
			return nil
		}
		return err
	})
}

// Get performs op and returns the key and record at the resulting position.
// key is only used by Set.
func (c *Cursor) Get(key []byte, op uint) ([]byte, []byte, error) {
	switch op {
	case First:
		return c.MoveTo(MoveFirst, 0)
	case Last:
		return c.MoveTo(MoveLast, 0)
	case Next:
		return c.MoveTo(MoveNext, 0)
	case Prev:
		return c.MoveTo(MovePrevious, 0)
	case NextDup:
		return c.MoveTo(MoveNext, OnlyDuplicates)
	case PrevDup:
		return c.MoveTo(MovePrevious, OnlyDuplicates)
	case NextNoDup:
		return c.MoveTo(MoveNext, SkipDuplicates)
	case PrevNoDup:
		return c.MoveTo(MovePrevious, SkipDuplicates)
	case GetCurrent:
		return c.ReadCurrent(true, true)
	case FirstDup, LastDup:
		if err := c.seekDuplicate(op == LastDup); err != nil {
			return nil, nil, err
		}
		return c.ReadCurrent(true, true)
	case Set:
		if err := c.Find(key); err != nil {
			return nil, nil, err
		}
		return c.ReadCurrent(true, true)
	default:
		return nil, nil, Errorf(ErrInvalidParameter, "unknown cursor op %d", op)
	}
}

// seekDuplicate moves to the first or last duplicate of the current key.
func (c *Cursor) seekDuplicate(last bool) error {
	_, st, err := c.position()
	if err != nil {
		return err
	}
	c.dupCache = nil
	c.dupIndex = 0
	if last {
		n, err := c.db.tree.dups.slotCount(&st.page.slots[st.slot])
		if err != nil {
			return err
		}
		c.dupIndex = n - 1
	}
	return nil
}

// Count returns the number of duplicates of the current key.
func (c *Cursor) Count() (uint64, error) {
	n, err := c.DuplicateCount()
	return uint64(n), err
}
