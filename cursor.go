package gbtree

// CursorState reports which of the three cursor states holds.
type CursorState uint8

const (
	// StateNil means the cursor points nowhere
	StateNil CursorState = iota
	// StateCoupled means the cursor references a cached leaf and slot
	StateCoupled
	// StateUncoupled means the cursor holds a private copy of its key
	StateUncoupled
)

func (s CursorState) String() string {
	switch s {
	case StateNil:
		return "nil"
	case StateCoupled:
		return "coupled"
	case StateUncoupled:
		return "uncoupled"
	default:
		return "invalid"
	}
}

// cursorState is the sealed sum of the three cursor states.
type cursorState interface {
	cursorState() CursorState
}

type nilState struct{}

// coupledState references a slot of a cached leaf. The page does not
// outlive the coupling: eviction and layout changes uncouple first.
type coupledState struct {
	page *page
	slot int
}

// uncoupledState owns a copy of the key, obtained from the allocator.
type uncoupledState struct {
	key []byte
}

func (nilState) cursorState() CursorState       { return StateNil }
func (coupledState) cursorState() CursorState   { return StateCoupled }
func (uncoupledState) cursorState() CursorState { return StateUncoupled }

// Parent is the logical cursor a Cursor belongs to. A parent positioned on a
// pending transactional operation keeps the cursor from reporting nil.
type Parent interface {
	CoupledToTxnOp() bool
}

// Cursor tracks a position in the tree across lookups, inserts, erases and
// page eviction.
//
// A Cursor must not be used from more than one goroutine at a time, and
// neither may other cursors or the DB it belongs to.
type Cursor struct {
	db       *DB
	handle   cursorHandle
	regIndex int // position in the coupled page's registry, -1 otherwise

	state    cursorState
	dupIndex int
	dupCache *DupEntry
	parent   Parent
	closed   bool
}

func newCursor(db *DB) *Cursor {
	c := &Cursor{db: db, state: nilState{}, regIndex: -1}
	c.handle = db.arena.register(c)
	return c
}

// State returns the cursor's current state.
func (c *Cursor) State() CursorState {
	return c.state.cursorState()
}

// SetParent binds the cursor to a logical parent cursor.
func (c *Cursor) SetParent(p Parent) {
	c.parent = p
}

// DuplicateIndex returns the position within the current key's duplicates.
func (c *Cursor) DuplicateIndex() int {
	return c.dupIndex
}

func (c *Cursor) btree() (*tree, error) {
	if c.closed || c.db.tree == nil {
		return nil, ErrNotInitializedError
	}
	return c.db.tree, nil
}

// IsNil reports whether the cursor points nowhere. A cursor whose parent is
// coupled to a transactional operation is never nil.
func (c *Cursor) IsNil() bool {
	if _, ok := c.state.(nilState); !ok {
		return false
	}
	return c.parent == nil || !c.parent.CoupledToTxnOp()
}

// SetToNil drops the cursor's position. It is idempotent and never fails.
func (c *Cursor) SetToNil() {
	switch st := c.state.(type) {
	case coupledState:
		c.db.arena.detach(st.page, c)
	case uncoupledState:
		c.db.opts.Allocator.Free(st.key)
	}
	c.state = nilState{}
	c.dupIndex = 0
	c.dupCache = nil
}

// coupleAt couples the cursor to slot of p. The cursor must be nil.
func (c *Cursor) coupleAt(p *page, slot int) {
	c.state = coupledState{page: p, slot: slot}
	c.db.arena.attach(p, c)
}

// couple re-finds the cached key of an uncoupled cursor. The duplicate
// index survives the lookup, clamped to the key's current duplicates. If
// the key is gone the cursor becomes nil.
func (c *Cursor) couple() error {
	st, ok := c.state.(uncoupledState)
	if !ok {
		return nil
	}
	t, err := c.btree()
	if err != nil {
		return err
	}

	dup := c.dupIndex
	c.state = nilState{}
	p, slot, err := t.find(st.key)
	c.db.opts.Allocator.Free(st.key)
	if err != nil {
		c.SetToNil()
		return err
	}
	c.coupleAt(p, slot)

	if dup > 0 {
		n, err := t.dups.slotCount(&p.slots[slot])
		if err != nil {
			c.SetToNil()
			return err
		}
		dup = min(dup, n-1)
	}
	c.dupIndex = dup
	return nil
}

// uncouple copies the current key out of the page and leaves the page. With
// uncoupleNoRemove the page registry is left to the caller. If the copy
// cannot be allocated the cursor stays coupled.
func (c *Cursor) uncouple(flags uncoupleFlags) error {
	st, ok := c.state.(coupledState)
	if !ok {
		return nil
	}
	src := st.page.slots[st.slot].key
	key, err := c.db.opts.Allocator.Alloc(len(src))
	if err != nil {
		return err
	}
	copy(key, src)

	if flags&uncoupleNoRemove == 0 {
		c.db.arena.detach(st.page, c)
	} else {
		c.regIndex = -1
	}
	c.state = uncoupledState{key: key}
	c.dupCache = nil
	return nil
}

// Uncouple detaches the cursor from its page, keeping a copy of its key.
func (c *Cursor) Uncouple() error {
	return c.uncouple(0)
}

// position couples an uncoupled cursor and returns the coupled state.
func (c *Cursor) position() (*tree, coupledState, error) {
	t, err := c.btree()
	if err != nil {
		return nil, coupledState{}, err
	}
	st, err := c.coupled()
	if err != nil {
		return nil, coupledState{}, err
	}
	return t, st, nil
}

// Clone returns a new cursor at the same position.
func (c *Cursor) Clone() (*Cursor, error) {
	if _, err := c.btree(); err != nil {
		return nil, err
	}
	dst := newCursor(c.db)
	if err := c.cloneInto(dst); err != nil {
		dst.Close()
		return nil, err
	}
	return dst, nil
}

// cloneInto copies c's position into the nil cursor dst.
func (c *Cursor) cloneInto(dst *Cursor) error {
	switch st := c.state.(type) {
	case coupledState:
		dst.coupleAt(st.page, st.slot)
	case uncoupledState:
		key, err := c.db.opts.Allocator.Alloc(len(st.key))
		if err != nil {
			return err
		}
		copy(key, st.key)
		dst.state = uncoupledState{key: key}
	}
	dst.dupIndex = c.dupIndex
	if c.dupCache != nil {
		e := *c.dupCache
		dst.dupCache = &e
	}
	return nil
}

// CoupleTo moves the cursor onto the position of the coupled cursor other.
func (c *Cursor) CoupleTo(other *Cursor) error {
	st, ok := other.state.(coupledState)
	if !ok {
		return Errorf(ErrInvalidParameter, "source cursor is not coupled")
	}
	c.SetToNil()
	c.coupleAt(st.page, st.slot)
	c.dupIndex = other.dupIndex
	return nil
}

// PointsTo reports whether the cursor is positioned on key, coupling it
// first if needed.
func (c *Cursor) PointsTo(key []byte) (bool, error) {
	t, st, err := c.position()
	if err != nil {
		if IsCursorNil(err) || IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return t.cmp(st.page.slots[st.slot].key, key) == 0, nil
}

// Overwrite replaces the record at the current (key, duplicate) position.
// The number of duplicates and the duplicate index do not change.
func (c *Cursor) Overwrite(record []byte) error {
	t, st, err := c.position()
	if err != nil {
		return err
	}
	c.dupCache = nil

	g := t.pager.pin(st.page)
	defer g.Release()
	return t.overwriteAt(st.page, st.slot, c.dupIndex, record)
}

// DuplicateCount returns the number of records of the current key.
func (c *Cursor) DuplicateCount() (int, error) {
	t, st, err := c.position()
	if err != nil {
		return 0, err
	}
	g := t.pager.pin(st.page)
	defer g.Release()
	return t.dups.slotCount(&st.page.slots[st.slot])
}

// DuplicateTable returns the records of the current key. owned reports that
// the table was synthesized for a key without duplicates.
func (c *Cursor) DuplicateTable() (table *DupTable, owned bool, err error) {
	t, st, err := c.position()
	if err != nil {
		return nil, false, err
	}
	g := t.pager.pin(st.page)
	defer g.Release()
	return t.dups.asTable(&st.page.slots[st.slot])
}

// RecordSize returns the length of the current record without reading it.
func (c *Cursor) RecordSize() (uint64, error) {
	t, st, err := c.position()
	if err != nil {
		return 0, err
	}
	g := t.pager.pin(st.page)
	defer g.Release()
	return t.dups.recordSize(&st.page.slots[st.slot], c.dupIndex)
}

// Find positions the cursor on key. On failure the cursor is nil.
func (c *Cursor) Find(key []byte) error {
	t, err := c.btree()
	if err != nil {
		return err
	}
	c.SetToNil()
	p, slot, err := t.find(key)
	if err != nil {
		return err
	}
	c.coupleAt(p, slot)
	return nil
}

// Insert stores (key, record) and positions the cursor on it. With
// DupInsertBefore or DupInsertAfter the cursor must be on key; the new
// duplicate is placed relative to the cursor's duplicate.
func (c *Cursor) Insert(key, record []byte, flags uint) error {
	t, err := c.btree()
	if err != nil {
		return err
	}

	ref := 0
	if flags&(DupInsertBefore|DupInsertAfter) != 0 || flags&Overwrite != 0 {
		on, err := c.PointsTo(key)
		if err != nil {
			return err
		}
		if on {
			ref = c.dupIndex
		} else if flags&Overwrite == 0 {
			return Errorf(ErrInvalidParameter, "relative duplicate insert needs the cursor on the key")
		}
	}

	c.SetToNil()
	p, slot, dup, err := t.insert(key, record, flags, ref)
	if err != nil {
		return err
	}
	c.coupleAt(p, slot)
	c.dupIndex = dup
	return nil
}

// Erase removes the current duplicate (or, with EraseAllDuplicates or for
// a key with one record, the current key). The cursor becomes nil.
func (c *Cursor) Erase(flags uint) error {
	t, st, err := c.position()
	if err != nil {
		return err
	}
	key := append([]byte(nil), st.page.slots[st.slot].key...)
	dup := c.dupIndex

	// leave the page before it changes under us
	if err := c.uncouple(0); err != nil {
		return err
	}
	if err := t.erase(key, dup, flags&EraseAllDuplicates != 0); err != nil {
		return err
	}
	c.SetToNil()
	return nil
}

// Close releases the cursor. Using it afterwards fails with
// ErrNotInitialized.
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.SetToNil()
	c.db.arena.release(c.handle)
	c.closed = true
}
