package gbtree

// Move repositions the cursor without reading.
//
// A failed MoveNext or MovePrevious at the end of the tree leaves the cursor
// where it was; other failures leave it nil.
func (c *Cursor) Move(dir Direction, opts MoveOptions) error {
	_, _, err := c.move(dir, opts, false, false)
	return err
}

// MoveTo repositions the cursor and returns copies of the key and record at
// the new position.
func (c *Cursor) MoveTo(dir Direction, opts MoveOptions) ([]byte, []byte, error) {
	return c.move(dir, opts, true, true)
}

// ReadCurrent returns the key and/or record at the current position. A nil
// cursor fails with ErrCursorIsNil unless nothing was requested.
func (c *Cursor) ReadCurrent(wantKey, wantRecord bool) ([]byte, []byte, error) {
	return c.move(MoveNone, 0, wantKey, wantRecord)
}

func (c *Cursor) move(dir Direction, opts MoveOptions, wantKey, wantRecord bool) (key, record []byte, err error) {
	t, err := c.btree()
	if err != nil {
		return nil, nil, err
	}

	// the cached duplicate belongs to the old position
	c.dupCache = nil

	switch dir {
	case MoveFirst:
		err = c.moveFirst(t, opts)
	case MoveLast:
		err = c.moveLast(t, opts)
	case MoveNext:
		err = c.moveNext(t, opts)
	case MovePrevious:
		err = c.movePrevious(t, opts)
	case MoveNone:
		if c.IsNil() {
			if wantKey || wantRecord {
				return nil, nil, ErrCursorIsNilError
			}
			return nil, nil, nil
		}
		err = c.couple()
	default:
		return nil, nil, Errorf(ErrInvalidParameter, "unknown direction %d", dir)
	}
	if err != nil {
		return nil, nil, err
	}
	if !wantKey && !wantRecord {
		return nil, nil, nil
	}

	st, ok := c.state.(coupledState)
	if !ok {
		return nil, nil, ErrCursorIsNilError
	}

	// Resolving a record may touch storage; keep the page cached meanwhile.
	g := t.pager.pin(st.page)
	defer g.Release()

	s := &st.page.slots[st.slot]
	if wantKey {
		key = append([]byte(nil), s.key...)
	}
	if wantRecord {
		if record, err = c.readRecord(t, s); err != nil {
			return nil, nil, err
		}
	}
	return key, record, nil
}

// readRecord resolves the record at the cursor's duplicate of s. Keys with
// duplicates go through the duplicate cache.
func (c *Cursor) readRecord(t *tree, s *slot) ([]byte, error) {
	e := DupEntry{Flags: s.recordFlags(), RID: s.rid}
	if s.hasDuplicates() {
		if c.dupCache == nil {
			de, err := t.dups.get(s.rid, c.dupIndex)
			if err != nil {
				return nil, err
			}
			c.dupCache = &de
		}
		e = *c.dupCache
	}
	return t.dups.decode(e.Flags, e.RID)
}

// moveFirst couples to the first key, duplicate 0.
func (c *Cursor) moveFirst(t *tree, opts MoveOptions) error {
	c.SetToNil()
	p, err := t.edge(false)
	if err != nil {
		return err
	}
	c.coupleAt(p, 0)
	return nil
}

// moveLast couples to the last key and, unless duplicates are skipped, to
// its last duplicate.
func (c *Cursor) moveLast(t *tree, opts MoveOptions) error {
	c.SetToNil()
	p, err := t.edge(true)
	if err != nil {
		return err
	}
	slot := len(p.slots) - 1
	c.coupleAt(p, slot)

	s := &p.slots[slot]
	if s.hasDuplicates() && opts&SkipDuplicates == 0 {
		idx, e, err := t.dups.last(s.rid)
		if err != nil {
			c.SetToNil()
			return err
		}
		c.dupIndex = idx
		c.dupCache = &e
	}
	return nil
}

// coupled couples an uncoupled cursor and returns its position.
func (c *Cursor) coupled() (coupledState, error) {
	if _, ok := c.state.(uncoupledState); ok {
		if err := c.couple(); err != nil {
			return coupledState{}, err
		}
	}
	st, ok := c.state.(coupledState)
	if !ok {
		return coupledState{}, ErrCursorIsNilError
	}
	return st, nil
}

func (c *Cursor) moveNext(t *tree, opts MoveOptions) error {
	st, err := c.coupled()
	if err != nil {
		return err
	}

	s := &st.page.slots[st.slot]
	if s.hasDuplicates() && opts&SkipDuplicates == 0 {
		e, err := t.dups.get(s.rid, c.dupIndex+1)
		if err == nil {
			c.dupIndex++
			c.dupCache = &e
			return nil
		}
		if !IsNotFound(err) {
			c.SetToNil()
			return err
		}
	}

	if opts&OnlyDuplicates != 0 {
		return ErrKeyNotFoundError
	}

	if st.slot+1 < len(st.page.slots) {
		c.state = coupledState{page: st.page, slot: st.slot + 1}
		c.dupIndex = 0
		return nil
	}

	right := st.page.right
	if right == 0 {
		return ErrKeyNotFoundError
	}

	// leave the page before fetching, the fetch may evict it
	c.db.arena.detach(st.page, c)
	c.state = nilState{}
	c.dupIndex = 0
	p, err := t.pager.fetch(right)
	if err != nil {
		return err
	}
	c.coupleAt(p, 0)
	return nil
}

func (c *Cursor) movePrevious(t *tree, opts MoveOptions) error {
	st, err := c.coupled()
	if err != nil {
		return err
	}

	s := &st.page.slots[st.slot]
	if s.hasDuplicates() && opts&SkipDuplicates == 0 && c.dupIndex > 0 {
		e, err := t.dups.get(s.rid, c.dupIndex-1)
		if err == nil {
			c.dupIndex--
			c.dupCache = &e
			return nil
		}
		if !IsNotFound(err) {
			c.SetToNil()
			return err
		}
	}

	if opts&OnlyDuplicates != 0 {
		return ErrKeyNotFoundError
	}

	p, slot := st.page, st.slot-1
	if st.slot > 0 {
		c.state = coupledState{page: p, slot: slot}
	} else {
		left := st.page.left
		if left == 0 {
			return ErrKeyNotFoundError
		}
		c.db.arena.detach(st.page, c)
		c.state = nilState{}
		c.dupIndex = 0
		if p, err = t.pager.fetch(left); err != nil {
			return err
		}
		slot = len(p.slots) - 1
		c.coupleAt(p, slot)
	}
	c.dupIndex = 0

	// walking backwards, a key is entered at its last duplicate
	s = &p.slots[slot]
	if s.hasDuplicates() && opts&SkipDuplicates == 0 {
		idx, e, err := t.dups.last(s.rid)
		if err != nil {
			c.SetToNil()
			return err
		}
		c.dupIndex = idx
		c.dupCache = &e
	}
	return nil
}
