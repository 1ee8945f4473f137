package gbtree

import (
	"log/slog"

	"github.com/Giulio2002/gbtree/internal/bitmap"
	"github.com/Giulio2002/gbtree/internal/fastmap"
)

// cursorHandle identifies a cursor in its database's arena.
type cursorHandle uint32

// cursorArena owns the handle → cursor table of one database. Pages refer to
// their coupled cursors by handle only, so a page never holds a pointer to a
// cursor that was closed, and a cursor never outlives its registry entry.
type cursorArena struct {
	cursors *fastmap.Map[*Cursor]
	ids     *bitmap.Bitmap
	log     *slog.Logger
}

func newCursorArena(log *slog.Logger) *cursorArena {
	return &cursorArena{
		cursors: fastmap.New[*Cursor](16),
		ids:     bitmap.New(64),
		log:     log,
	}
}

// register assigns c a handle.
func (a *cursorArena) register(c *Cursor) cursorHandle {
	h := cursorHandle(a.ids.Allocate())
	a.cursors.Set(uint32(h), c)
	return h
}

// release frees the handle of a closed cursor for reuse.
func (a *cursorArena) release(h cursorHandle) {
	if a.cursors.Delete(uint32(h)) {
		a.ids.Free(uint32(h))
	}
}

func (a *cursorArena) get(h cursorHandle) *Cursor {
	c, _ := a.cursors.Get(uint32(h))
	return c
}

// len returns the number of open cursors.
func (a *cursorArena) len() int {
	return a.cursors.Len()
}

// forEach calls fn for every open cursor.
func (a *cursorArena) forEach(fn func(*Cursor)) {
	var all []*Cursor
	a.cursors.ForEach(func(_ uint32, c *Cursor) {
		all = append(all, c)
	})
	for _, c := range all {
		fn(c)
	}
}

// attach links c into p's registry.
func (a *cursorArena) attach(p *page, c *Cursor) {
	c.regIndex = len(p.cursors)
	p.cursors = append(p.cursors, c.handle)
}

// detach unlinks c from p's registry in O(1) by moving the last handle into
// c's position.
func (a *cursorArena) detach(p *page, c *Cursor) {
	i := c.regIndex
	last := len(p.cursors) - 1
	if i < 0 || i > last || p.cursors[i] != c.handle {
		return
	}
	if i != last {
		moved := p.cursors[last]
		p.cursors[i] = moved
		if mc := a.get(moved); mc != nil {
			mc.regIndex = i
		}
	}
	p.cursors = p.cursors[:last]
	c.regIndex = -1
}

// reindex rewrites the registry positions of every cursor on p.
func (a *cursorArena) reindex(p *page) {
	for i, h := range p.cursors {
		if c := a.get(h); c != nil {
			c.regIndex = i
		}
	}
}

// uncoupleAllFrom uncouples every cursor on p whose slot is start or later.
// It must run before a change to p's slot layout at or above start becomes
// visible. Cursors below start stay attached. If the key copy of a cursor
// fails, the cursors not yet handled stay coupled and the error is returned.
func (a *cursorArena) uncoupleAllFrom(p *page, start int) error {
	if len(p.cursors) == 0 {
		return nil
	}

	var kept []cursorHandle
	skipped := false
	uncoupled := 0
	for i, h := range p.cursors {
		c := a.get(h)
		if c == nil {
			continue
		}
		if st, ok := c.state.(coupledState); ok && st.slot < start {
			kept = append(kept, h)
			skipped = true
			continue
		}
		if err := c.uncouple(uncoupleNoRemove); err != nil {
			p.cursors = append(kept, p.cursors[i:]...)
			a.reindex(p)
			return err
		}
		uncoupled++
	}

	if !skipped {
		p.cursors = p.cursors[:0]
	} else {
		p.cursors = kept
		a.reindex(p)
	}
	if uncoupled > 0 {
		a.log.Debug("uncoupled cursors", "page", p.id, "from", start, "count", uncoupled)
	}
	return nil
}

// adjustDuplicates keeps the duplicate positions of the cursors on slot of
// p pointing at the same records after a duplicate was inserted at (delta
// +1) or erased from (delta -1) position idx. count is the new number of
// duplicates. Uncoupled cursors holding the slot's key are shifted too, so
// they re-couple to the same record.
func (a *cursorArena) adjustDuplicates(p *page, slot, idx, delta, count int, cmp CompareFunc, except *Cursor) {
	key := p.slots[slot].key
	a.cursors.ForEach(func(_ uint32, c *Cursor) {
		if c == except {
			return
		}
		switch st := c.state.(type) {
		case coupledState:
			if st.page != p || st.slot != slot {
				return
			}
		case uncoupledState:
			if cmp(st.key, key) != 0 {
				return
			}
		default:
			return
		}
		c.dupCache = nil
		switch {
		case delta > 0 && c.dupIndex >= idx:
			c.dupIndex++
		case delta < 0 && c.dupIndex > idx:
			c.dupIndex--
		}
		if c.dupIndex >= count {
			c.dupIndex = count - 1
		}
		if c.dupIndex < 0 {
			c.dupIndex = 0
		}
	})
}
