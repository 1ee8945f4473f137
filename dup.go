package gbtree

import (
	"encoding/binary"
)

// DupEntry is one duplicate record of a key.
type DupEntry struct {
	Flags KeyFlags // record size-class bits
	RID   uint64   // record locator
}

// DupTable is the insertion-ordered list of duplicates of one key.
type DupTable struct {
	Capacity int
	Entries  []DupEntry
}

// Count returns the number of duplicates in the table.
func (t *DupTable) Count() int {
	return len(t.Entries)
}

// Duplicate table layout (stored as a blob):
//
//	Offset  Size  Field
//	0       4     capacity
//	4       4     count
//	8       9*cap entries: flags (1) + rid (8)
const (
	dupHeaderSize   = 8
	dupEntrySize    = 9
	dupMinCapacity  = 8
	dupMaxCapacity  = 1 << 24
	dupTableMaxSize = dupHeaderSize + dupEntrySize*dupMaxCapacity
)

func dupTableSize(capacity int) int {
	return dupHeaderSize + dupEntrySize*capacity
}

func encodeDupTable(t *DupTable, buf []byte) {
	binary.LittleEndian.PutUint32(buf[0:], uint32(t.Capacity))
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(t.Entries)))
	off := dupHeaderSize
	for _, e := range t.Entries {
		buf[off] = byte(e.Flags)
		binary.LittleEndian.PutUint64(buf[off+1:], e.RID)
		off += dupEntrySize
	}
	clear(buf[off:])
}

func decodeDupTable(data []byte) (*DupTable, error) {
	if len(data) < dupHeaderSize {
		return nil, Errorf(ErrIntegrity, "duplicate table of %d bytes", len(data))
	}
	capacity := int(binary.LittleEndian.Uint32(data[0:]))
	count := int(binary.LittleEndian.Uint32(data[4:]))
	if count > capacity || len(data) < dupTableSize(capacity) {
		return nil, Errorf(ErrIntegrity, "duplicate table count %d capacity %d size %d", count, capacity, len(data))
	}
	t := &DupTable{Capacity: capacity, Entries: make([]DupEntry, count)}
	off := dupHeaderSize
	for i := range t.Entries {
		t.Entries[i] = DupEntry{
			Flags: KeyFlags(data[off]),
			RID:   binary.LittleEndian.Uint64(data[off+1:]),
		}
		off += dupEntrySize
	}
	return t, nil
}

// dupStore owns the encoding of "one key, N records". A slot flagged
// KeyHasDuplicates points at a table blob; any other slot behaves as a
// table holding exactly the slot's own record.
type dupStore struct {
	records
	alloc Allocator
}

func (d *dupStore) load(rid uint64) (*DupTable, error) {
	data, err := d.blobs.Read(rid)
	if err != nil {
		return nil, err
	}
	return decodeDupTable(data)
}

// store writes t over the table at rid (or allocates it when rid is zero)
// and returns the table's id.
func (d *dupStore) store(rid uint64, t *DupTable) (uint64, error) {
	buf := make([]byte, dupTableSize(t.Capacity))
	encodeDupTable(t, buf)
	if rid == 0 {
		return d.blobs.Allocate(buf)
	}
	return d.blobs.Overwrite(rid, buf)
}

// resize changes the table's capacity. The encoding buffer comes from the
// allocator, so growth may fail with ErrOutOfMemory; the stored table is
// left untouched in that case.
func (d *dupStore) resize(rid uint64, t *DupTable, capacity int) (uint64, error) {
	if capacity < len(t.Entries) || capacity > dupMaxCapacity {
		return 0, Errorf(ErrInvalidParameter, "duplicate table capacity %d for %d entries", capacity, len(t.Entries))
	}
	buf, err := d.alloc.Alloc(dupTableSize(capacity))
	if err != nil {
		return 0, err
	}
	defer d.alloc.Free(buf)

	t.Capacity = capacity
	encodeDupTable(t, buf)
	if rid == 0 {
		return d.blobs.Allocate(buf)
	}
	return d.blobs.Overwrite(rid, buf)
}

// create stores a new table holding entries.
func (d *dupStore) create(entries ...DupEntry) (uint64, error) {
	capacity := dupMinCapacity
	for capacity < len(entries) {
		capacity *= 2
	}
	t := &DupTable{Entries: entries}
	return d.resize(0, t, capacity)
}

// count returns the number of duplicates in the table at rid.
func (d *dupStore) count(rid uint64) (int, error) {
	t, err := d.load(rid)
	if err != nil {
		return 0, err
	}
	return len(t.Entries), nil
}

// get returns duplicate idx of the table at rid.
func (d *dupStore) get(rid uint64, idx int) (DupEntry, error) {
	t, err := d.load(rid)
	if err != nil {
		return DupEntry{}, err
	}
	if idx < 0 || idx >= len(t.Entries) {
		return DupEntry{}, ErrKeyNotFoundError
	}
	return t.Entries[idx], nil
}

// last returns the index and entry of the last duplicate.
func (d *dupStore) last(rid uint64) (int, DupEntry, error) {
	t, err := d.load(rid)
	if err != nil {
		return 0, DupEntry{}, err
	}
	if len(t.Entries) == 0 {
		return 0, DupEntry{}, Errorf(ErrIntegrity, "empty duplicate table %d", rid)
	}
	n := len(t.Entries)
	return n - 1, t.Entries[n-1], nil
}

// insert places e at position pos (0 ≤ pos ≤ count), growing the table when
// it is full. It returns the table's (possibly new) id.
func (d *dupStore) insert(rid uint64, pos int, e DupEntry) (uint64, error) {
	t, err := d.load(rid)
	if err != nil {
		return 0, err
	}
	if pos < 0 || pos > len(t.Entries) {
		return 0, Errorf(ErrInvalidParameter, "duplicate position %d of %d", pos, len(t.Entries))
	}
	t.Entries = append(t.Entries, DupEntry{})
	copy(t.Entries[pos+1:], t.Entries[pos:])
	t.Entries[pos] = e

	if len(t.Entries) > t.Capacity {
		if t.Capacity*2 > dupMaxCapacity {
			return 0, Errorf(ErrLimitsReached, "more than %d duplicates", dupMaxCapacity)
		}
		return d.resize(rid, t, t.Capacity*2)
	}
	return d.store(rid, t)
}

// set replaces duplicate idx with e.
func (d *dupStore) set(rid uint64, idx int, e DupEntry) (uint64, error) {
	t, err := d.load(rid)
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(t.Entries) {
		return 0, ErrKeyNotFoundError
	}
	t.Entries[idx] = e
	return d.store(rid, t)
}

// erase removes duplicate idx, frees its record and returns the table's id
// together with the remaining entries.
func (d *dupStore) erase(rid uint64, idx int) (uint64, []DupEntry, error) {
	t, err := d.load(rid)
	if err != nil {
		return 0, nil, err
	}
	if idx < 0 || idx >= len(t.Entries) {
		return 0, nil, ErrKeyNotFoundError
	}
	gone := t.Entries[idx]
	t.Entries = append(t.Entries[:idx], t.Entries[idx+1:]...)
	if err := d.records.free(gone.Flags, gone.RID); err != nil {
		return 0, nil, err
	}
	newRid, err := d.store(rid, t)
	if err != nil {
		return 0, nil, err
	}
	return newRid, t.Entries, nil
}

// freeTable releases the table at rid and every record it references.
func (d *dupStore) freeTable(rid uint64) error {
	t, err := d.load(rid)
	if err != nil {
		return err
	}
	for _, e := range t.Entries {
		if err := d.records.free(e.Flags, e.RID); err != nil {
			return err
		}
	}
	return d.blobs.Free(rid)
}

// --- slot level view ---

// slotCount returns the number of records owned by the slot.
func (d *dupStore) slotCount(s *slot) (int, error) {
	if !s.hasDuplicates() {
		return 1, nil
	}
	return d.count(s.rid)
}

// slotEntry returns record idx of the slot.
func (d *dupStore) slotEntry(s *slot, idx int) (DupEntry, error) {
	if !s.hasDuplicates() {
		if idx != 0 {
			return DupEntry{}, ErrKeyNotFoundError
		}
		return DupEntry{Flags: s.recordFlags(), RID: s.rid}, nil
	}
	return d.get(s.rid, idx)
}

// asTable returns the slot's records as a table. owned reports that the
// table was synthesized for a slot without duplicates and is not backed by
// storage.
func (d *dupStore) asTable(s *slot) (t *DupTable, owned bool, err error) {
	if !s.hasDuplicates() {
		return &DupTable{
			Capacity: 1,
			Entries:  []DupEntry{{Flags: s.recordFlags(), RID: s.rid}},
		}, true, nil
	}
	t, err = d.load(s.rid)
	return t, false, err
}

// recordSize returns the length of record idx of the slot.
func (d *dupStore) recordSize(s *slot, idx int) (uint64, error) {
	e, err := d.slotEntry(s, idx)
	if err != nil {
		return 0, err
	}
	return d.records.size(e.Flags, e.RID)
}

// freeSlot releases every record owned by the slot.
func (d *dupStore) freeSlot(s *slot) error {
	if s.hasDuplicates() {
		return d.freeTable(s.rid)
	}
	return d.records.free(s.recordFlags(), s.rid)
}
