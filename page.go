package gbtree

import (
	"encoding/binary"
	"sort"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// pageKind tells leaves from branches
type pageKind uint8

const (
	// pageLeaf holds key slots and sibling links
	pageLeaf pageKind = 0x01

	// pageBranch holds separator keys and child ids
	pageBranch pageKind = 0x02
)

// Page image constants
const (
	// pageMagic marks an encoded page image ("gb")
	pageMagic uint16 = 0x6762

	// pageHeaderSize is the fixed image header size (16 bytes)
	pageHeaderSize = 16

	// pageTrailerSize is the xxhash64 checksum at the end of the image
	pageTrailerSize = 8

	// leafEntryHeader is keyLen(2) + flags(1) + rid(8)
	leafEntryHeader = 11
)

// page is the in-memory form of a tree node.
//
// Image layout (little-endian):
//
//	Offset  Size  Field
//	0       2     magic
//	2       1     kind
//	3       1     reserved
//	4       2     count (slots, or separator keys)
//	6       2     reserved
//	8       4     left sibling
//	12      4     right sibling
//	16      ...   entries
//	end-8   8     xxhash64 of everything before
//
// Leaf entry: keyLen u16, flags u8, rid u64, key.
// Branch: child[0] u32, then count × (keyLen u16, key, child u32).
type page struct {
	id   PageID
	kind pageKind

	// leaf
	slots       []slot
	left, right PageID

	// branch
	keys     [][]byte
	children []PageID

	dirty    bool
	pins     int
	lastUsed uint64

	// handles of the cursors coupled to this page
	cursors []cursorHandle
}

func newLeaf(id PageID) *page {
	return &page{id: id, kind: pageLeaf, dirty: true}
}

func newBranch(id PageID) *page {
	return &page{id: id, kind: pageBranch, dirty: true}
}

func (p *page) isLeaf() bool {
	return p.kind == pageLeaf
}

func (p *page) isBranch() bool {
	return p.kind == pageBranch
}

// count returns the number of slots of a leaf or separators of a branch.
func (p *page) count() int {
	if p.isLeaf() {
		return len(p.slots)
	}
	return len(p.keys)
}

// search returns the position of key in a leaf and whether it was found.
// When not found the position is where the key would be inserted.
func (p *page) search(key []byte, cmp CompareFunc) (int, bool) {
	n := len(p.slots)
	i := sort.Search(n, func(i int) bool {
		return cmp(p.slots[i].key, key) >= 0
	})
	return i, i < n && cmp(p.slots[i].key, key) == 0
}

// childIndex returns the index of the child of a branch that covers key:
// the number of separators less than or equal to key.
func (p *page) childIndex(key []byte, cmp CompareFunc) int {
	return sort.Search(len(p.keys), func(i int) bool {
		return cmp(p.keys[i], key) > 0
	})
}

// insertSlot inserts s at idx.
func (p *page) insertSlot(idx int, s slot) {
	p.slots = append(p.slots, slot{})
	copy(p.slots[idx+1:], p.slots[idx:])
	p.slots[idx] = s
	p.dirty = true
}

// removeSlot removes the slot at idx.
func (p *page) removeSlot(idx int) {
	copy(p.slots[idx:], p.slots[idx+1:])
	p.slots[len(p.slots)-1] = slot{}
	p.slots = p.slots[:len(p.slots)-1]
	p.dirty = true
}

// insertChild inserts separator key and the child to its right at idx.
func (p *page) insertChild(idx int, key []byte, child PageID) {
	p.keys = append(p.keys, nil)
	copy(p.keys[idx+1:], p.keys[idx:])
	p.keys[idx] = key

	p.children = append(p.children, 0)
	copy(p.children[idx+2:], p.children[idx+1:])
	p.children[idx+1] = child
	p.dirty = true
}

// removeChild removes child ci and the separator bounding it.
func (p *page) removeChild(ci int) {
	ki := ci - 1
	if ci == 0 {
		ki = 0
	}
	if len(p.keys) > 0 {
		p.keys = append(p.keys[:ki], p.keys[ki+1:]...)
	}
	p.children = append(p.children[:ci], p.children[ci+1:]...)
	p.dirty = true
}

// encodedSize returns the size of the page image.
func (p *page) encodedSize() int {
	n := pageHeaderSize + pageTrailerSize
	if p.isLeaf() {
		for i := range p.slots {
			n += leafEntryHeader + len(p.slots[i].key)
		}
		return n
	}
	n += 4
	for _, k := range p.keys {
		n += 2 + len(k) + 4
	}
	return n
}

var imagePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, 4096)
		return &b
	},
}

// getImageBuffer returns a scratch buffer of at least size bytes.
func getImageBuffer(size int) *[]byte {
	bp := imagePool.Get().(*[]byte)
	if cap(*bp) < size {
		*bp = make([]byte, size)
	}
	*bp = (*bp)[:size]
	return bp
}

func putImageBuffer(bp *[]byte) {
	imagePool.Put(bp)
}

// encode writes the page image into buf, which must be encodedSize() long.
func (p *page) encode(buf []byte) {
	binary.LittleEndian.PutUint16(buf[0:], pageMagic)
	buf[2] = byte(p.kind)
	buf[3] = 0
	binary.LittleEndian.PutUint16(buf[4:], uint16(p.count()))
	binary.LittleEndian.PutUint16(buf[6:], 0)
	binary.LittleEndian.PutUint32(buf[8:], uint32(p.left))
	binary.LittleEndian.PutUint32(buf[12:], uint32(p.right))

	off := pageHeaderSize
	if p.isLeaf() {
		for i := range p.slots {
			s := &p.slots[i]
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(s.key)))
			buf[off+2] = byte(s.flags)
			binary.LittleEndian.PutUint64(buf[off+3:], s.rid)
			off += leafEntryHeader
			off += copy(buf[off:], s.key)
		}
	} else {
		binary.LittleEndian.PutUint32(buf[off:], uint32(p.children[0]))
		off += 4
		for i, k := range p.keys {
			binary.LittleEndian.PutUint16(buf[off:], uint16(len(k)))
			off += 2
			off += copy(buf[off:], k)
			binary.LittleEndian.PutUint32(buf[off:], uint32(p.children[i+1]))
			off += 4
		}
	}
	binary.LittleEndian.PutUint64(buf[off:], xxhash.Sum64(buf[:off]))
}

// decodePage parses a page image. Keys are copied out of data.
func decodePage(id PageID, data []byte) (*page, error) {
	if len(data) < pageHeaderSize+pageTrailerSize {
		return nil, Errorf(ErrIntegrity, "page %d: image of %d bytes", id, len(data))
	}
	body := data[:len(data)-pageTrailerSize]
	if xxhash.Sum64(body) != binary.LittleEndian.Uint64(data[len(body):]) {
		return nil, Errorf(ErrIntegrity, "page %d: checksum mismatch", id)
	}
	if binary.LittleEndian.Uint16(body) != pageMagic {
		return nil, Errorf(ErrIntegrity, "page %d: bad magic", id)
	}

	p := &page{
		id:    id,
		kind:  pageKind(body[2]),
		left:  PageID(binary.LittleEndian.Uint32(body[8:])),
		right: PageID(binary.LittleEndian.Uint32(body[12:])),
	}
	count := int(binary.LittleEndian.Uint16(body[4:]))
	off := pageHeaderSize
	short := func(need int) bool { return off+need > len(body) }

	switch p.kind {
	case pageLeaf:
		p.slots = make([]slot, count)
		for i := range p.slots {
			if short(leafEntryHeader) {
				return nil, Errorf(ErrIntegrity, "page %d: truncated slot %d", id, i)
			}
			klen := int(binary.LittleEndian.Uint16(body[off:]))
			s := &p.slots[i]
			s.flags = KeyFlags(body[off+2])
			s.rid = binary.LittleEndian.Uint64(body[off+3:])
			off += leafEntryHeader
			if short(klen) {
				return nil, Errorf(ErrIntegrity, "page %d: truncated key %d", id, i)
			}
			s.key = append([]byte(nil), body[off:off+klen]...)
			off += klen
		}
	case pageBranch:
		if short(4) {
			return nil, Errorf(ErrIntegrity, "page %d: truncated branch", id)
		}
		p.keys = make([][]byte, count)
		p.children = make([]PageID, count+1)
		p.children[0] = PageID(binary.LittleEndian.Uint32(body[off:]))
		off += 4
		for i := range p.keys {
			if short(2) {
				return nil, Errorf(ErrIntegrity, "page %d: truncated separator %d", id, i)
			}
			klen := int(binary.LittleEndian.Uint16(body[off:]))
			off += 2
			if short(klen + 4) {
				return nil, Errorf(ErrIntegrity, "page %d: truncated separator %d", id, i)
			}
			p.keys[i] = append([]byte(nil), body[off:off+klen]...)
			off += klen
			p.children[i+1] = PageID(binary.LittleEndian.Uint32(body[off:]))
			off += 4
		}
	default:
		return nil, Errorf(ErrIntegrity, "page %d: unknown kind %d", id, p.kind)
	}
	if off != len(body) {
		return nil, Errorf(ErrIntegrity, "page %d: %d trailing bytes", id, len(body)-off)
	}
	return p, nil
}
