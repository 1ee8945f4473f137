// Package bitmap provides a growable bitset used to hand out small integer
// handles (cursor handles, page numbers) and recycle them once released.
package bitmap

import "math/bits"

// Bitmap tracks slot allocation using a bitset of uint64 words.
type Bitmap struct {
	words    []uint64
	numSlots uint32
	used     uint32
	freeHint uint32 // lowest slot that may be free
}

// New creates a bitmap with room for initial slots. It grows on demand.
func New(initial uint32) *Bitmap {
	if initial == 0 {
		initial = 64
	}
	return &Bitmap{
		words:    make([]uint64, (initial+63)/64),
		numSlots: initial,
	}
}

// Allocate marks the lowest free slot as used and returns it.
// The bitmap doubles in size when every slot is taken.
func (b *Bitmap) Allocate() uint32 {
	if b.used == b.numSlots {
		b.Extend(b.numSlots * 2)
	}

	for wordIdx := b.freeHint / 64; wordIdx < uint32(len(b.words)); wordIdx++ {
		word := b.words[wordIdx]
		if word == ^uint64(0) {
			continue
		}
		bitPos := uint32(bits.TrailingZeros64(^word))
		slot := wordIdx*64 + bitPos
		if slot >= b.numSlots {
			break
		}
		b.words[wordIdx] |= 1 << bitPos
		b.used++
		b.freeHint = slot + 1
		return slot
	}

	// The hint skipped past a free slot; rescan from the start once.
	b.freeHint = 0
	return b.Allocate()
}

// MarkAllocated marks slot as used, growing the bitmap if needed.
// Used when restoring allocation state from persistent storage.
func (b *Bitmap) MarkAllocated(slot uint32) {
	if slot >= b.numSlots {
		newCap := b.numSlots
		for newCap <= slot {
			newCap *= 2
		}
		b.Extend(newCap)
	}
	wordIdx, bitPos := slot/64, slot%64
	if b.words[wordIdx]&(1<<bitPos) == 0 {
		b.words[wordIdx] |= 1 << bitPos
		b.used++
	}
}

// Free marks a slot as available.
func (b *Bitmap) Free(slot uint32) {
	if slot >= b.numSlots {
		return
	}
	wordIdx, bitPos := slot/64, slot%64
	if b.words[wordIdx]&(1<<bitPos) == 0 {
		return
	}
	b.words[wordIdx] &^= 1 << bitPos
	b.used--
	if slot < b.freeHint {
		b.freeHint = slot
	}
}

// Extend increases the bitmap capacity to accommodate more slots.
func (b *Bitmap) Extend(newCap uint32) {
	if newCap <= b.numSlots {
		return
	}
	newNumWords := (newCap + 63) / 64
	if newNumWords > uint32(len(b.words)) {
		newWords := make([]uint64, newNumWords)
		copy(newWords, b.words)
		b.words = newWords
	}
	b.numSlots = newCap
}

// IsAllocated returns true if the slot is marked as allocated.
func (b *Bitmap) IsAllocated(slot uint32) bool {
	if slot >= b.numSlots {
		return false
	}
	return b.words[slot/64]&(1<<(slot%64)) != 0
}

// Count returns the number of allocated slots.
func (b *Bitmap) Count() uint32 {
	return b.used
}

// Capacity returns the total number of slots.
func (b *Bitmap) Capacity() uint32 {
	return b.numSlots
}
