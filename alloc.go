package gbtree

import "sync"

// Allocator provides the memory for cursor-owned key copies and for
// duplicate table growth. Allocation failure is the only source of
// ErrOutOfMemory.
type Allocator interface {
	Alloc(n int) ([]byte, error)
	Free(b []byte)
}

// HeapAllocator allocates from the Go heap and never fails.
type HeapAllocator struct{}

// Alloc returns a zeroed buffer of n bytes.
func (HeapAllocator) Alloc(n int) ([]byte, error) {
	return make([]byte, n), nil
}

// Free is a no-op; the garbage collector reclaims the buffer.
func (HeapAllocator) Free([]byte) {}

// LimitAllocator is a heap allocator with a byte budget. Once the budget is
// exhausted Alloc fails with ErrOutOfMemory until memory is freed or the
// limit is raised.
type LimitAllocator struct {
	mu    sync.Mutex
	limit int
	inUse int
}

// NewLimitAllocator returns an allocator that hands out at most limit bytes.
func NewLimitAllocator(limit int) *LimitAllocator {
	return &LimitAllocator{limit: limit}
}

// Alloc returns n bytes or ErrOutOfMemory if the budget would be exceeded.
func (a *LimitAllocator) Alloc(n int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if n < 0 || a.inUse+n > a.limit {
		return nil, Errorf(ErrOutOfMemory, "allocating %d bytes (%d of %d in use)", n, a.inUse, a.limit)
	}
	a.inUse += n
	return make([]byte, n), nil
}

// Free returns len(b) bytes to the budget.
func (a *LimitAllocator) Free(b []byte) {
	a.mu.Lock()
	a.inUse -= len(b)
	if a.inUse < 0 {
		a.inUse = 0
	}
	a.mu.Unlock()
}

// SetLimit changes the budget. Lowering it below InUse makes every further
// allocation fail.
func (a *LimitAllocator) SetLimit(limit int) {
	a.mu.Lock()
	a.limit = limit
	a.mu.Unlock()
}

// InUse returns the number of bytes currently handed out.
func (a *LimitAllocator) InUse() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inUse
}
