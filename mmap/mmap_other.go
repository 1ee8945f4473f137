//go:build !unix

package mmap

// Supported reports whether memory mapping is available on this platform.
const Supported = false

// New always fails on platforms without unix mmap.
func New(fd int, length int, writable bool) (*Map, error) {
	return nil, ErrUnsupported
}

func (m *Map) Sync() error                        { return ErrUnsupported }
func (m *Map) SyncRange(offset, length int64) error { return ErrUnsupported }
func (m *Map) Close() error                       { return nil }
func (m *Map) Remap(newSize int64) error          { return ErrUnsupported }
func (m *Map) AdviseRandom() error                { return ErrUnsupported }
