//go:build unix

package mmap

import (
	"golang.org/x/sys/unix"
)

// Supported reports whether memory mapping is available on this platform.
const Supported = true

// New creates a shared mapping of the first length bytes of fd.
func New(fd int, length int, writable bool) (*Map, error) {
	if length <= 0 {
		return nil, ErrInvalidSize
	}

	data, err := unix.Mmap(fd, 0, length, prot(writable), unix.MAP_SHARED)
	if err != nil {
		return nil, &Error{Op: "mmap", Err: err}
	}

	return &Map{
		data:     data,
		fd:       fd,
		size:     int64(length),
		writable: writable,
	}, nil
}

func prot(writable bool) int {
	p := unix.PROT_READ
	if writable {
		p |= unix.PROT_WRITE
	}
	return p
}

// Sync flushes changes to disk synchronously.
func (m *Map) Sync() error {
	if m.data == nil {
		return ErrNotMapped
	}
	return unix.Msync(m.data, unix.MS_SYNC)
}

// SyncRange flushes a specific range to disk.
func (m *Map) SyncRange(offset, length int64) error {
	if m.data == nil {
		return ErrNotMapped
	}
	if offset < 0 || length < 0 || offset+length > m.size {
		return ErrInvalidRange
	}
	// msync wants a page-aligned start address.
	pageSize := int64(unix.Getpagesize())
	start := offset &^ (pageSize - 1)
	return unix.Msync(m.data[start:offset+length], unix.MS_SYNC)
}

// Close releases the memory mapping.
func (m *Map) Close() error {
	if m.data == nil {
		return nil
	}
	err := unix.Munmap(m.data)
	m.data = nil
	m.size = 0
	return err
}

// Remap unmaps the region and maps newSize bytes of the file instead.
// The caller must have grown the file beforehand.
func (m *Map) Remap(newSize int64) error {
	if m.data == nil {
		return ErrNotMapped
	}
	if newSize <= 0 {
		return ErrInvalidSize
	}
	if newSize == m.size {
		return nil
	}

	if err := unix.Munmap(m.data); err != nil {
		return &Error{Op: "munmap for remap", Err: err}
	}

	data, err := unix.Mmap(m.fd, 0, int(newSize), prot(m.writable), unix.MAP_SHARED)
	if err != nil {
		m.data = nil
		m.size = 0
		return &Error{Op: "mmap for remap", Err: err}
	}

	m.data = data
	m.size = newSize
	return nil
}

// AdviseRandom hints that pages will be accessed randomly.
func (m *Map) AdviseRandom() error {
	if m.data == nil {
		return ErrNotMapped
	}
	return unix.Madvise(m.data, unix.MADV_RANDOM)
}
