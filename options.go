package gbtree

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
)

// CompareFunc orders keys. It returns a negative number when a < b, zero
// when they are equal and a positive number when a > b.
type CompareFunc func(a, b []byte) int

// Backend selects where pages are kept.
type Backend int

const (
	// BackendMemory keeps pages in memory
	BackendMemory Backend = iota
	// BackendBolt keeps pages in a bbolt file at Options.Path
	BackendBolt
)

// BlobBackend selects where records longer than 8 bytes and duplicate tables
// are kept.
type BlobBackend int

const (
	// BlobMemory keeps blobs in memory
	BlobMemory BlobBackend = iota
	// BlobFile keeps blobs in a memory mapped file at Options.Path + ".blobs"
	BlobFile
)

// Compression selects the blob codec.
type Compression int

const (
	CompressionNone Compression = iota
	CompressionZstd
)

// Options configure a database.
type Options struct {
	// Path is the database file for BackendBolt and the prefix of the blob
	// file for BlobFile.
	Path string

	Backend     Backend
	BlobBackend BlobBackend

	// PageCapacity is the maximum number of slots per page.
	PageCapacity int

	// CacheSize is the maximum number of cached pages. Pinned pages may
	// push the cache above it for the duration of an operation.
	CacheSize int

	Compression Compression

	// CompressMinSize is the smallest blob that gets compressed.
	CompressMinSize int

	// Duplicates allows more than one record per key.
	Duplicates bool

	// Compare orders keys; bytes.Compare when nil.
	Compare CompareFunc

	// Allocator provides cursor key copies and duplicate table growth.
	Allocator Allocator

	// Logger receives debug and info events; discarded when nil.
	Logger *slog.Logger
}

// DefaultOptions returns in-memory options with duplicates enabled.
func DefaultOptions() Options {
	return Options{
		Backend:         BackendMemory,
		BlobBackend:     BlobMemory,
		PageCapacity:    DefaultPageCapacity,
		CacheSize:       DefaultCacheSize,
		Compression:     CompressionNone,
		CompressMinSize: 256,
		Duplicates:      true,
		Compare:         bytes.Compare,
		Allocator:       HeapAllocator{},
	}
}

// withDefaults fills unset fields.
func (o Options) withDefaults() Options {
	if o.PageCapacity == 0 {
		o.PageCapacity = DefaultPageCapacity
	}
	if o.CacheSize == 0 {
		o.CacheSize = DefaultCacheSize
	}
	if o.CompressMinSize == 0 {
		o.CompressMinSize = 256
	}
	if o.Compare == nil {
		o.Compare = bytes.Compare
	}
	if o.Allocator == nil {
		o.Allocator = HeapAllocator{}
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o
}

// Validate checks the options.
func (o *Options) Validate() error {
	if o.PageCapacity < MinPageCapacity {
		return Errorf(ErrInvalidParameter, "page capacity %d below %d", o.PageCapacity, MinPageCapacity)
	}
	if o.PageCapacity > 0xFFFF {
		return Errorf(ErrInvalidParameter, "page capacity %d above %d", o.PageCapacity, 0xFFFF)
	}
	if o.CacheSize < 1 {
		return Errorf(ErrInvalidParameter, "cache size must be positive")
	}
	if o.CompressMinSize < 0 {
		return Errorf(ErrInvalidParameter, "negative compression threshold")
	}
	switch o.Backend {
	case BackendMemory:
	case BackendBolt:
		if o.Path == "" {
			return Errorf(ErrInvalidParameter, "bolt backend needs a path")
		}
	default:
		return Errorf(ErrInvalidParameter, "unknown backend %d", o.Backend)
	}
	switch o.BlobBackend {
	case BlobMemory:
	case BlobFile:
		if o.Path == "" {
			return Errorf(ErrInvalidParameter, "file blobs need a path")
		}
	default:
		return Errorf(ErrInvalidParameter, "unknown blob backend %d", o.BlobBackend)
	}
	if o.Backend == BackendBolt && o.BlobBackend == BlobMemory {
		// persisted pages would reference blobs lost on close
		return Errorf(ErrInvalidParameter, "bolt backend needs file blobs")
	}
	if o.Compression != CompressionNone && o.Compression != CompressionZstd {
		return Errorf(ErrInvalidParameter, "unknown compression %d", o.Compression)
	}
	return nil
}

func (b Backend) String() string {
	switch b {
	case BackendMemory:
		return "memory"
	case BackendBolt:
		return "bolt"
	default:
		return fmt.Sprintf("backend(%d)", int(b))
	}
}

func (b BlobBackend) String() string {
	switch b {
	case BlobMemory:
		return "memory"
	case BlobFile:
		return "file"
	default:
		return fmt.Sprintf("blobs(%d)", int(b))
	}
}
