package gbtree

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/Giulio2002/gbtree/internal/fastmap"
)

// BlobStore keeps variable-sized payloads outside the pages: NORMAL records
// and duplicate tables. Blob ids are never zero.
type BlobStore interface {
	// Allocate stores data and returns its id.
	Allocate(data []byte) (uint64, error)
	// Read returns a copy of the blob.
	Read(rid uint64) ([]byte, error)
	// Size returns the blob's length without reading its payload.
	Size(rid uint64) (uint64, error)
	// Overwrite replaces the blob and returns its (possibly new) id.
	Overwrite(rid uint64, data []byte) (uint64, error)
	// Free releases the blob.
	Free(rid uint64) error
	// Sync makes stored blobs durable.
	Sync() error
	// Close releases the store.
	Close() error
}

// MemBlobStore keeps blobs in memory.
type MemBlobStore struct {
	blobs *fastmap.Map[[]byte]
	next  uint32
}

// NewMemBlobStore returns an empty in-memory blob store.
func NewMemBlobStore() *MemBlobStore {
	return &MemBlobStore{blobs: fastmap.New[[]byte](64), next: 1}
}

func (s *MemBlobStore) Allocate(data []byte) (uint64, error) {
	id := s.next
	s.next++
	s.blobs.Set(id, append([]byte(nil), data...))
	return uint64(id), nil
}

func (s *MemBlobStore) lookup(rid uint64) ([]byte, error) {
	if rid == 0 || rid > uint64(^uint32(0)) {
		return nil, Errorf(ErrIO, "blob %d out of range", rid)
	}
	b, ok := s.blobs.Get(uint32(rid))
	if !ok {
		return nil, Errorf(ErrIO, "blob %d not found", rid)
	}
	return b, nil
}

func (s *MemBlobStore) Read(rid uint64) ([]byte, error) {
	b, err := s.lookup(rid)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

func (s *MemBlobStore) Size(rid uint64) (uint64, error) {
	b, err := s.lookup(rid)
	if err != nil {
		return 0, err
	}
	return uint64(len(b)), nil
}

func (s *MemBlobStore) Overwrite(rid uint64, data []byte) (uint64, error) {
	if _, err := s.lookup(rid); err != nil {
		return 0, err
	}
	s.blobs.Set(uint32(rid), append([]byte(nil), data...))
	return rid, nil
}

func (s *MemBlobStore) Free(rid uint64) error {
	if !s.blobs.Delete(uint32(rid)) {
		return Errorf(ErrIO, "blob %d not found", rid)
	}
	return nil
}

// Len returns the number of live blobs.
func (s *MemBlobStore) Len() int { return s.blobs.Len() }

func (s *MemBlobStore) Sync() error  { return nil }
func (s *MemBlobStore) Close() error { return nil }

// Compressed blob framing: one codec byte, then for zstd the raw length.
const (
	blobRaw  byte = 0
	blobZstd byte = 1

	zstdHeaderSize = 5
)

// compressedBlobs wraps a BlobStore and compresses payloads of at least
// minSize bytes with zstd. Sizes reported are always uncompressed sizes.
type compressedBlobs struct {
	inner   BlobStore
	minSize int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func newCompressedBlobs(inner BlobStore, minSize int) (*compressedBlobs, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create ZSTD encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("failed to create ZSTD decoder: %w", err)
	}
	return &compressedBlobs{inner: inner, minSize: minSize, enc: enc, dec: dec}, nil
}

func (c *compressedBlobs) frame(data []byte) []byte {
	if len(data) >= c.minSize {
		buf := make([]byte, zstdHeaderSize, zstdHeaderSize+len(data)/2)
		buf[0] = blobZstd
		binary.LittleEndian.PutUint32(buf[1:], uint32(len(data)))
		out := c.enc.EncodeAll(data, buf)
		if len(out) < len(data)+1 {
			return out
		}
	}
	// Not worth it: store raw.
	buf := make([]byte, 1+len(data))
	buf[0] = blobRaw
	copy(buf[1:], data)
	return buf
}

func (c *compressedBlobs) Allocate(data []byte) (uint64, error) {
	return c.inner.Allocate(c.frame(data))
}

func (c *compressedBlobs) Read(rid uint64) ([]byte, error) {
	framed, err := c.inner.Read(rid)
	if err != nil {
		return nil, err
	}
	if len(framed) == 0 {
		return nil, Errorf(ErrIntegrity, "blob %d has no codec byte", rid)
	}
	switch framed[0] {
	case blobRaw:
		return framed[1:], nil
	case blobZstd:
		if len(framed) < zstdHeaderSize {
			return nil, Errorf(ErrIntegrity, "blob %d: short zstd header", rid)
		}
		rawLen := binary.LittleEndian.Uint32(framed[1:])
		out, err := c.dec.DecodeAll(framed[zstdHeaderSize:], make([]byte, 0, rawLen))
		if err != nil {
			return nil, WrapError(ErrIntegrity, err)
		}
		return out, nil
	default:
		return nil, Errorf(ErrIntegrity, "blob %d: unknown codec %d", rid, framed[0])
	}
}

func (c *compressedBlobs) Size(rid uint64) (uint64, error) {
	framed, err := c.inner.Read(rid)
	if err != nil {
		return 0, err
	}
	switch {
	case len(framed) >= zstdHeaderSize && framed[0] == blobZstd:
		return uint64(binary.LittleEndian.Uint32(framed[1:])), nil
	case len(framed) >= 1 && framed[0] == blobRaw:
		return uint64(len(framed) - 1), nil
	default:
		return 0, Errorf(ErrIntegrity, "blob %d: bad framing", rid)
	}
}

func (c *compressedBlobs) Overwrite(rid uint64, data []byte) (uint64, error) {
	return c.inner.Overwrite(rid, c.frame(data))
}

func (c *compressedBlobs) Free(rid uint64) error { return c.inner.Free(rid) }
func (c *compressedBlobs) Sync() error           { return c.inner.Sync() }

func (c *compressedBlobs) Close() error {
	c.enc.Close()
	c.dec.Close()
	return c.inner.Close()
}
