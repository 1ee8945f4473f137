package gbtree

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/Giulio2002/gbtree/mmap"
)

// FileBlobStore is an append-only blob file accessed through a shared memory
// mapping. A blob id is the file offset of its record header.
//
// File layout:
//
//	Offset  Size  Field
//	0       8     magic "GBTBLOB1"
//	8       8     end of the last record (next append offset)
//	16      8     bytes occupied by freed records
//	24      8     reserved
//	32      ...   records
//
// Record layout:
//
//	0       4     payload length
//	4       1     flags (blobFreed)
//	5       3     reserved
//	8       8     xxhash64 of the payload
//	16      ...   payload
type FileBlobStore struct {
	file *os.File
	m    *mmap.Map
	end  uint64
	dead uint64
}

const (
	blobFileMagic      = "GBTBLOB1"
	blobFileHeaderSize = 32
	blobRecordHeader   = 16
	blobFreed          = 0x01

	defaultBlobFileSize = 1 << 20
)

// OpenFileBlobStore opens or creates the blob file at path.
func OpenFileBlobStore(path string) (*FileBlobStore, error) {
	if !mmap.Supported {
		return nil, WrapError(ErrInvalidParameter, mmap.ErrUnsupported)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, WrapError(ErrIO, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, WrapError(ErrIO, err)
	}

	fresh := fi.Size() == 0
	size := fi.Size()
	if fresh {
		size = defaultBlobFileSize
		if err := f.Truncate(size); err != nil {
			f.Close()
			return nil, WrapError(ErrIO, err)
		}
	}

	m, err := mmap.New(int(f.Fd()), int(size), true)
	if err != nil {
		f.Close()
		return nil, WrapError(ErrIO, err)
	}
	_ = m.AdviseRandom()

	s := &FileBlobStore{file: f, m: m}
	data := m.Data()
	if fresh {
		copy(data, blobFileMagic)
		s.end = blobFileHeaderSize
		s.writeHeader()
		return s, nil
	}

	if size < blobFileHeaderSize || string(data[:8]) != blobFileMagic {
		m.Close()
		f.Close()
		return nil, Errorf(ErrIntegrity, "%s is not a blob file", path)
	}
	s.end = binary.LittleEndian.Uint64(data[8:])
	s.dead = binary.LittleEndian.Uint64(data[16:])
	if s.end < blobFileHeaderSize || s.end > uint64(size) {
		m.Close()
		f.Close()
		return nil, Errorf(ErrIntegrity, "blob file end offset %d out of range", s.end)
	}
	return s, nil
}

func (s *FileBlobStore) writeHeader() {
	data := s.m.Data()
	binary.LittleEndian.PutUint64(data[8:], s.end)
	binary.LittleEndian.PutUint64(data[16:], s.dead)
}

// grow makes room for need more bytes past end.
func (s *FileBlobStore) grow(need uint64) error {
	size := uint64(s.m.Size())
	if s.end+need <= size {
		return nil
	}
	for size < s.end+need {
		size *= 2
	}
	if err := s.file.Truncate(int64(size)); err != nil {
		return WrapError(ErrIO, err)
	}
	if err := s.m.Remap(int64(size)); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

func (s *FileBlobStore) Allocate(data []byte) (uint64, error) {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return 0, Errorf(ErrLimitsReached, "blob of %d bytes", len(data))
	}
	need := uint64(blobRecordHeader + len(data))
	if err := s.grow(need); err != nil {
		return 0, err
	}

	rid := s.end
	rec := s.m.Data()[rid : rid+need]
	binary.LittleEndian.PutUint32(rec[0:], uint32(len(data)))
	rec[4] = 0
	binary.LittleEndian.PutUint64(rec[8:], xxhash.Sum64(data))
	copy(rec[blobRecordHeader:], data)

	s.end += need
	s.writeHeader()
	return rid, nil
}

// record returns the header and payload of a live record.
func (s *FileBlobStore) record(rid uint64) ([]byte, []byte, error) {
	if rid < blobFileHeaderSize || rid+blobRecordHeader > s.end {
		return nil, nil, Errorf(ErrIO, "blob %d out of range", rid)
	}
	data := s.m.Data()
	hdr := data[rid : rid+blobRecordHeader]
	if hdr[4]&blobFreed != 0 {
		return nil, nil, Errorf(ErrIO, "blob %d was freed", rid)
	}
	n := uint64(binary.LittleEndian.Uint32(hdr))
	if rid+blobRecordHeader+n > s.end {
		return nil, nil, Errorf(ErrIntegrity, "blob %d length %d overruns file", rid, n)
	}
	return hdr, data[rid+blobRecordHeader : rid+blobRecordHeader+n], nil
}

func (s *FileBlobStore) Read(rid uint64) ([]byte, error) {
	hdr, payload, err := s.record(rid)
	if err != nil {
		return nil, err
	}
	if xxhash.Sum64(payload) != binary.LittleEndian.Uint64(hdr[8:]) {
		return nil, Errorf(ErrIntegrity, "blob %d checksum mismatch", rid)
	}
	// The mapping moves on remap; hand out a copy.
	return append([]byte(nil), payload...), nil
}

func (s *FileBlobStore) Size(rid uint64) (uint64, error) {
	_, payload, err := s.record(rid)
	if err != nil {
		return 0, err
	}
	return uint64(len(payload)), nil
}

func (s *FileBlobStore) Overwrite(rid uint64, data []byte) (uint64, error) {
	hdr, payload, err := s.record(rid)
	if err != nil {
		return 0, err
	}
	if len(payload) == len(data) {
		copy(payload, data)
		binary.LittleEndian.PutUint64(hdr[8:], xxhash.Sum64(data))
		return rid, nil
	}
	newRid, err := s.Allocate(data)
	if err != nil {
		return 0, err
	}
	if err := s.Free(rid); err != nil {
		return 0, err
	}
	return newRid, nil
}

func (s *FileBlobStore) Free(rid uint64) error {
	hdr, payload, err := s.record(rid)
	if err != nil {
		return err
	}
	hdr[4] |= blobFreed
	s.dead += uint64(blobRecordHeader + len(payload))
	s.writeHeader()
	return nil
}

// Garbage returns the number of bytes held by freed records.
func (s *FileBlobStore) Garbage() uint64 { return s.dead }

func (s *FileBlobStore) Sync() error {
	if err := s.m.Sync(); err != nil {
		return WrapError(ErrIO, err)
	}
	return nil
}

func (s *FileBlobStore) Close() error {
	if s.m == nil {
		return nil
	}
	err := s.m.Sync()
	if cerr := s.m.Close(); err == nil {
		err = cerr
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	s.m = nil
	if err != nil {
		return WrapError(ErrIO, fmt.Errorf("closing blob file: %w", err))
	}
	return nil
}
