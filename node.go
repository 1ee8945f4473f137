package gbtree

import (
	"encoding/binary"
)

// slot is one key entry of a leaf page.
//
// The record locator (rid) is interpreted by the size-class flags:
//
//	KeyBlobSizeEmpty  record is empty, rid unused
//	KeyBlobSizeTiny   record bytes in rid[0:n], n in rid[7] (n < 8)
//	KeyBlobSizeSmall  record is the 8 bytes of rid
//	(none)            rid is a blob id
//	KeyHasDuplicates  rid is the blob id of a duplicate table
type slot struct {
	key   []byte
	flags KeyFlags
	rid   uint64
}

// recordFlags returns the size-class bits of the slot.
func (s *slot) recordFlags() KeyFlags {
	return s.flags & keySizeMask
}

func (s *slot) hasDuplicates() bool {
	return s.flags&KeyHasDuplicates != 0
}

// records encodes record payloads into (flags, rid) pairs, spilling
// anything longer than eight bytes into the blob store.
type records struct {
	blobs BlobStore
}

// encode stores data and returns its size-class flags and locator.
func (r records) encode(data []byte) (KeyFlags, uint64, error) {
	switch {
	case len(data) == 0:
		return KeyBlobSizeEmpty, 0, nil
	case len(data) < 8:
		var b [8]byte
		copy(b[:], data)
		b[7] = byte(len(data))
		return KeyBlobSizeTiny, binary.LittleEndian.Uint64(b[:]), nil
	case len(data) == 8:
		return KeyBlobSizeSmall, binary.LittleEndian.Uint64(data), nil
	default:
		rid, err := r.blobs.Allocate(data)
		if err != nil {
			return 0, 0, err
		}
		return 0, rid, nil
	}
}

// decode returns the record identified by flags and rid.
func (r records) decode(flags KeyFlags, rid uint64) ([]byte, error) {
	var b [8]byte
	switch {
	case flags&KeyBlobSizeEmpty != 0:
		return []byte{}, nil
	case flags&KeyBlobSizeTiny != 0:
		binary.LittleEndian.PutUint64(b[:], rid)
		n := b[7]
		if n >= 8 {
			return nil, Errorf(ErrIntegrity, "tiny record length %d", n)
		}
		return append([]byte(nil), b[:n]...), nil
	case flags&KeyBlobSizeSmall != 0:
		binary.LittleEndian.PutUint64(b[:], rid)
		return append([]byte(nil), b[:]...), nil
	default:
		return r.blobs.Read(rid)
	}
}

// size resolves the record length without reading a NORMAL payload.
func (r records) size(flags KeyFlags, rid uint64) (uint64, error) {
	switch {
	case flags&KeyBlobSizeTiny != 0:
		// the highest byte of the locator is the size of the record
		return rid >> 56, nil
	case flags&KeyBlobSizeSmall != 0:
		return 8, nil
	case flags&KeyBlobSizeEmpty != 0:
		return 0, nil
	default:
		return r.blobs.Size(rid)
	}
}

// free releases external storage of the record, if any.
func (r records) free(flags KeyFlags, rid uint64) error {
	if flags&keySizeMask != 0 {
		return nil
	}
	return r.blobs.Free(rid)
}

// replace swaps the record (flags, rid) for data, reusing the blob when both
// the old and the new record are NORMAL.
func (r records) replace(flags KeyFlags, rid uint64, data []byte) (KeyFlags, uint64, error) {
	oldNormal := flags&keySizeMask == 0
	if oldNormal && len(data) > 8 {
		newRid, err := r.blobs.Overwrite(rid, data)
		if err != nil {
			return 0, 0, err
		}
		return 0, newRid, nil
	}
	nf, nrid, err := r.encode(data)
	if err != nil {
		return 0, 0, err
	}
	if oldNormal {
		if err := r.blobs.Free(rid); err != nil {
			return 0, 0, err
		}
	}
	return nf, nrid, nil
}
