package gbtree

// PageID identifies a page in the page store. Zero means "no page".
type PageID uint32

// KeyFlags describe how a slot stores its record.
type KeyFlags uint8

const (
	// KeyBlobSizeTiny means the record (< 8 bytes) lives inside the locator;
	// the locator's high byte holds its length
	KeyBlobSizeTiny KeyFlags = 0x01

	// KeyBlobSizeSmall means the record is exactly 8 bytes and is the locator
	KeyBlobSizeSmall KeyFlags = 0x02

	// KeyBlobSizeEmpty means the record is empty
	KeyBlobSizeEmpty KeyFlags = 0x04

	// KeyHasDuplicates means the locator points to a duplicate table
	KeyHasDuplicates KeyFlags = 0x08

	// keySizeMask masks the record size-class bits
	keySizeMask = KeyBlobSizeTiny | KeyBlobSizeSmall | KeyBlobSizeEmpty
)

// Direction selects a cursor movement.
type Direction uint8

const (
	// MoveNone reads at the current position without moving
	MoveNone Direction = iota
	// MoveFirst positions at the first key
	MoveFirst
	// MoveLast positions at the last key
	MoveLast
	// MoveNext moves to the next key or duplicate
	MoveNext
	// MovePrevious moves to the previous key or duplicate
	MovePrevious
)

func (d Direction) String() string {
	switch d {
	case MoveNone:
		return "none"
	case MoveFirst:
		return "first"
	case MoveLast:
		return "last"
	case MoveNext:
		return "next"
	case MovePrevious:
		return "previous"
	default:
		return "invalid"
	}
}

// MoveOptions modify how a move treats duplicates.
type MoveOptions uint8

const (
	// SkipDuplicates steps over the duplicates of a key
	SkipDuplicates MoveOptions = 0x01
	// OnlyDuplicates stays within the duplicates of the current key
	OnlyDuplicates MoveOptions = 0x02
)

// Insert flags
const (
	// Overwrite replaces the record of an existing key (or of the duplicate
	// the cursor points to)
	Overwrite uint = 0x01

	// Duplicate adds the record as a new duplicate of an existing key
	Duplicate uint = 0x02

	// DupInsertBefore inserts the duplicate before the cursor's duplicate
	DupInsertBefore uint = 0x04

	// DupInsertAfter inserts the duplicate after the cursor's duplicate
	DupInsertAfter uint = 0x08

	// DupInsertFirst inserts the duplicate at the head of the table
	DupInsertFirst uint = 0x10

	// DupInsertLast appends the duplicate (default)
	DupInsertLast uint = 0x20

	dupPositionMask = DupInsertBefore | DupInsertAfter | DupInsertFirst | DupInsertLast
)

// Erase flags
const (
	// EraseAllDuplicates erases the key with all of its duplicates when
	// erasing through a cursor
	EraseAllDuplicates uint = 0x01
)

// uncoupleFlags modify Cursor.uncouple.
type uncoupleFlags uint8

const (
	// uncoupleNoRemove keeps the page registry untouched; the caller
	// detaches many cursors at once afterwards
	uncoupleNoRemove uncoupleFlags = 0x01
)

// Limits
const (
	// MaxKeySize is the largest key accepted (length is stored in 16 bits)
	MaxKeySize = 0xFFFF

	// MinPageCapacity is the smallest number of slots a page may hold
	MinPageCapacity = 4

	// DefaultPageCapacity is the default number of slots per page
	DefaultPageCapacity = 64

	// DefaultCacheSize is the default number of cached pages
	DefaultCacheSize = 256
)
