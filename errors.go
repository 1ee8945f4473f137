package gbtree

import (
	"errors"
	"fmt"
)

// Error represents a gbtree error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gbtree: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("gbtree: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is match any *Error carrying the same code, so callers can
// compare against the sentinel values below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// ErrorCode identifies the kind of failure.
type ErrorCode int

const (
	// Success indicates the operation completed successfully
	Success ErrorCode = 0

	// ErrKeyNotFound indicates a lookup missed or a traversal ran off the tree
	ErrKeyNotFound ErrorCode = -11

	// ErrKeyExists indicates an insert hit an existing key without
	// Overwrite or Duplicate
	ErrKeyExists ErrorCode = -12

	// ErrCursorIsNil indicates the operation needs a positioned cursor
	ErrCursorIsNil ErrorCode = -100

	// ErrNotInitialized indicates the backing tree is absent (database closed)
	ErrNotInitialized ErrorCode = -7

	// ErrOutOfMemory indicates the allocator refused a key copy or table growth
	ErrOutOfMemory ErrorCode = -6

	// ErrInvalidParameter indicates a bad argument or flag combination
	ErrInvalidParameter ErrorCode = -8

	// ErrIO indicates a page or blob store failure
	ErrIO ErrorCode = -18

	// ErrIntegrity indicates a checksum or format mismatch in stored data
	ErrIntegrity ErrorCode = -13

	// ErrLimitsReached indicates a key or table exceeded an encoding limit
	ErrLimitsReached ErrorCode = -24
)

var errorMessages = map[ErrorCode]string{
	Success:             "success",
	ErrKeyNotFound:      "key not found",
	ErrKeyExists:        "key already exists",
	ErrCursorIsNil:      "cursor points to nil",
	ErrNotInitialized:   "database not initialized",
	ErrOutOfMemory:      "out of memory",
	ErrInvalidParameter: "invalid parameter",
	ErrIO:               "i/o error",
	ErrIntegrity:        "data integrity check failed",
	ErrLimitsReached:    "limits reached",
}

// NewError creates a new Error with the given code
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError creates a new Error wrapping another error
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Errorf creates a new Error with a formatted detail appended to the message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	e := NewError(code)
	e.Message = e.Message + ": " + fmt.Sprintf(format, args...)
	return e
}

// Common error variables for convenience
var (
	ErrKeyNotFoundError      = NewError(ErrKeyNotFound)
	ErrKeyExistsError        = NewError(ErrKeyExists)
	ErrCursorIsNilError      = NewError(ErrCursorIsNil)
	ErrNotInitializedError   = NewError(ErrNotInitialized)
	ErrOutOfMemoryError      = NewError(ErrOutOfMemory)
	ErrInvalidParameterError = NewError(ErrInvalidParameter)
)

// IsNotFound returns true if the error is ErrKeyNotFound
func IsNotFound(err error) bool {
	return Code(err) == ErrKeyNotFound
}

// IsCursorNil returns true if the error is ErrCursorIsNil
func IsCursorNil(err error) bool {
	return Code(err) == ErrCursorIsNil
}

// IsOutOfMemory returns true if the error is ErrOutOfMemory
func IsOutOfMemory(err error) bool {
	return Code(err) == ErrOutOfMemory
}

// IsKeyExists returns true if the error is ErrKeyExists
func IsKeyExists(err error) bool {
	return Code(err) == ErrKeyExists
}

// Code returns the error code from an error, or ErrIO if it is not a gbtree
// error (collaborator failures surface as I/O).
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrIO
}
