package fserr

import (
	"errors"
	"fmt"
)

// ErrInconsistent is wrapped into errors signalling filesystem corruption:
// broken accounting, missing or malformed records, checksum mismatches.
// Such errors are never retried.
var ErrInconsistent = errors.New("filesystem inconsistent")

// ErrTooBig is returned when offset or length arithmetic overflows.
var ErrTooBig = errors.New("too big")

// ErrOutOfRange is returned for offsets beyond the object or device end.
var ErrOutOfRange = errors.New("out of range")

// ErrNotFile is returned when a file-only operation is applied to an object of
// another kind.
var ErrNotFile = errors.New("not a file")

// ErrNotFound is returned when a requested object does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when a record is inserted over an existing one.
var ErrAlreadyExists = errors.New("already exists")

// ErrInvalidArgs is wrapped into caller contract violations such as
// misaligned offsets.
var ErrInvalidArgs = errors.New("invalid arguments")

// ErrNotSupported is returned for operations the object cannot serve, e.g.
// preallocation of an encrypted object.
var ErrNotSupported = errors.New("not supported")

// ErrNoSpace MUST be returned when the allocator has no free device space.
var ErrNoSpace = errors.New("no free space")

// ErrReadOnly MUST be returned for modifying operations when the filesystem was
// opened in read-only mode.
var ErrReadOnly = errors.New("opened as read-only")

// Inconsistent returns an error wrapping ErrInconsistent with formatted context.
func Inconsistent(format string, args ...any) error {
	return wrap(ErrInconsistent, format, args...)
}

// InvalidArgs returns an error wrapping ErrInvalidArgs with formatted context.
func InvalidArgs(format string, args ...any) error {
	return wrap(ErrInvalidArgs, format, args...)
}

// TooBig returns an error wrapping ErrTooBig with formatted context.
func TooBig(format string, args ...any) error {
	return wrap(ErrTooBig, format, args...)
}

func wrap(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
