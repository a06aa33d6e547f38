package common

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput covers empty or unsorted datasets, bad epsilon and
	// malformed breakpoint sequences.
	ErrInvalidInput = errors.New("invalid input")
	// ErrStaleIndex is returned when an index is queried after its dataset
	// changed or was released.
	ErrStaleIndex = errors.New("stale index")
	// ErrCorruptFormat is returned for misaligned or inconsistent files.
	ErrCorruptFormat = errors.New("corrupt format")
	// ErrNotFound is returned by stores for missing entries. Queries report
	// absence through their found result instead.
	ErrNotFound = errors.New("not found")
)

// FormatError describes a file whose size or header does not match the
// record layout it claims.
type FormatError struct {
	Format   string
	Width    int   // expected record width in bytes
	Size     int64 // actual payload size in bytes
	Expected int64 // expected payload size, when a header declares one
}

func (e *FormatError) Error() string {
	if e.Expected > 0 {
		return fmt.Sprintf("%s: expected %d bytes (%d-byte records), got %d", e.Format, e.Expected, e.Width, e.Size)
	}
	return fmt.Sprintf("%s: size %d is not a multiple of the %d-byte record width (%d trailing bytes)",
		e.Format, e.Size, e.Width, e.Size%int64(e.Width))
}

func (e *FormatError) Unwrap() error { return ErrCorruptFormat }
