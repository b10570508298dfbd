package pd0

import (
	"errors"
	"fmt"
)

var (
	// ErrFormat reports a structurally invalid ensemble: bad marker, bad
	// length, malformed offset table or a record that runs past the frame.
	ErrFormat = errors.New("pd0: format error")
	// ErrChecksum reports an ensemble whose checksum does not match its bytes.
	ErrChecksum = errors.New("pd0: checksum mismatch")
)

// FormatError describes where a frame failed structural validation.
type FormatError struct {
	Reason string
	Offset int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pd0: format error at byte %d: %s", e.Offset, e.Reason)
}

// Is makes errors.Is(err, ErrFormat) match any *FormatError.
func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

func formatErrorf(offset int, format string, args ...interface{}) error {
	return &FormatError{Reason: fmt.Sprintf(format, args...), Offset: offset}
}

// ChecksumError carries the expected and computed checksum of a rejected frame.
type ChecksumError struct {
	Expected uint16
	Actual   uint16
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("pd0: checksum mismatch: frame carries 0x%04X, computed 0x%04X", e.Expected, e.Actual)
}

func (e *ChecksumError) Is(target error) bool {
	return target == ErrChecksum
}
