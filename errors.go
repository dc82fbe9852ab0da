package alsa

import (
	"errors"
	"fmt"
)

var (
	// ErrMapping is matched by every *MapError.
	ErrMapping = errors.New("mmap failed")
	// ErrDirectionMismatch is returned when the device stream does not match the requested direction.
	ErrDirectionMismatch = errors.New("stream direction mismatch")
	// ErrLayoutUnsupported is returned when the channel layout is not a single interleaved area starting at bit 0.
	ErrLayoutUnsupported = errors.New("unsupported channel layout")
	// ErrGeometryQuery is returned when the device could not report its stream, geometry or channel layout.
	ErrGeometryQuery = errors.New("geometry query failed")
	// ErrInvalidGeometry is returned for zero-sized buffers or a boundary smaller than the buffer.
	ErrInvalidGeometry = errors.New("invalid buffer geometry")
	// ErrInvalidState is returned when the status page holds a state code outside the known range.
	ErrInvalidState = errors.New("invalid PCM state code")
)

// MapError records a failed mmap call.
type MapError struct {
	Offset int64
	Length int
	Err    error
}

func (e *MapError) Error() string {
	return fmt.Sprintf("mmap of %d bytes at offset %#x failed: %v", e.Length, e.Offset, e.Err)
}

func (e *MapError) Unwrap() error { return e.Err }

// Is reports ErrMapping so callers can match any mapping failure.
func (e *MapError) Is(target error) bool { return target == ErrMapping }
