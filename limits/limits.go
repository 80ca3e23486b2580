// Package limits provides centralized size limits for the sharecore wire protocol.
// This ensures consistent validation across the codec, the catalog and the workers.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxNameLength is the longest file name carried in a listing entry.
	// The value (255) matches typical filesystem limits and fits in a uint16.
	MaxNameLength = 255

	// MaxPathLength is the longest relative path carried in a frame.
	MaxPathLength = 4096

	// MaxCatalogEntries bounds the entry count of a single listing response.
	MaxCatalogEntries = 1 << 20

	// MaxFrameSize is the absolute maximum for any frame body.
	// This prevents memory exhaustion from a hostile length prefix (64MB limit)
	MaxFrameSize = 64 * 1024 * 1024

	// MinChunkSize is the smallest streaming chunk accepted by configuration.
	MinChunkSize = 512

	// MaxChunkSize is the largest streaming chunk accepted by configuration.
	MaxChunkSize = 1024 * 1024

	// DefaultChunkSize is the chunk size used when none is configured.
	DefaultChunkSize = 64 * 1024
)

var (
	// ErrEmpty indicates an empty name or path was provided
	ErrEmpty = errors.New("empty value")

	// ErrTooLarge indicates a value exceeds its maximum size
	ErrTooLarge = errors.New("value too large")
)

// ValidateSize validates a length against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateSize(n, maxSize int) error {
	if n == 0 {
		return ErrEmpty
	}
	if n > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, n, maxSize)
	}
	return nil
}

// ValidateName validates a file name against MaxNameLength.
func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrEmpty
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("%w: name length %d exceeds limit %d", ErrTooLarge, len(name), MaxNameLength)
	}
	return nil
}

// ValidatePath validates a relative path against MaxPathLength.
func ValidatePath(path string) error {
	if len(path) == 0 {
		return ErrEmpty
	}
	if len(path) > MaxPathLength {
		return fmt.Errorf("%w: path length %d exceeds limit %d", ErrTooLarge, len(path), MaxPathLength)
	}
	return nil
}

// ValidateFrameSize validates a frame body length against MaxFrameSize.
// Frames are never empty: every frame carries at least its type byte.
func ValidateFrameSize(n uint32) error {
	if n == 0 {
		return ErrEmpty
	}
	if n > MaxFrameSize {
		return fmt.Errorf("%w: frame size %d exceeds limit %d", ErrTooLarge, n, MaxFrameSize)
	}
	return nil
}

// ValidateChunkSize checks that a configured chunk size lies within
// [MinChunkSize, MaxChunkSize].
func ValidateChunkSize(n int) error {
	if n < MinChunkSize || n > MaxChunkSize {
		return fmt.Errorf("chunk size %d outside [%d, %d]", n, MinChunkSize, MaxChunkSize)
	}
	return nil
}
