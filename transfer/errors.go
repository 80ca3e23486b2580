package transfer

import (
	"errors"
	"fmt"

	"github.com/opd-ai/sharecore/storage"
)

// ErrorKind classifies a worker failure.
type ErrorKind uint8

const (
	// KindConnection covers dial, bind, reset and stall failures.
	KindConnection ErrorKind = iota + 1
	// KindProtocol covers malformed frames, unknown paths and size mismatches.
	KindProtocol
	// KindIO covers local disk read and write failures.
	KindIO
)

// String returns the kind name.
func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocol:
		return "protocol error"
	case KindIO:
		return "io error"
	default:
		return fmt.Sprintf("ErrorKind(%d)", uint8(k))
	}
}

// Error is a classified worker failure. It terminates only the worker that
// produced it.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var te *Error
	return errors.As(err, &te) && te.Kind == kind
}

var (
	// ErrAborted indicates a cooperative stop: a local abort, shutdown, or
	// the peer closing the connection mid-stream. It is a normal terminal
	// state, not a failure.
	ErrAborted = errors.New("transfer aborted")

	// ErrUnknownPath indicates a request for a path not in the catalog.
	ErrUnknownPath = errors.New("path not in catalog")

	// ErrInvalidOffset indicates a resume offset beyond the end of the file.
	ErrInvalidOffset = errors.New("resume offset exceeds file size")

	// ErrSizeMismatch indicates the source changed size since a partial
	// download began; the partial file is discarded.
	ErrSizeMismatch = errors.New("source size changed since partial download")

	// ErrSourceTruncated indicates the source file ended before its
	// announced size.
	ErrSourceTruncated = errors.New("source file shorter than announced size")

	// ErrStalled indicates the peer stopped reading or sending within the
	// I/O timeout.
	ErrStalled = errors.New("transfer stalled")

	// ErrInsufficientSpace indicates the destination volume cannot hold the
	// remaining bytes.
	ErrInsufficientSpace = storage.ErrInsufficientSpace
)
