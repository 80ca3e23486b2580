package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/limits"
)

// ErrorCode is the reason carried by an ErrorResponse frame.
type ErrorCode uint8

const (
	// ErrorUnknownPath means the requested path is not in the served catalog.
	ErrorUnknownPath ErrorCode = iota + 1
	// ErrorInvalidOffset means the resume offset exceeds the file size.
	ErrorInvalidOffset
	// ErrorMalformed means the request frame could not be parsed.
	ErrorMalformed
	// ErrorUnavailable means the file is listed but could not be opened.
	ErrorUnavailable
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknownPath:
		return "unknown path"
	case ErrorInvalidOffset:
		return "invalid offset"
	case ErrorMalformed:
		return "malformed request"
	case ErrorUnavailable:
		return "file unavailable"
	default:
		return fmt.Sprintf("error code %d", uint8(c))
	}
}

// RemoteError is an ErrorResponse received from the peer.
type RemoteError struct {
	Code ErrorCode
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Code.String()
}

// Request is a decoded client request.
type Request struct {
	Type         FrameType
	Path         string
	ResumeOffset uint64
}

// minEntrySize is the smallest encoded listing entry: two empty strings
// would still carry two length fields and a size.
const minEntrySize = 2 + 2 + 8

// WriteListRequest asks the server for its catalog.
func WriteListRequest(w io.Writer) error {
	return WriteFrame(w, &Frame{Type: FrameListRequest})
}

// WriteDownloadRequest asks the server for path starting at resumeOffset.
//
// Payload format: [path_len (2 bytes)][path][resume_offset (8 bytes)]
func WriteDownloadRequest(w io.Writer, path string, resumeOffset uint64) error {
	if err := limits.ValidatePath(path); err != nil {
		return fmt.Errorf("download request: %w", err)
	}

	payload := make([]byte, 0, 2+len(path)+8)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(path)))
	payload = append(payload, path...)
	payload = binary.BigEndian.AppendUint64(payload, resumeOffset)

	return WriteFrame(w, &Frame{Type: FrameDownloadRequest, Payload: payload})
}

// ReadRequest reads one client request frame.
func ReadRequest(r io.Reader) (*Request, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	return ParseRequest(f)
}

// ParseRequest decodes a request frame.
func ParseRequest(f *Frame) (*Request, error) {
	switch f.Type {
	case FrameListRequest:
		if len(f.Payload) != 0 {
			return nil, fmt.Errorf("%w: list request carries %d payload bytes", ErrMalformedFrame, len(f.Payload))
		}
		return &Request{Type: FrameListRequest}, nil

	case FrameDownloadRequest:
		d := &decoder{buf: f.Payload}
		pathLen := int(d.u16())
		path := d.str(pathLen)
		offset := d.u64()
		if err := d.finish(); err != nil {
			return nil, err
		}
		if err := limits.ValidatePath(path); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return &Request{Type: FrameDownloadRequest, Path: path, ResumeOffset: offset}, nil

	default:
		return nil, fmt.Errorf("%w: %s is not a request", ErrUnexpectedFrame, f.Type)
	}
}

// WriteList sends every entry of snap in listing order.
//
// Payload format: [count (4 bytes)] then per entry
// [name_len (2 bytes)][name][path_len (2 bytes)][path][size (8 bytes)]
func WriteList(w io.Writer, snap *catalog.Snapshot) error {
	payload, err := EncodeList(snap)
	if err != nil {
		return err
	}
	return WriteFrame(w, &Frame{Type: FrameListResponse, Payload: payload})
}

// EncodeList builds a ListResponse payload.
func EncodeList(snap *catalog.Snapshot) ([]byte, error) {
	n := snap.Len()
	if n > limits.MaxCatalogEntries {
		return nil, fmt.Errorf("%w: %d entries exceed limit %d", ErrFrameTooLarge, n, limits.MaxCatalogEntries)
	}

	size := 4
	for i := 0; i < n; i++ {
		e := snap.At(i)
		size += minEntrySize + len(e.Name) + len(e.RelativePath)
	}
	if size+1 > limits.MaxFrameSize {
		return nil, fmt.Errorf("%w: listing of %d bytes", ErrFrameTooLarge, size)
	}

	payload := make([]byte, 0, size)
	payload = binary.BigEndian.AppendUint32(payload, uint32(n))
	for i := 0; i < n; i++ {
		e := snap.At(i)
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(e.Name)))
		payload = append(payload, e.Name...)
		payload = binary.BigEndian.AppendUint16(payload, uint16(len(e.RelativePath)))
		payload = append(payload, e.RelativePath...)
		payload = binary.BigEndian.AppendUint64(payload, e.Size)
	}

	return payload, nil
}

// ReadList reads a ListResponse. An ErrorResponse is returned as
// *RemoteError.
func ReadList(r io.Reader) (*catalog.Snapshot, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}

	switch f.Type {
	case FrameListResponse:
		return DecodeList(f.Payload)
	case FrameError:
		return nil, decodeError(f.Payload)
	default:
		return nil, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, f.Type, FrameListResponse)
	}
}

// DecodeList parses a ListResponse payload into a snapshot. Entries received
// from a peer have no Source.
func DecodeList(payload []byte) (*catalog.Snapshot, error) {
	d := &decoder{buf: payload}
	count := int(d.u32())
	if d.err != nil {
		return nil, d.err
	}
	if count > limits.MaxCatalogEntries || count*minEntrySize > len(payload)-4 {
		return nil, fmt.Errorf("%w: entry count %d does not fit payload of %d bytes", ErrMalformedFrame, count, len(payload))
	}

	entries := make([]catalog.FileInfo, 0, count)
	for i := 0; i < count; i++ {
		name := d.str(int(d.u16()))
		path := d.str(int(d.u16()))
		size := d.u64()
		if d.err != nil {
			return nil, d.err
		}
		if err := limits.ValidateName(name); err != nil {
			return nil, fmt.Errorf("%w: entry %d name: %v", ErrMalformedFrame, i, err)
		}
		if err := limits.ValidatePath(path); err != nil {
			return nil, fmt.Errorf("%w: entry %d path: %v", ErrMalformedFrame, i, err)
		}
		entries = append(entries, catalog.FileInfo{Name: name, RelativePath: path, Size: size})
	}
	if err := d.finish(); err != nil {
		return nil, err
	}

	return catalog.NewSnapshot(0, entries), nil
}

// WriteDownloadHeader announces the total size of the requested file. Exactly
// totalSize-resumeOffset raw bytes follow it.
func WriteDownloadHeader(w io.Writer, totalSize uint64) error {
	payload := binary.BigEndian.AppendUint64(nil, totalSize)
	return WriteFrame(w, &Frame{Type: FrameDownloadHeader, Payload: payload})
}

// WriteError sends an ErrorResponse.
func WriteError(w io.Writer, code ErrorCode) error {
	return WriteFrame(w, &Frame{Type: FrameError, Payload: []byte{byte(code)}})
}

// ReadDownloadReply reads the server's answer to a DownloadRequest and
// returns the announced total size. An ErrorResponse is returned as
// *RemoteError.
func ReadDownloadReply(r io.Reader) (uint64, error) {
	f, err := ReadFrame(r)
	if err != nil {
		return 0, err
	}

	switch f.Type {
	case FrameDownloadHeader:
		d := &decoder{buf: f.Payload}
		total := d.u64()
		if err := d.finish(); err != nil {
			return 0, err
		}
		return total, nil
	case FrameError:
		return 0, decodeError(f.Payload)
	default:
		return 0, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedFrame, f.Type, FrameDownloadHeader)
	}
}

func decodeError(payload []byte) error {
	d := &decoder{buf: payload}
	code := d.u8()
	if err := d.finish(); err != nil {
		return err
	}
	return &RemoteError{Code: ErrorCode(code)}
}
