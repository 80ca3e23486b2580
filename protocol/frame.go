package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/sharecore/limits"
)

// FrameType identifies the kind of a protocol frame.
type FrameType byte

const (
	// Requests sent by a client
	FrameListRequest     FrameType = 0x01
	FrameDownloadRequest FrameType = 0x02

	// Responses sent by a server
	FrameListResponse   FrameType = 0x81
	FrameDownloadHeader FrameType = 0x82
	FrameError          FrameType = 0x83
)

// String returns the frame type name.
func (t FrameType) String() string {
	switch t {
	case FrameListRequest:
		return "ListRequest"
	case FrameDownloadRequest:
		return "DownloadRequest"
	case FrameListResponse:
		return "ListResponse"
	case FrameDownloadHeader:
		return "DownloadHeader"
	case FrameError:
		return "ErrorResponse"
	default:
		return fmt.Sprintf("FrameType(0x%02x)", byte(t))
	}
}

// headerSize is the length prefix plus the type byte.
const headerSize = 5

// ErrMalformedFrame indicates a frame whose payload does not match its type.
var ErrMalformedFrame = errors.New("malformed frame")

// ErrFrameTooLarge indicates a frame exceeding limits.MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// ErrUnexpectedFrame indicates a well-formed frame arriving where another
// type was required.
var ErrUnexpectedFrame = errors.New("unexpected frame type")

// Frame is one length-prefixed protocol unit.
//
// Wire format: [length (4 bytes)][type (1 byte)][payload (length-1 bytes)]
type Frame struct {
	Type    FrameType
	Payload []byte
}

// WriteFrame writes f as a single buffer so a frame is never interleaved
// with other writes on the same connection.
func WriteFrame(w io.Writer, f *Frame) error {
	bodyLen := 1 + len(f.Payload)
	if bodyLen > limits.MaxFrameSize {
		return fmt.Errorf("%w: %s body of %d bytes", ErrFrameTooLarge, f.Type, bodyLen)
	}

	buf := make([]byte, 0, headerSize+len(f.Payload))
	buf = binary.BigEndian.AppendUint32(buf, uint32(bodyLen))
	buf = append(buf, byte(f.Type))
	buf = append(buf, f.Payload...)

	_, err := w.Write(buf)
	return err
}

// ReadFrame reads exactly one frame. It returns io.EOF only when the stream
// ends cleanly before the first byte of a frame; a frame cut short yields
// io.ErrUnexpectedEOF.
func ReadFrame(r io.Reader) (*Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, err
	}

	bodyLen := binary.BigEndian.Uint32(prefix[:])
	if err := limits.ValidateFrameSize(bodyLen); err != nil {
		if errors.Is(err, limits.ErrTooLarge) {
			return nil, fmt.Errorf("%w: %v", ErrFrameTooLarge, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	return &Frame{Type: FrameType(body[0]), Payload: body[1:]}, nil
}

// decoder reads big-endian fields from a payload and remembers the first
// short read.
type decoder struct {
	buf []byte
	off int
	err error
}

func (d *decoder) need(n int) bool {
	if d.err != nil {
		return false
	}
	if len(d.buf)-d.off < n {
		d.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedFrame, n, d.off, len(d.buf)-d.off)
		return false
	}
	return true
}

func (d *decoder) u8() uint8 {
	if !d.need(1) {
		return 0
	}
	v := d.buf[d.off]
	d.off++
	return v
}

func (d *decoder) u16() uint16 {
	if !d.need(2) {
		return 0
	}
	v := binary.BigEndian.Uint16(d.buf[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32() uint32 {
	if !d.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.buf[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64() uint64 {
	if !d.need(8) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.buf[d.off:])
	d.off += 8
	return v
}

func (d *decoder) str(n int) string {
	if !d.need(n) {
		return ""
	}
	s := string(d.buf[d.off : d.off+n])
	d.off += n
	return s
}

// finish reports trailing bytes as malformed.
func (d *decoder) finish() error {
	if d.err != nil {
		return d.err
	}
	if d.off != len(d.buf) {
		return fmt.Errorf("%w: %d trailing bytes", ErrMalformedFrame, len(d.buf)-d.off)
	}
	return nil
}
