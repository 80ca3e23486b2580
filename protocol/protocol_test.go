package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadRequestWireFormat(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDownloadRequest(&buf, "share/a.txt", 42))

	raw := buf.Bytes()
	// length covers the type byte plus payload
	wantBody := 1 + 2 + len("share/a.txt") + 8
	assert.Equal(t, uint32(wantBody), binary.BigEndian.Uint32(raw[0:4]))
	assert.Equal(t, byte(FrameDownloadRequest), raw[4])
	assert.Equal(t, uint16(len("share/a.txt")), binary.BigEndian.Uint16(raw[5:7]))
	assert.Equal(t, "share/a.txt", string(raw[7:18]))
	assert.Equal(t, uint64(42), binary.BigEndian.Uint64(raw[18:26]))

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameDownloadRequest, req.Type)
	assert.Equal(t, "share/a.txt", req.Path)
	assert.Equal(t, uint64(42), req.ResumeOffset)
}

func TestListRequest(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteListRequest(&buf))
	assert.Equal(t, []byte{0, 0, 0, 1, byte(FrameListRequest)}, buf.Bytes())

	req, err := ReadRequest(&buf)
	require.NoError(t, err)
	assert.Equal(t, FrameListRequest, req.Type)
}

func TestListResponseCarriesEverySnapshotEntry(t *testing.T) {
	snap := catalog.NewSnapshot(3, []catalog.FileInfo{
		{Name: "notes.txt", RelativePath: "share/notes.txt", Size: 500, Source: "/srv/share/notes.txt"},
		{Name: "b.bin", RelativePath: "share/sub/b.bin", Size: 1 << 40},
	})

	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, snap))

	got, err := ReadList(&buf)
	require.NoError(t, err)
	require.Equal(t, 2, got.Len())

	notes, ok := got.Lookup("share/notes.txt")
	require.True(t, ok)
	assert.Equal(t, "notes.txt", notes.Name)
	assert.Equal(t, uint64(500), notes.Size)
	assert.Empty(t, notes.Source, "source paths never cross the wire")

	b := got.At(1)
	assert.Equal(t, "share/sub/b.bin", b.RelativePath)
	assert.Equal(t, uint64(1<<40), b.Size)
}

func TestEmptyList(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteList(&buf, catalog.NewSnapshot(0, nil)))
	got, err := ReadList(&buf)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
}

func TestDownloadReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDownloadHeader(&buf, 500))
	total, err := ReadDownloadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint64(500), total)

	buf.Reset()
	require.NoError(t, WriteError(&buf, ErrorUnknownPath))
	_, err = ReadDownloadReply(&buf)
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, ErrorUnknownPath, remote.Code)
	assert.Contains(t, err.Error(), "unknown path")
}

func TestReadListSurfacesRemoteError(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteError(&buf, ErrorMalformed))
	_, err := ReadList(&buf)
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Equal(t, ErrorMalformed, remote.Code)
}

func TestReadFrameHandlesSplitReads(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDownloadRequest(&buf, "share/split.txt", 7))

	req, err := ReadRequest(iotest.OneByteReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "share/split.txt", req.Path)
	assert.Equal(t, uint64(7), req.ResumeOffset)
}

func TestReadFrameEOF(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)

	var buf bytes.Buffer
	require.NoError(t, WriteDownloadHeader(&buf, 9))
	truncated := buf.Bytes()[:buf.Len()-3]
	_, err = ReadFrame(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	raw := binary.BigEndian.AppendUint32(nil, limits.MaxFrameSize+1)
	_, err := ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	raw = binary.BigEndian.AppendUint32(nil, 0)
	_, err = ReadFrame(bytes.NewReader(raw))
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestParseRequestRejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name    string
		frame   *Frame
		wantErr error
	}{
		{"list with payload", &Frame{Type: FrameListRequest, Payload: []byte{1}}, ErrMalformedFrame},
		{"download truncated", &Frame{Type: FrameDownloadRequest, Payload: []byte{0, 5, 'a'}}, ErrMalformedFrame},
		{"download trailing", &Frame{Type: FrameDownloadRequest, Payload: append(append([]byte{0, 1, 'a'}, make([]byte, 8)...), 0xFF)}, ErrMalformedFrame},
		{"download empty path", &Frame{Type: FrameDownloadRequest, Payload: append([]byte{0, 0}, make([]byte, 8)...)}, ErrMalformedFrame},
		{"response as request", &Frame{Type: FrameDownloadHeader, Payload: make([]byte, 8)}, ErrUnexpectedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequest(tt.frame)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDecodeListRejectsLyingCount(t *testing.T) {
	payload := binary.BigEndian.AppendUint32(nil, 1000)
	_, err := DecodeList(payload)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeListRejectsOverlongName(t *testing.T) {
	name := strings.Repeat("n", limits.MaxNameLength+1)
	payload := binary.BigEndian.AppendUint32(nil, 1)
	payload = binary.BigEndian.AppendUint16(payload, uint16(len(name)))
	payload = append(payload, name...)
	payload = binary.BigEndian.AppendUint16(payload, 1)
	payload = append(payload, 'p')
	payload = binary.BigEndian.AppendUint64(payload, 1)

	_, err := DecodeList(payload)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestWriteDownloadRequestValidatesPath(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, WriteDownloadRequest(&buf, "", 0))
	assert.Error(t, WriteDownloadRequest(&buf, strings.Repeat("x", limits.MaxPathLength+1), 0))
	assert.Equal(t, 0, buf.Len())
}

func TestFrameTypeString(t *testing.T) {
	assert.Equal(t, "ListRequest", FrameListRequest.String())
	assert.Equal(t, "ErrorResponse", FrameError.String())
	assert.Equal(t, "FrameType(0x7f)", FrameType(0x7f).String())
	assert.Equal(t, "error code 99", ErrorCode(99).String())
}
