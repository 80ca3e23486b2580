// Package protocol implements the sharecore wire format: length-prefixed,
// big-endian frames exchanged over a TCP connection.
//
// # Frames
//
//	[length (4 bytes)][type (1 byte)][payload (length-1 bytes)]
//
// A connection carries exactly one exchange:
//
//	ListRequest                       -> ListResponse | ErrorResponse
//	DownloadRequest(path, offset)     -> DownloadHeader(totalSize) + raw bytes
//	                                   | ErrorResponse(code)
//
// After a DownloadHeader the server writes exactly totalSize-offset raw file
// bytes, unframed, and closes the connection. Either side aborts a transfer by
// closing the connection; a close after the header and before the last byte
// is an abort, not a protocol error.
//
// # Example
//
//	if err := protocol.WriteDownloadRequest(conn, "share/notes.txt", 0); err != nil {
//	    return err
//	}
//	total, err := protocol.ReadDownloadReply(conn)
//	var remote *protocol.RemoteError
//	if errors.As(err, &remote) && remote.Code == protocol.ErrorUnknownPath {
//	    // not shared
//	}
//
// Reads use io.ReadFull, so frames split across TCP segments decode
// correctly.
package protocol
