package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/protocol"
	"github.com/sirupsen/logrus"
)

// ServerWorker serves one accepted connection: it reads a single request
// and answers it from the snapshot that was current when the connection
// was accepted.
type ServerWorker struct {
	worker
	snapshot *catalog.Snapshot
}

// NewServerWorker binds a worker to conn and snap.
func NewServerWorker(conn net.Conn, snap *catalog.Snapshot, opts Options) *ServerWorker {
	w := &ServerWorker{
		worker:   newWorker(RoleServer, OpUnknown, catalog.FileInfo{}, conn.RemoteAddr().String(), opts),
		snapshot: snap,
	}
	w.session.Conn = conn
	return w
}

// Snapshot returns the catalog snapshot the worker serves from.
func (w *ServerWorker) Snapshot() *catalog.Snapshot {
	return w.snapshot
}

// Run serves the connection and closes it.
func (w *ServerWorker) Run(ctx context.Context, sink Sink) {
	w.em = newEmitter(sink, w.opts.Clock, w.id, RoleServer, w.peer)
	conn := w.session.Conn
	defer conn.Close()
	stop := w.closeOnCancel(ctx)
	defer stop()

	w.session.StartTime = w.opts.Clock.Now()
	w.session.setState(StateAwaitingRequest)

	w.readDeadline()
	req, err := protocol.ReadRequest(conn)
	if err != nil {
		w.requestFailed(ctx, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":      "ServerWorker.Run",
		"worker_id":     w.id,
		"peer":          w.peer,
		"request":       req.Type.String(),
		"path":          req.Path,
		"resume_offset": req.ResumeOffset,
	}).Debug("Request received")

	switch req.Type {
	case protocol.FrameListRequest:
		w.serveList(ctx)
	case protocol.FrameDownloadRequest:
		w.serveFile(ctx, req)
	}
}

func (w *ServerWorker) requestFailed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		w.abort(nil)
	case errors.Is(err, protocol.ErrMalformedFrame),
		errors.Is(err, protocol.ErrUnexpectedFrame),
		errors.Is(err, protocol.ErrFrameTooLarge):
		w.reply(protocol.ErrorMalformed)
		w.fail(KindProtocol, "read request", err)
	case isTimeout(err):
		w.fail(KindConnection, "read request", fmt.Errorf("%w: %w", ErrStalled, err))
	default:
		w.fail(KindConnection, "read request", err)
	}
}

// reply sends an ErrorResponse, best effort.
func (w *ServerWorker) reply(code protocol.ErrorCode) {
	w.writeDeadline()
	if err := protocol.WriteError(w.session.Conn, code); err != nil {
		logrus.WithFields(w.logFields("ServerWorker.reply")).
			WithField("error", err.Error()).
			Debug("Failed to send error response")
	}
}

func (w *ServerWorker) serveList(ctx context.Context) {
	w.begin(OpList, catalog.FileInfo{}, 0)
	w.session.setState(StateServingList)

	w.writeDeadline()
	if err := protocol.WriteList(w.session.Conn, w.snapshot); err != nil {
		switch {
		case ctx.Err() != nil:
			w.abort(nil)
		case errors.Is(err, protocol.ErrFrameTooLarge):
			w.fail(KindProtocol, "write list", err)
		default:
			w.fail(KindConnection, "write list", err)
		}
		return
	}

	logrus.WithFields(w.logFields("ServerWorker.serveList")).
		WithField("entries", w.snapshot.Len()).
		Debug("Listing sent")
	w.complete(nil)
}

func (w *ServerWorker) serveFile(ctx context.Context, req *protocol.Request) {
	entry, ok := w.snapshot.Lookup(req.Path)
	if !ok {
		w.reply(protocol.ErrorUnknownPath)
		w.fail(KindProtocol, "lookup", fmt.Errorf("%w: %s", ErrUnknownPath, req.Path))
		return
	}

	f, err := os.Open(entry.Source)
	if err != nil {
		w.reply(protocol.ErrorUnavailable)
		w.fail(KindIO, "open source", err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		w.reply(protocol.ErrorUnavailable)
		w.fail(KindIO, "stat source", err)
		return
	}
	// The file may have changed since the snapshot was built; what is on
	// disk now is what gets sent.
	total := uint64(info.Size())
	if req.ResumeOffset > total {
		w.reply(protocol.ErrorInvalidOffset)
		w.fail(KindProtocol, "seek", fmt.Errorf("%w: offset %d, size %d", ErrInvalidOffset, req.ResumeOffset, total))
		return
	}

	if req.ResumeOffset > 0 {
		if _, err := f.Seek(int64(req.ResumeOffset), io.SeekStart); err != nil {
			w.reply(protocol.ErrorUnavailable)
			w.fail(KindIO, "seek", err)
			return
		}
	}

	file := entry
	file.Size = total
	w.session.File = file
	w.session.Offset = req.ResumeOffset
	w.session.Total = total
	w.session.setPosition(req.ResumeOffset)
	w.begin(OpDownload, file, total)

	w.writeDeadline()
	if err := protocol.WriteDownloadHeader(w.session.Conn, total); err != nil {
		if ctx.Err() != nil {
			w.abort(nil)
			return
		}
		w.fail(KindConnection, "write header", err)
		return
	}

	w.session.setState(StateServingFile)
	w.stream(ctx, f)
}

// stream copies the rest of f to the connection in chunks.
func (w *ServerWorker) stream(ctx context.Context, f io.Reader) {
	s := w.session
	clock := w.opts.Clock
	meter := NewSpeedMeter(w.opts.SpeedWindow, clock)
	meter.Add(s.Position())
	lastProgress := clock.Now()
	buf := make([]byte, w.opts.ChunkSize)

	for pos := s.Position(); pos < s.Total; {
		if ctx.Err() != nil {
			w.abort(nil)
			return
		}

		n := uint64(len(buf))
		if rem := s.Total - pos; rem < n {
			n = rem
		}
		read, rerr := io.ReadFull(f, buf[:n])
		if read > 0 {
			w.writeDeadline()
			written, werr := s.Conn.Write(buf[:read])
			pos += uint64(written)
			s.setPosition(pos)
			meter.Add(pos)
			if werr != nil {
				w.writeFailed(ctx, werr)
				return
			}
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) || errors.Is(rerr, io.ErrUnexpectedEOF) {
				rerr = fmt.Errorf("%w: ended at %d of %d bytes", ErrSourceTruncated, pos, s.Total)
			}
			w.fail(KindIO, "read source", rerr)
			return
		}

		if clock.Since(lastProgress) >= w.opts.ProgressInterval {
			w.em.progress(pos, meter.Rate())
			lastProgress = clock.Now()
		}
	}

	w.complete(nil)
}

// writeFailed classifies a failed write after the header: a stalled peer
// is an error, a closed one is an abort.
func (w *ServerWorker) writeFailed(ctx context.Context, err error) {
	switch {
	case ctx.Err() != nil:
		w.abort(nil)
	case isTimeout(err):
		w.fail(KindConnection, "write", fmt.Errorf("%w: %w", ErrStalled, err))
	default:
		w.abort(err)
	}
}
