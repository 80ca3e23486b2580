package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/limits"
	"github.com/opd-ai/sharecore/protocol"
	"github.com/opd-ai/sharecore/storage"
	"github.com/sirupsen/logrus"
)

// ClientWorker dials a server and either fetches its listing or downloads
// one file, resuming from a partial destination file when one exists.
type ClientWorker struct {
	worker
	destination string
}

// NewListWorker creates a worker that fetches the catalog served at addr.
func NewListWorker(addr string, opts Options) *ClientWorker {
	return &ClientWorker{worker: newWorker(RoleClient, OpList, catalog.FileInfo{}, addr, opts)}
}

// NewDownloadWorker creates a worker that downloads file from addr into
// destination.
func NewDownloadWorker(addr string, file catalog.FileInfo, destination string, opts Options) (*ClientWorker, error) {
	if err := limits.ValidatePath(file.RelativePath); err != nil {
		return nil, fmt.Errorf("invalid file path: %w", err)
	}
	if destination == "" {
		return nil, errors.New("destination cannot be empty")
	}

	w := &ClientWorker{
		worker:      newWorker(RoleClient, OpDownload, file, addr, opts),
		destination: destination,
	}
	return w, nil
}

// Destination returns the local file a download writes to.
func (w *ClientWorker) Destination() string {
	return w.destination
}

// Run performs the exchange.
func (w *ClientWorker) Run(ctx context.Context, sink Sink) {
	w.em = newEmitter(sink, w.opts.Clock, w.id, RoleClient, w.peer)
	s := w.session
	s.StartTime = w.opts.Clock.Now()
	s.File = w.file
	s.Total = w.file.Size

	var partialErr error
	if w.op == OpDownload {
		var offset uint64
		offset, partialErr = PartialSize(w.destination)
		s.Offset = offset
		s.setPosition(offset)
	}

	w.begin(w.op, w.file, w.file.Size)
	if partialErr != nil {
		w.fail(KindIO, "stat destination", partialErr)
		return
	}

	s.setState(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, w.opts.DialTimeout)
	conn, err := w.opts.Dialer.DialContext(dialCtx, "tcp", w.peer)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			w.abort(nil)
			return
		}
		w.fail(KindConnection, "dial", err)
		return
	}

	s.Conn = conn
	defer conn.Close()
	stop := w.closeOnCancel(ctx)
	defer stop()

	logrus.WithFields(w.logFields("ClientWorker.Run")).Debug("Connected")

	switch w.op {
	case OpList:
		w.fetchList(ctx)
	case OpDownload:
		w.download(ctx)
	}
}

func (w *ClientWorker) fetchList(ctx context.Context) {
	s := w.session

	w.writeDeadline()
	if err := protocol.WriteListRequest(s.Conn); err != nil {
		w.connFailed(ctx, "write request", err)
		return
	}

	s.setState(StateAwaitingReply)
	w.readDeadline()
	snap, err := protocol.ReadList(s.Conn)
	if err != nil {
		w.replyFailed(ctx, "read list", err)
		return
	}

	logrus.WithFields(w.logFields("ClientWorker.fetchList")).
		WithField("entries", snap.Len()).
		Debug("Listing received")
	w.complete(snap)
}

func (w *ClientWorker) download(ctx context.Context) {
	s := w.session
	dest := w.destination
	offset := s.Position()

	recorded := w.file.Size
	rec, err := LoadResumeRecord(dest)
	switch {
	case err != nil:
		logrus.WithFields(w.logFields("ClientWorker.download")).
			WithField("error", err.Error()).
			Warn("Ignoring unreadable resume record")
	case rec != nil && rec.RelativePath == w.file.RelativePath:
		recorded = rec.TotalSize
	case rec != nil:
		logrus.WithFields(w.logFields("ClientWorker.download")).
			WithField("record_path", rec.RelativePath).
			Warn("Resume record belongs to another file")
	}

	w.writeDeadline()
	if err := protocol.WriteDownloadRequest(s.Conn, w.file.RelativePath, offset); err != nil {
		w.connFailed(ctx, "write request", err)
		return
	}

	s.setState(StateAwaitingReply)
	w.readDeadline()
	total, err := protocol.ReadDownloadReply(s.Conn)
	if err != nil {
		var remote *protocol.RemoteError
		if errors.As(err, &remote) && remote.Code == protocol.ErrorInvalidOffset && offset > 0 {
			w.discard()
			w.fail(KindProtocol, "resume", fmt.Errorf("%w: server rejected offset %d", ErrSizeMismatch, offset))
			return
		}
		w.replyFailed(ctx, "read reply", err)
		return
	}

	if offset > 0 && (total != recorded || offset > total) {
		w.discard()
		w.fail(KindProtocol, "resume", fmt.Errorf("%w: expected %d bytes, server announced %d", ErrSizeMismatch, recorded, total))
		return
	}

	s.Total = total
	w.em.setTotal(total)

	if err := storage.EnsureAvailable(dest, total-offset); err != nil {
		w.fail(KindIO, "check space", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		w.fail(KindIO, "create directory", err)
		return
	}
	if err := SaveResumeRecord(dest, &ResumeRecord{RelativePath: w.file.RelativePath, TotalSize: total}); err != nil {
		w.fail(KindIO, "save resume record", err)
		return
	}
	out, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		w.fail(KindIO, "open destination", err)
		return
	}
	defer out.Close()

	logrus.WithFields(w.logFields("ClientWorker.download")).
		WithFields(logrus.Fields{"offset": offset, "total": total}).
		Info("Receiving file")

	s.setState(StateReceiving)
	w.receive(ctx, out)
}

// receive appends the raw stream to out until the announced total is
// reached. Only bytes fully written to out advance the position.
func (w *ClientWorker) receive(ctx context.Context, out *os.File) {
	s := w.session
	clock := w.opts.Clock
	meter := NewSpeedMeter(w.opts.SpeedWindow, clock)
	meter.Add(s.Position())
	lastProgress := clock.Now()
	buf := make([]byte, w.opts.ChunkSize)

	for pos := s.Position(); pos < s.Total; {
		if ctx.Err() != nil {
			w.flush(out)
			w.abort(nil)
			return
		}

		n := uint64(len(buf))
		if rem := s.Total - pos; rem < n {
			n = rem
		}
		w.readDeadline()
		read, rerr := s.Conn.Read(buf[:n])
		if read > 0 {
			written, werr := out.Write(buf[:read])
			pos += uint64(written)
			s.setPosition(pos)
			meter.Add(pos)
			if werr != nil {
				w.flush(out)
				w.fail(KindIO, "write destination", werr)
				return
			}
		}
		if rerr != nil {
			w.flush(out)
			switch {
			case ctx.Err() != nil:
				w.abort(nil)
			case isTimeout(rerr):
				w.fail(KindConnection, "read", fmt.Errorf("%w: %w", ErrStalled, rerr))
			default:
				w.abort(rerr)
			}
			return
		}

		if clock.Since(lastProgress) >= w.opts.ProgressInterval {
			w.em.progress(pos, meter.Rate())
			lastProgress = clock.Now()
		}
	}

	if err := out.Sync(); err != nil {
		w.fail(KindIO, "sync destination", err)
		return
	}
	if err := out.Close(); err != nil {
		w.fail(KindIO, "close destination", err)
		return
	}
	RemoveResumeRecord(w.destination)
	w.complete(nil)
}

// flush makes the partial file durable before its size is reported as the
// resume point.
func (w *ClientWorker) flush(out *os.File) {
	if err := out.Sync(); err != nil {
		logrus.WithFields(w.logFields("ClientWorker.flush")).
			WithField("error", err.Error()).
			Warn("Failed to sync partial download")
	}
}

// discard drops a partial download whose source changed.
func (w *ClientWorker) discard() {
	discardPartial(w.destination)
	w.session.Offset = 0
	w.session.setPosition(0)
}

func (w *ClientWorker) connFailed(ctx context.Context, op string, err error) {
	switch {
	case ctx.Err() != nil:
		w.abort(nil)
	case isTimeout(err):
		w.fail(KindConnection, op, fmt.Errorf("%w: %w", ErrStalled, err))
	default:
		w.fail(KindConnection, op, err)
	}
}

func (w *ClientWorker) replyFailed(ctx context.Context, op string, err error) {
	var remote *protocol.RemoteError
	switch {
	case ctx.Err() != nil:
		w.abort(nil)
	case errors.As(err, &remote),
		errors.Is(err, protocol.ErrMalformedFrame),
		errors.Is(err, protocol.ErrUnexpectedFrame),
		errors.Is(err, protocol.ErrFrameTooLarge):
		if remote != nil && remote.Code == protocol.ErrorUnknownPath {
			err = fmt.Errorf("%w: %w", ErrUnknownPath, err)
		}
		w.fail(KindProtocol, op, err)
	default:
		w.connFailed(ctx, op, err)
	}
}
