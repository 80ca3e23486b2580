package transfer

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/sharecore/catalog"
	"github.com/sirupsen/logrus"
)

// Worker runs one protocol exchange on its own goroutine.
//
// Run blocks until the exchange ends and emits exactly one terminal event
// to sink before returning. Cancelling ctx aborts the exchange: the worker
// stops between chunks and closes its connection to unblock pending I/O.
// The accessors are safe to call from any goroutine while Run is in
// progress.
type Worker interface {
	ID() WorkerID
	Role() Role
	Op() Op
	File() catalog.FileInfo
	Peer() string
	Session() *Session
	Run(ctx context.Context, sink Sink)
}

// worker holds what both roles share. op and file belong to the goroutine
// running the exchange; other goroutines read the published copy.
type worker struct {
	id        WorkerID
	role      Role
	op        Op
	file      catalog.FileInfo
	peer      string
	opts      Options
	session   *Session
	em        *emitter
	published *exchange
}

// exchange is the copy of a worker's op and file readable while it runs.
type exchange struct {
	mu   sync.Mutex
	op   Op
	file catalog.FileInfo
}

func (x *exchange) set(op Op, file catalog.FileInfo) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.op = op
	x.file = file
}

func (x *exchange) get() (Op, catalog.FileInfo) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.op, x.file
}

func newWorker(role Role, op Op, file catalog.FileInfo, peer string, opts Options) worker {
	return worker{
		id:        uuid.New(),
		role:      role,
		op:        op,
		file:      file,
		peer:      peer,
		opts:      opts.withDefaults(),
		session:   &Session{},
		published: &exchange{op: op, file: file},
	}
}

// ID returns the worker id.
func (w *worker) ID() WorkerID { return w.id }

// Role returns the worker role.
func (w *worker) Role() Role { return w.role }

// Op returns the exchange the worker carries out, OpUnknown for a server
// worker that has not read its request yet.
func (w *worker) Op() Op {
	op, _ := w.published.get()
	return op
}

// File returns the file being transferred, zero for listings.
func (w *worker) File() catalog.FileInfo {
	_, file := w.published.get()
	return file
}

// Peer returns the remote address.
func (w *worker) Peer() string { return w.peer }

// Session returns the worker's session.
func (w *worker) Session() *Session { return w.session }

func (w *worker) logFields(function string) logrus.Fields {
	return logrus.Fields{
		"function":  function,
		"worker_id": w.id,
		"role":      w.role.String(),
		"op":        w.op.String(),
		"peer":      w.peer,
		"path":      w.file.RelativePath,
	}
}

// begin records the exchange type and emits Started.
func (w *worker) begin(op Op, file catalog.FileInfo, total uint64) {
	w.op = op
	w.file = file
	w.published.set(op, file)
	w.em.begin(op, file, total, w.session.Position())
}

func (w *worker) complete(listing *catalog.Snapshot) {
	w.session.setState(StateCompleted)
	pos := w.session.Position()

	logrus.WithFields(w.logFields("worker.complete")).
		WithField("bytes", pos).
		Info("Transfer completed")

	w.em.finish(EventCompleted, pos, nil, listing)
}

// abort ends the exchange cooperatively. cause is nil for a local abort and
// the I/O error for a peer closing the connection.
func (w *worker) abort(cause error) {
	w.session.setState(StateAborted)
	pos := w.session.Position()

	fields := w.logFields("worker.abort")
	fields["bytes"] = pos
	if cause != nil {
		fields["cause"] = cause.Error()
	}
	logrus.WithFields(fields).Info("Transfer aborted")

	w.em.finish(EventAborted, pos, cause, nil)
}

func (w *worker) fail(kind ErrorKind, op string, err error) {
	te := &Error{Kind: kind, Op: op, Err: err}
	w.session.setState(StateError)
	pos := w.session.Position()

	fields := w.logFields("worker.fail")
	fields["bytes"] = pos
	fields["error"] = te.Error()
	logrus.WithFields(fields).Error("Transfer failed")

	w.em.finish(EventFailed, pos, te, nil)
}

// readDeadline and writeDeadline arm the connection's I/O timeout.
func (w *worker) readDeadline() {
	if w.opts.IOTimeout > 0 {
		_ = w.session.Conn.SetReadDeadline(time.Now().Add(w.opts.IOTimeout))
	}
}

func (w *worker) writeDeadline() {
	if w.opts.IOTimeout > 0 {
		_ = w.session.Conn.SetWriteDeadline(time.Now().Add(w.opts.IOTimeout))
	}
}

// closeOnCancel closes the connection when ctx is cancelled so that a
// blocked read or write returns. The returned function detaches it.
func (w *worker) closeOnCancel(ctx context.Context) func() bool {
	conn := w.session.Conn
	return context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
