package transfer

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opd-ai/sharecore/catalog"
	"github.com/sirupsen/logrus"
)

// WorkerID identifies a worker for its whole lifetime. Ids are random and
// never reused.
type WorkerID = uuid.UUID

// Role is the side of the connection a worker plays.
type Role uint8

const (
	RoleServer Role = iota + 1
	RoleClient
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("Role(%d)", uint8(r))
	}
}

// Op is the exchange a worker carries out. A server worker does not know its
// Op until the request has been read.
type Op uint8

const (
	OpUnknown Op = iota
	OpList
	OpDownload
)

// String returns the operation name.
func (o Op) String() string {
	switch o {
	case OpList:
		return "list"
	case OpDownload:
		return "download"
	default:
		return "unknown"
	}
}

// EventKind is the type of a worker lifecycle event.
type EventKind uint8

const (
	EventStarted EventKind = iota + 1
	EventProgress
	EventCompleted
	EventAborted
	EventFailed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventProgress:
		return "progress"
	case EventCompleted:
		return "completed"
	case EventAborted:
		return "aborted"
	case EventFailed:
		return "failed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Terminal reports whether no further events follow this kind.
func (k EventKind) Terminal() bool {
	return k == EventCompleted || k == EventAborted || k == EventFailed
}

// Event is a one-way notification from a worker. Bytes is always the
// absolute position in the file, resume offset included.
type Event struct {
	WorkerID  WorkerID
	Kind      EventKind
	Role      Role
	Op        Op
	File      catalog.FileInfo
	Peer      string
	Bytes     uint64
	Total     uint64
	Speed     float64
	StartTime time.Time
	Time      time.Time

	// Err is set on EventFailed, and on EventAborted when the abort was
	// caused by the peer.
	Err error

	// Listing is set on a client's EventCompleted for OpList.
	Listing *catalog.Snapshot
}

// Sink receives worker events. Emit must not block for long; the
// coordinator's sink is a buffered channel send.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Emit calls f(e).
func (f SinkFunc) Emit(e Event) { f(e) }

// emitter stamps events with the worker's identity and enforces the
// per-worker order: one Started, any number of Progress, exactly one
// terminal event.
type emitter struct {
	sink  Sink
	clock TimeProvider

	id    WorkerID
	role  Role
	op    Op
	file  catalog.FileInfo
	peer  string
	total uint64
	start time.Time

	started  bool
	finished bool
}

func newEmitter(sink Sink, clock TimeProvider, id WorkerID, role Role, peer string) *emitter {
	return &emitter{sink: sink, clock: clock, id: id, role: role, peer: peer}
}

func (e *emitter) event(kind EventKind, bytes uint64) Event {
	return Event{
		WorkerID:  e.id,
		Kind:      kind,
		Role:      e.role,
		Op:        e.op,
		File:      e.file,
		Peer:      e.peer,
		Bytes:     bytes,
		Total:     e.total,
		StartTime: e.start,
		Time:      e.clock.Now(),
	}
}

// begin emits Started once. position is non-zero when resuming.
func (e *emitter) begin(op Op, file catalog.FileInfo, total, position uint64) {
	if e.started {
		return
	}
	e.op = op
	e.file = file
	e.total = total
	e.start = e.clock.Now()
	e.started = true
	e.sink.Emit(e.event(EventStarted, position))
}

// setTotal updates the total carried by later events once the peer has
// announced it.
func (e *emitter) setTotal(total uint64) {
	e.total = total
}

func (e *emitter) progress(bytes uint64, speed float64) {
	if !e.started || e.finished {
		return
	}
	ev := e.event(EventProgress, bytes)
	ev.Speed = speed
	e.sink.Emit(ev)
}

// finish emits the terminal event, emitting Started first if the worker
// failed before it knew what it was doing. Later calls are dropped.
func (e *emitter) finish(kind EventKind, bytes uint64, err error, listing *catalog.Snapshot) {
	if e.finished {
		logrus.WithFields(logrus.Fields{
			"function":  "emitter.finish",
			"worker_id": e.id,
			"kind":      kind.String(),
		}).Warn("Dropping second terminal event")
		return
	}
	if !e.started {
		e.begin(e.op, e.file, e.total, bytes)
	}
	e.finished = true

	ev := e.event(kind, bytes)
	ev.Err = err
	ev.Listing = listing
	e.sink.Emit(ev)
}
