package coordinator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/sharecore/transfer"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultGraceDelay is how long a finished worker stays registered.
	DefaultGraceDelay = 10 * time.Second
	// DefaultRetentionWindow is how long a disposed worker's final status
	// stays queryable.
	DefaultRetentionWindow = time.Minute
	// DefaultEventBuffer is the capacity of the worker event channel.
	DefaultEventBuffer = 256
)

var (
	// ErrShuttingDown is returned for work submitted after Shutdown started.
	ErrShuttingDown = errors.New("coordinator is shutting down")
	// ErrUnknownWorker is returned for an id with no record.
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrDuplicateWorker is returned when a worker id is already registered.
	ErrDuplicateWorker = errors.New("worker already registered")
)

// Options configure a Coordinator. Zero values take defaults.
type Options struct {
	GraceDelay      time.Duration
	RetentionWindow time.Duration
	EventBuffer     int
	Recorder        Recorder
	Clock           transfer.TimeProvider
}

func (o Options) withDefaults() Options {
	if o.GraceDelay <= 0 {
		o.GraceDelay = DefaultGraceDelay
	}
	if o.RetentionWindow <= 0 {
		o.RetentionWindow = DefaultRetentionWindow
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = DefaultEventBuffer
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	if o.Clock == nil {
		o.Clock = transfer.DefaultTimeProvider{}
	}
	return o
}

// Coordinator runs workers and keeps the registry of their state. Worker
// events and API calls are applied one at a time on a single timeline
// goroutine; the observer is called from that goroutine only.
type Coordinator struct {
	observer Observer
	opts     Options

	root      context.Context
	cancelAll context.CancelFunc
	workers   sync.WaitGroup

	events  chan transfer.Event
	calls   chan func()
	stop    chan struct{}
	stopped chan struct{}

	shutdownOnce sync.Once

	// Timeline state.
	records  map[transfer.WorkerID]*Record
	retained map[transfer.WorkerID]*retained
	closing  bool
	halted   bool
}

// New starts a coordinator. A nil observer ignores notifications.
func New(observer Observer, opts Options) *Coordinator {
	if observer == nil {
		observer = NopObserver{}
	}
	opts = opts.withDefaults()
	root, cancel := context.WithCancel(context.Background())

	c := &Coordinator{
		observer:  observer,
		opts:      opts,
		root:      root,
		cancelAll: cancel,
		events:    make(chan transfer.Event, opts.EventBuffer),
		calls:     make(chan func()),
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
		records:   make(map[transfer.WorkerID]*Record),
		retained:  make(map[transfer.WorkerID]*retained),
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.stopped)
	for {
		select {
		case ev := <-c.events:
			c.handleEvent(ev)
		case fn := <-c.calls:
			fn()
		case <-c.stop:
			for {
				select {
				case ev := <-c.events:
					c.handleEvent(ev)
				default:
					return
				}
			}
		}
	}
}

// do runs fn on the timeline and waits for it.
func (c *Coordinator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case c.calls <- func() { fn(); close(done) }:
	case <-c.stopped:
		return ErrShuttingDown
	}
	<-done
	return nil
}

// post queues fn on the timeline without waiting. It is dropped once the
// timeline has stopped.
func (c *Coordinator) post(fn func()) {
	select {
	case c.calls <- fn:
	case <-c.stopped:
	}
}

// Emit implements transfer.Sink for the workers this coordinator runs.
func (c *Coordinator) Emit(ev transfer.Event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Dispatch registers w and starts it on its own goroutine.
func (c *Coordinator) Dispatch(w transfer.Worker) (transfer.WorkerID, error) {
	id := w.ID()
	var err error
	callErr := c.do(func() {
		if c.closing {
			err = ErrShuttingDown
			return
		}
		if _, dup := c.records[id]; dup {
			err = ErrDuplicateWorker
			return
		}

		ctx, cancel := context.WithCancel(c.root)
		rec := &Record{
			worker: w,
			cancel: cancel,
			done:   make(chan struct{}),
			status: Status{
				ID:   id,
				Role: w.Role(),
				Op:   w.Op(),
				File: w.File(),
				Peer: w.Peer(),
			},
		}
		c.records[id] = rec

		c.workers.Add(1)
		go func() {
			defer c.workers.Done()
			defer close(rec.done)
			defer cancel()
			w.Run(ctx, c)
		}()

		logrus.WithFields(logrus.Fields{
			"function":  "Coordinator.Dispatch",
			"worker_id": id,
			"role":      rec.status.Role.String(),
			"op":        rec.status.Op.String(),
			"peer":      rec.status.Peer,
		}).Debug("Worker dispatched")
	})
	if callErr != nil {
		return id, callErr
	}
	return id, err
}

// Abort cancels a running worker. Aborting a finished worker is a no-op.
func (c *Coordinator) Abort(id transfer.WorkerID) error {
	var err error
	callErr := c.do(func() {
		rec, ok := c.records[id]
		if !ok {
			if _, ok := c.retained[id]; ok {
				return
			}
			err = ErrUnknownWorker
			return
		}
		if rec.status.Finished() {
			return
		}
		logrus.WithFields(logrus.Fields{
			"function":  "Coordinator.Abort",
			"worker_id": id,
		}).Info("Aborting worker")
		rec.cancel()
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// Status returns the last known status of a registered or recently
// disposed worker.
func (c *Coordinator) Status(id transfer.WorkerID) (Status, bool) {
	var st Status
	var found bool
	_ = c.do(func() {
		if rec, ok := c.records[id]; ok {
			st, found = rec.status, true
			return
		}
		if r, ok := c.retained[id]; ok {
			st, found = r.status, true
		}
	})
	return st, found
}

// Active returns the status of every registered worker, finished ones
// awaiting disposal included, ordered by start time.
func (c *Coordinator) Active() []Status {
	var out []Status
	_ = c.do(func() {
		out = make([]Status, 0, len(c.records))
		for _, rec := range c.records {
			out = append(out, rec.status)
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// ResumeOffset returns the byte count an aborted client download reached,
// which is where a new download of the same file resumes.
func (c *Coordinator) ResumeOffset(id transfer.WorkerID) (uint64, bool) {
	st, ok := c.Status(id)
	if !ok || st.Role != transfer.RoleClient || st.Op != transfer.OpDownload || st.Kind != transfer.EventAborted {
		return 0, false
	}
	return st.Bytes, true
}

// Shutdown refuses new work, aborts every worker and waits for all of them
// to exit. Events they emit while stopping are still delivered. If ctx
// expires first the timeline is stopped anyway and ctx's error returned;
// late events are then dropped.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	var err error
	c.shutdownOnce.Do(func() {
		_ = c.do(func() {
			c.closing = true
			logrus.WithFields(logrus.Fields{
				"function": "Coordinator.Shutdown",
				"workers":  len(c.records),
			}).Info("Shutting down coordinator")
		})
		c.cancelAll()

		exited := make(chan struct{})
		go func() {
			c.workers.Wait()
			close(exited)
		}()
		select {
		case <-exited:
		case <-ctx.Done():
			err = ctx.Err()
			logrus.WithFields(logrus.Fields{
				"function": "Coordinator.Shutdown",
				"error":    err.Error(),
			}).Warn("Workers did not exit before deadline")
		}

		_ = c.do(func() {
			c.halted = true
			for _, rec := range c.records {
				if rec.timer != nil {
					rec.timer.Stop()
				}
			}
			for _, r := range c.retained {
				r.timer.Stop()
			}
		})
		close(c.stop)
		<-c.stopped
	})
	return err
}

func (c *Coordinator) handleEvent(ev transfer.Event) {
	rec, ok := c.records[ev.WorkerID]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":  "Coordinator.handleEvent",
			"worker_id": ev.WorkerID,
			"kind":      ev.Kind.String(),
		}).Warn("Event for unknown worker")
		return
	}

	st := &rec.status
	if ev.Bytes > st.Bytes && ev.Kind != transfer.EventStarted {
		c.opts.Recorder.BytesTransferred(ev.Role, ev.Bytes-st.Bytes)
	}
	st.Op = ev.Op
	st.File = ev.File
	st.Kind = ev.Kind
	st.Bytes = ev.Bytes
	st.Total = ev.Total
	st.UpdateTime = ev.Time

	switch ev.Kind {
	case transfer.EventStarted:
		st.StartTime = ev.StartTime
		c.opts.Recorder.WorkerStarted(ev.Role, ev.Op)
		if ev.Op == transfer.OpDownload {
			rec.announced = true
			c.observer.OnTransferStarted(ev.WorkerID, ev.File, ev.Peer)
		}

	case transfer.EventProgress:
		st.Speed = ev.Speed
		if rec.announced {
			c.observer.OnTransferProgress(ev.WorkerID, ev.Bytes, ev.Speed)
		}

	case transfer.EventCompleted, transfer.EventAborted, transfer.EventFailed:
		st.Err = ev.Err
		st.FinishTime = ev.Time
		rec.pending = true
		c.opts.Recorder.WorkerFinished(ev.Role, ev.Op, ev.Kind, st.Elapsed())
		c.forwardTerminal(rec, ev)
		c.scheduleDisposal(ev.WorkerID, rec)
	}
}

func (c *Coordinator) forwardTerminal(rec *Record, ev transfer.Event) {
	id := ev.WorkerID
	switch ev.Kind {
	case transfer.EventCompleted:
		if ev.Role == transfer.RoleClient && ev.Op == transfer.OpList {
			c.observer.OnListReceived(id, ev.Listing)
		} else if rec.announced {
			c.observer.OnTransferCompleted(id)
		}

	case transfer.EventAborted:
		if rec.announced {
			c.observer.OnTransferAborted(id, ev.Bytes)
		}

	case transfer.EventFailed:
		switch {
		case ev.Role == transfer.RoleClient:
			c.observer.OnTransferFailed(id, ev.Err)
		case rec.announced:
			// A failed upload looks the same as an aborted one to the
			// presentation layer; the cause stays in Status.
			c.observer.OnTransferAborted(id, ev.Bytes)
		}
	}
}

func (c *Coordinator) scheduleDisposal(id transfer.WorkerID, rec *Record) {
	if c.halted {
		return
	}
	rec.timer = time.AfterFunc(c.opts.GraceDelay, func() {
		<-rec.done
		c.post(func() { c.dispose(id) })
	})
}

// dispose moves a finished worker's status to the retention table.
func (c *Coordinator) dispose(id transfer.WorkerID) {
	rec, ok := c.records[id]
	if !ok || c.halted {
		return
	}
	delete(c.records, id)

	r := &retained{status: rec.status}
	r.timer = time.AfterFunc(c.opts.RetentionWindow, func() {
		c.post(func() { delete(c.retained, id) })
	})
	c.retained[id] = r

	logrus.WithFields(logrus.Fields{
		"function":  "Coordinator.dispose",
		"worker_id": id,
		"kind":      rec.status.Kind.String(),
	}).Debug("Worker disposed")
}
