package coordinator

import (
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/transfer"
)

// Status is the last known state of a worker as seen by the coordinator.
type Status struct {
	ID    transfer.WorkerID
	Role  transfer.Role
	Op    transfer.Op
	File  catalog.FileInfo
	Peer  string
	Kind  transfer.EventKind
	Bytes uint64
	Total uint64
	Speed float64
	Err   error

	StartTime  time.Time
	UpdateTime time.Time
	FinishTime time.Time
}

// Finished reports whether the worker has emitted its terminal event.
func (s Status) Finished() bool {
	return s.Kind.Terminal()
}

// Elapsed returns how long the transfer ran, or has been running as of the
// last event.
func (s Status) Elapsed() time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	if s.Finished() {
		return s.FinishTime.Sub(s.StartTime)
	}
	return s.UpdateTime.Sub(s.StartTime)
}

// Remaining estimates the time to completion from the last reported speed.
func (s Status) Remaining() time.Duration {
	if s.Finished() || s.Bytes >= s.Total {
		return 0
	}
	return transfer.EstimateRemaining(s.Total-s.Bytes, s.Speed)
}

// Percent returns completion in the range 0 to 100.
func (s Status) Percent() float64 {
	if s.Total == 0 {
		if s.Kind == transfer.EventCompleted {
			return 100
		}
		return 0
	}
	return float64(s.Bytes) * 100 / float64(s.Total)
}

// Record is the coordinator's bookkeeping for one worker. It is only
// touched on the timeline goroutine.
type Record struct {
	worker    transfer.Worker
	cancel    func()
	done      chan struct{}
	status    Status
	announced bool
	pending   bool
	timer     *time.Timer
}

type retained struct {
	status Status
	timer  *time.Timer
}
