package coordinator

import (
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/transfer"
)

// Observer receives transfer notifications. All methods are called from the
// coordinator's timeline goroutine, one at a time, and never after Shutdown
// has returned. Implementations must not call back into the coordinator
// synchronously.
type Observer interface {
	OnTransferStarted(id transfer.WorkerID, file catalog.FileInfo, peer string)
	OnTransferProgress(id transfer.WorkerID, bytes uint64, speed float64)
	OnTransferCompleted(id transfer.WorkerID)
	OnTransferAborted(id transfer.WorkerID, bytes uint64)
	OnTransferFailed(id transfer.WorkerID, err error)
	OnListReceived(id transfer.WorkerID, snap *catalog.Snapshot)
}

// NopObserver ignores every notification. Embed it to implement only some
// methods.
type NopObserver struct{}

func (NopObserver) OnTransferStarted(transfer.WorkerID, catalog.FileInfo, string) {}
func (NopObserver) OnTransferProgress(transfer.WorkerID, uint64, float64)         {}
func (NopObserver) OnTransferCompleted(transfer.WorkerID)                         {}
func (NopObserver) OnTransferAborted(transfer.WorkerID, uint64)                   {}
func (NopObserver) OnTransferFailed(transfer.WorkerID, error)                     {}
func (NopObserver) OnListReceived(transfer.WorkerID, *catalog.Snapshot)           {}

// Recorder receives worker accounting for instrumentation. Calls happen on
// the timeline goroutine.
type Recorder interface {
	WorkerStarted(role transfer.Role, op transfer.Op)
	WorkerFinished(role transfer.Role, op transfer.Op, kind transfer.EventKind, duration time.Duration)
	BytesTransferred(role transfer.Role, n uint64)
}

type nopRecorder struct{}

func (nopRecorder) WorkerStarted(transfer.Role, transfer.Op)                                   {}
func (nopRecorder) WorkerFinished(transfer.Role, transfer.Op, transfer.EventKind, time.Duration) {}
func (nopRecorder) BytesTransferred(transfer.Role, uint64)                                     {}
