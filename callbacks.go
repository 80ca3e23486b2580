package sharecore

import (
	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/transfer"
)

// Callbacks run on the node's event goroutine one at a time. A callback must
// return promptly and must not call RequestAbort, RequestList,
// RequestDownload, Status, Active, ResumeOffset, or Shutdown directly; start
// a goroutine for that.

// OnTransferStarted sets the callback for started downloads.
func (n *Node) OnTransferStarted(callback TransferStartedCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.transferStartedCb = callback
}

// OnTransferProgress sets the callback for download progress.
func (n *Node) OnTransferProgress(callback TransferProgressCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.transferProgressCb = callback
}

// OnTransferCompleted sets the callback for completed downloads.
func (n *Node) OnTransferCompleted(callback TransferCompletedCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.transferCompletedCb = callback
}

// OnTransferAborted sets the callback for aborted downloads.
func (n *Node) OnTransferAborted(callback TransferAbortedCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.transferAbortedCb = callback
}

// OnTransferFailed sets the callback for failed client requests.
func (n *Node) OnTransferFailed(callback TransferFailedCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.transferFailedCb = callback
}

// OnListReceived sets the callback for received listings.
func (n *Node) OnListReceived(callback ListReceivedCallback) {
	n.callbackMu.Lock()
	defer n.callbackMu.Unlock()
	n.listReceivedCb = callback
}

// observer adapts the registered callbacks to coordinator.Observer.
type observer struct {
	node *Node
}

func (o *observer) OnTransferStarted(id transfer.WorkerID, file catalog.FileInfo, peer string) {
	o.node.callbackMu.RLock()
	cb := o.node.transferStartedCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id, file, peer)
	}
}

func (o *observer) OnTransferProgress(id transfer.WorkerID, bytes uint64, speed float64) {
	o.node.callbackMu.RLock()
	cb := o.node.transferProgressCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id, bytes, speed)
	}
}

func (o *observer) OnTransferCompleted(id transfer.WorkerID) {
	o.node.callbackMu.RLock()
	cb := o.node.transferCompletedCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id)
	}
}

func (o *observer) OnTransferAborted(id transfer.WorkerID, bytes uint64) {
	o.node.callbackMu.RLock()
	cb := o.node.transferAbortedCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id, bytes)
	}
}

func (o *observer) OnTransferFailed(id transfer.WorkerID, err error) {
	o.node.callbackMu.RLock()
	cb := o.node.transferFailedCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id, err)
	}
}

func (o *observer) OnListReceived(id transfer.WorkerID, snap *catalog.Snapshot) {
	o.node.callbackMu.RLock()
	cb := o.node.listReceivedCb
	o.node.callbackMu.RUnlock()
	if cb != nil {
		cb(id, snap)
	}
}
