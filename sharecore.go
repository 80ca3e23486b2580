package sharecore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/config"
	"github.com/opd-ai/sharecore/coordinator"
	"github.com/opd-ai/sharecore/discovery"
	"github.com/opd-ai/sharecore/metrics"
	"github.com/opd-ai/sharecore/server"
	"github.com/opd-ai/sharecore/transfer"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// WorkerID identifies one transfer for its whole lifetime.
type WorkerID = transfer.WorkerID

// FileInfo describes one shared file.
type FileInfo = catalog.FileInfo

// Snapshot is an immutable file listing.
type Snapshot = catalog.Snapshot

// Status is the observable state of one transfer.
type Status = coordinator.Status

// TransferStartedCallback is called when a download begins on either side.
type TransferStartedCallback func(id WorkerID, file FileInfo, peer string)

// TransferProgressCallback is called at the configured progress cadence with
// the absolute byte position and the current speed in bytes per second.
type TransferProgressCallback func(id WorkerID, bytes uint64, speed float64)

// TransferCompletedCallback is called when every byte has been moved.
type TransferCompletedCallback func(id WorkerID)

// TransferAbortedCallback is called when a download stops early. bytes is
// the position a later resume continues from.
type TransferAbortedCallback func(id WorkerID, bytes uint64)

// TransferFailedCallback is called when a client request fails.
type TransferFailedCallback func(id WorkerID, err error)

// ListReceivedCallback is called when a requested listing arrives.
type ListReceivedCallback func(id WorkerID, snap *Snapshot)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("node already started")
	// ErrNotStarted is returned by Wait before Start.
	ErrNotStarted = errors.New("node not started")
	// ErrNoServerAddress is returned when a request names no server and
	// none is configured.
	ErrNoServerAddress = errors.New("no server address")
	// ErrInvalidFileName is returned when a remote file name cannot be used
	// as a local file name.
	ErrInvalidFileName = errors.New("invalid file name")
)

// metricsShutdownTimeout bounds the graceful stop of the metrics endpoint.
const metricsShutdownTimeout = 5 * time.Second

// Node serves the shared directories and runs client requests. All methods
// are safe for concurrent use.
type Node struct {
	cfg         *config.Config
	opts        transfer.Options
	catalog     *catalog.Catalog
	coordinator *coordinator.Coordinator
	metrics     *metrics.Metrics

	mu          sync.Mutex
	listener    *server.Listener
	metricsAddr net.Addr
	announcer   *discovery.Announcer
	group       *errgroup.Group
	cancel      context.CancelFunc
	started     bool
	closing     bool

	callbackMu          sync.RWMutex
	transferStartedCb   TransferStartedCallback
	transferProgressCb  TransferProgressCallback
	transferCompletedCb TransferCompletedCallback
	transferAbortedCb   TransferAbortedCallback
	transferFailedCb    TransferFailedCallback
	listReceivedCb      ListReceivedCallback
}

// New creates a node from cfg. A nil cfg uses config.Default. Shared
// directories that no longer exist are skipped with a warning.
func New(cfg *config.Config) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts, err := cfg.TransferOptions()
	if err != nil {
		return nil, fmt.Errorf("transfer options: %w", err)
	}

	n := &Node{
		cfg:     cfg,
		opts:    opts,
		catalog: catalog.New(),
		metrics: metrics.New(),
	}

	n.catalog.OnPublish(n.metrics.ObserveCatalog)
	n.catalog.OnPublish(n.announceFiles)
	for _, dir := range cfg.SharedDirectories {
		if _, err := n.catalog.AddDirectory(dir); err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "New",
				"directory": dir,
				"error":     err.Error(),
			}).Warn("Skipping shared directory")
		}
	}
	n.metrics.ObserveCatalog(n.catalog.Snapshot())
	n.cfg.SharedDirectories = n.catalog.Directories()

	coordOpts := cfg.CoordinatorOptions()
	coordOpts.Recorder = n.metrics
	n.coordinator = coordinator.New(&observer{node: n}, coordOpts)

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"shared_dirs": len(n.cfg.SharedDirectories),
		"entries":     n.catalog.Snapshot().Len(),
	}).Info("Node created")

	return n, nil
}

// Start binds the listen port and serves the catalog in the background. It
// also starts the directory watcher, the metrics endpoint, and the LAN
// announcement when they are configured. Only a bind failure is returned.
func (n *Node) Start() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closing {
		return coordinator.ErrShuttingDown
	}
	if n.started {
		return ErrAlreadyStarted
	}

	ln, err := server.Listen(n.cfg.ListenAddr(), n.catalog, n.coordinator, n.opts)
	if err != nil {
		return err
	}

	var metricsLn net.Listener
	if n.cfg.MetricsAddress != "" {
		metricsLn, err = net.Listen("tcp", n.cfg.MetricsAddress)
		if err != nil {
			ln.Close()
			return fmt.Errorf("bind metrics endpoint: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return ln.Serve(gctx) })

	if n.cfg.WatchDirectories {
		w, err := catalog.NewWatcher(n.catalog, 0)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.Start",
				"error":    err.Error(),
			}).Warn("Directory watching unavailable")
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if metricsLn != nil {
		n.metricsAddr = metricsLn.Addr()
		serveMetrics(gctx, g, metricsLn, n.metrics.Handler())
	}

	if n.cfg.Announce {
		port := ln.Addr().(*net.TCPAddr).Port
		a, err := discovery.Announce("", port, n.catalog.Snapshot().Len())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Node.Start",
				"error":    err.Error(),
			}).Warn("LAN announcement unavailable")
		} else {
			n.announcer = a
		}
	}

	n.listener = ln
	n.group = g
	n.cancel = cancel
	n.started = true

	logrus.WithFields(logrus.Fields{
		"function": "Node.Start",
		"addr":     ln.Addr().String(),
		"watch":    n.cfg.WatchDirectories,
		"metrics":  n.cfg.MetricsAddress,
		"announce": n.announcer != nil,
	}).Info("Node started")

	return nil
}

func serveMetrics(ctx context.Context, g *errgroup.Group, ln net.Listener, handler http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics endpoint: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// Wait blocks until the background services stop and returns the first
// error any of them reported.
func (n *Node) Wait() error {
	n.mu.Lock()
	g := n.group
	n.mu.Unlock()

	if g == nil {
		return ErrNotStarted
	}
	return g.Wait()
}

// Addr returns the bound listen address, or nil before Start.
func (n *Node) Addr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.listener == nil {
		return nil
	}
	return n.listener.Addr()
}

// MetricsAddr returns the bound metrics endpoint address, or nil when it is
// not running.
func (n *Node) MetricsAddr() net.Addr {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.metricsAddr
}

// Metrics returns the node's instrumentation.
func (n *Node) Metrics() *metrics.Metrics {
	return n.metrics
}

// Shutdown stops accepting new work, cancels every transfer, and waits for
// all of them to finish before releasing the listener, the watcher, and the
// metrics endpoint. It returns ctx.Err() if ctx expires first. Calling it
// again is a no-op.
func (n *Node) Shutdown(ctx context.Context) error {
	n.mu.Lock()
	if n.closing {
		n.mu.Unlock()
		return nil
	}
	n.closing = true
	announcer := n.announcer
	n.announcer = nil
	g, cancel := n.group, n.cancel
	n.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Node.Shutdown",
	}).Info("Shutting down")

	if announcer != nil {
		announcer.Shutdown()
	}

	err := n.coordinator.Shutdown(ctx)

	if cancel != nil {
		cancel()
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Node.Shutdown",
		"clean":    err == nil,
	}).Info("Node stopped")

	return err
}

// Config returns a copy of the configuration with the current shared
// directory list, suitable for saving.
func (n *Node) Config() *config.Config {
	cfg := *n.cfg
	cfg.SharedDirectories = n.catalog.Directories()
	return &cfg
}

// Shared returns the currently published catalog snapshot.
func (n *Node) Shared() *Snapshot {
	return n.catalog.Snapshot()
}

// ListShared replaces the shared directory list.
func (n *Node) ListShared(paths []string) error {
	_, err := n.catalog.SetDirectories(paths)
	return err
}

// AddShared shares one more directory.
func (n *Node) AddShared(dir string) error {
	_, err := n.catalog.AddDirectory(dir)
	return err
}

// RemoveShared stops sharing dir. Connections already accepted keep serving
// the snapshot they were bound to.
func (n *Node) RemoveShared(dir string) error {
	_, err := n.catalog.RemoveDirectory(dir)
	return err
}

// RequestList fetches the listing of the server at addr. An empty addr uses
// the configured server address. The listing arrives through the
// OnListReceived callback.
func (n *Node) RequestList(addr string) (WorkerID, error) {
	addr, err := n.serverAddress(addr)
	if err != nil {
		return WorkerID{}, err
	}
	return n.coordinator.Dispatch(transfer.NewListWorker(addr, n.opts))
}

// RequestDownload downloads file from the server at addr into destination.
// An empty destination selects DownloadPath(file). If a partial download
// from an earlier aborted request exists at destination it is resumed.
func (n *Node) RequestDownload(addr string, file FileInfo, destination string) (WorkerID, error) {
	addr, err := n.serverAddress(addr)
	if err != nil {
		return WorkerID{}, err
	}
	if destination == "" {
		destination, err = n.DownloadPath(file)
		if err != nil {
			return WorkerID{}, err
		}
	}

	w, err := transfer.NewDownloadWorker(addr, file, destination, n.opts)
	if err != nil {
		return WorkerID{}, err
	}
	return n.coordinator.Dispatch(w)
}

// RequestAbort stops a running transfer. Aborting a finished transfer is a
// no-op.
func (n *Node) RequestAbort(id WorkerID) error {
	return n.coordinator.Abort(id)
}

// Status returns the state of a running or recently finished transfer.
func (n *Node) Status(id WorkerID) (Status, bool) {
	return n.coordinator.Status(id)
}

// Active returns every transfer that has not yet been disposed, oldest
// first.
func (n *Node) Active() []Status {
	return n.coordinator.Active()
}

// ResumeOffset returns the position an aborted download can resume from.
func (n *Node) ResumeOffset(id WorkerID) (uint64, bool) {
	return n.coordinator.ResumeOffset(id)
}

func (n *Node) serverAddress(addr string) (string, error) {
	if addr == "" {
		addr = n.cfg.ServerAddress
	}
	if addr == "" {
		return "", ErrNoServerAddress
	}
	return addr, nil
}

// DownloadPath returns where file is saved when no destination is given:
// the download directory joined with the listed name. Names supplied by a
// server that are not a single plain path element are rejected.
func (n *Node) DownloadPath(file FileInfo) (string, error) {
	name := file.Name
	if name == "" {
		name = path.Base(file.RelativePath)
	}
	cleaned, err := catalog.ValidateRelativePath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidFileName, name, err)
	}
	if cleaned != name || cleaned == "." || cleaned != filepath.Base(cleaned) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, name)
	}
	return filepath.Join(n.cfg.DownloadDirectory, cleaned), nil
}

func (n *Node) announceFiles(snap *Snapshot) {
	n.mu.Lock()
	a := n.announcer
	n.mu.Unlock()
	if a != nil {
		a.UpdateFiles(snap.Len())
	}
}
