// Package server accepts inbound sharecore connections and hands each one
// to a coordinator as a transfer.ServerWorker.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/transfer"
	"github.com/sirupsen/logrus"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Source provides the catalog snapshot a new connection is served from.
type Source interface {
	Snapshot() *catalog.Snapshot
}

// Dispatcher runs workers. *coordinator.Coordinator implements it.
type Dispatcher interface {
	Dispatch(w transfer.Worker) (transfer.WorkerID, error)
}

// Listener is the accept loop of a sharecore server.
type Listener struct {
	ln         net.Listener
	source     Source
	dispatcher Dispatcher
	opts       transfer.Options

	mu     sync.Mutex
	closed bool
}

// Listen binds addr. A bind failure is returned as is; callers treat it as
// fatal.
func Listen(addr string, source Source, dispatcher Dispatcher, opts transfer.Options) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listen",
			"addr":     addr,
			"error":    err.Error(),
		}).Error("Failed to bind listener")
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Listen",
		"addr":     ln.Addr().String(),
	}).Info("Listening for connections")

	return NewListener(ln, source, dispatcher, opts), nil
}

// NewListener wraps an already bound listener.
func NewListener(ln net.Listener, source Source, dispatcher Dispatcher, opts transfer.Options) *Listener {
	return &Listener{
		ln:         ln,
		source:     source,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or Close is called and
// then returns nil. Each connection is bound to the snapshot current at
// accept time and dispatched without waiting for it.
func (l *Listener) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	backoff := time.Duration(0)
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if l.isClosed() || errors.Is(err, net.ErrClosed) {
				logrus.WithFields(logrus.Fields{
					"function": "Listener.Serve",
					"addr":     l.Addr().String(),
				}).Info("Listener closed")
				return nil
			}

			if backoff == 0 {
				backoff = minAcceptBackoff
			} else if backoff *= 2; backoff > maxAcceptBackoff {
				backoff = maxAcceptBackoff
			}
			logrus.WithFields(logrus.Fields{
				"function": "Listener.Serve",
				"error":    err.Error(),
				"retry_in": backoff.String(),
			}).Warn("Accept failed")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		l.handle(conn)
	}
}

func (l *Listener) handle(conn net.Conn) {
	w := transfer.NewServerWorker(conn, l.source.Snapshot(), l.opts)
	id, err := l.dispatcher.Dispatch(w)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Listener.handle",
			"peer":     conn.RemoteAddr().String(),
			"error":    err.Error(),
		}).Warn("Connection refused by coordinator")
		conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Listener.handle",
		"peer":      conn.RemoteAddr().String(),
		"worker_id": id,
	}).Debug("Connection accepted")
}

// Close stops accepting connections. Running workers are unaffected.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	return l.ln.Close()
}

func (l *Listener) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
