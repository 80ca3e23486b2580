package transfer

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/stretchr/testify/require"
)

// mockTimeProvider provides deterministic time for testing.
type mockTimeProvider struct {
	mu          sync.Mutex
	currentTime time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTime
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) advance(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.currentTime = m.currentTime.Add(d)
}

func newMockTimeProvider() *mockTimeProvider {
	return &mockTimeProvider{
		currentTime: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// recordingSink collects events in arrival order.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingSink) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *recordingSink) kinds() []EventKind {
	var out []EventKind
	for _, e := range r.all() {
		if e.Kind != EventProgress {
			out = append(out, e.Kind)
		}
	}
	return out
}

// terminal waits for and returns the terminal event.
func (r *recordingSink) terminal(t *testing.T) Event {
	t.Helper()
	var term Event
	require.Eventually(t, func() bool {
		for _, e := range r.all() {
			if e.Kind.Terminal() {
				term = e
				return true
			}
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return term
}

// content returns n bytes of a repeating, position-dependent pattern.
func content(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + i/251)
	}
	return b
}

// shareFile writes data under a fresh shared directory and returns a
// snapshot containing it as share/<name>.
func shareFile(t *testing.T, name string, data []byte) *catalog.Snapshot {
	t.Helper()
	root := filepath.Join(t.TempDir(), "share")
	require.NoError(t, os.MkdirAll(root, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))

	c := catalog.New()
	snap, err := c.AddDirectory(root)
	require.NoError(t, err)
	return snap
}

// testServer accepts connections on loopback and runs a ServerWorker for
// each one.
type testServer struct {
	addr    string
	sink    *recordingSink
	mu      sync.Mutex
	workers []*ServerWorker
}

func startServer(t *testing.T, snap *catalog.Snapshot, opts Options) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	srv := &testServer{addr: ln.Addr().String(), sink: &recordingSink{}}
	var wg sync.WaitGroup
	t.Cleanup(func() {
		cancel()
		ln.Close()
		wg.Wait()
	})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			w := NewServerWorker(conn, snap, opts)
			srv.mu.Lock()
			srv.workers = append(srv.workers, w)
			srv.mu.Unlock()
			wg.Add(1)
			go func() {
				defer wg.Done()
				w.Run(ctx, srv.sink)
			}()
		}
	}()
	return srv
}

func (s *testServer) worker(t *testing.T, i int) *ServerWorker {
	t.Helper()
	var w *ServerWorker
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		if len(s.workers) > i {
			w = s.workers[i]
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return w
}

// fakeServer accepts a single connection and hands it to handler.
func fakeServer(t *testing.T, handler func(conn net.Conn)) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	t.Cleanup(func() {
		ln.Close()
		<-done
	})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}()
	return ln.Addr().String()
}

func testOptions() Options {
	return Options{
		ChunkSize:        512,
		ProgressInterval: time.Nanosecond,
		IOTimeout:        5 * time.Second,
		DialTimeout:      2 * time.Second,
	}
}
