package transfer

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func notesInfo(size uint64) catalog.FileInfo {
	return catalog.FileInfo{Name: "notes.txt", RelativePath: "share/notes.txt", Size: size}
}

func runDownload(t *testing.T, ctx context.Context, addr string, file catalog.FileInfo, dest string, opts Options) (*ClientWorker, *recordingSink) {
	t.Helper()
	w, err := NewDownloadWorker(addr, file, dest, opts)
	require.NoError(t, err)
	sink := &recordingSink{}
	w.Run(ctx, sink)
	return w, sink
}

func TestDownloadWholeFile(t *testing.T) {
	data := content(5000)
	srv := startServer(t, shareFile(t, "notes.txt", data), testOptions())
	dest := filepath.Join(t.TempDir(), "downloads", "notes.txt")

	w, sink := runDownload(t, context.Background(), srv.addr, notesInfo(5000), dest, testOptions())

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	_, err = os.Stat(ResumePath(dest))
	assert.True(t, os.IsNotExist(err), "sidecar removed on completion")

	events := sink.all()
	require.NotEmpty(t, events)
	assert.Equal(t, EventStarted, events[0].Kind)
	assert.Equal(t, srv.addr, events[0].Peer)
	var last uint64
	for _, e := range events[1 : len(events)-1] {
		assert.Equal(t, EventProgress, e.Kind)
		assert.GreaterOrEqual(t, e.Bytes, last)
		last = e.Bytes
	}
	term := events[len(events)-1]
	assert.Equal(t, EventCompleted, term.Kind)
	assert.Equal(t, uint64(5000), term.Bytes)
	assert.Equal(t, StateCompleted, w.Session().State())

	assert.Equal(t, EventCompleted, srv.sink.terminal(t).Kind)
}

// Abort a 500-byte download at 400 bytes, then resume: the second request
// carries offset 400 and only the last 100 bytes cross the wire.
func TestAbortThenResume(t *testing.T) {
	data := content(500)
	dest := filepath.Join(t.TempDir(), "notes.txt")

	requested := make(chan uint64, 1)
	first := fakeServer(t, func(conn net.Conn) {
		req, err := protocol.ReadRequest(conn)
		if err != nil {
			return
		}
		requested <- req.ResumeOffset
		protocol.WriteDownloadHeader(conn, 500)
		conn.Write(data[:400])
		// Hold the connection open until the client goes away.
		io.Copy(io.Discard, conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	w, err := NewDownloadWorker(first, notesInfo(500), dest, testOptions())
	require.NoError(t, err)
	sink := &recordingSink{}
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, sink)
	}()

	assert.Equal(t, uint64(0), <-requested)
	require.Eventually(t, func() bool { return w.Session().Position() == 400 }, 5*time.Second, time.Millisecond)
	cancel()
	<-done

	term := sink.terminal(t)
	assert.Equal(t, EventAborted, term.Kind)
	assert.NoError(t, term.Err)
	assert.Equal(t, uint64(400), term.Bytes)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(400), info.Size(), "reported bytes equal the partial file size")
	rec, err := LoadResumeRecord(dest)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, uint64(500), rec.TotalSize)

	srv := startServer(t, shareFile(t, "notes.txt", data), testOptions())
	_, sink = runDownload(t, context.Background(), srv.addr, notesInfo(500), dest, testOptions())

	assert.Equal(t, EventCompleted, sink.terminal(t).Kind)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	sw := srv.worker(t, 0)
	serverTerm := srv.sink.terminal(t)
	assert.Equal(t, EventCompleted, serverTerm.Kind)
	assert.Equal(t, uint64(400), sw.Session().Offset)
	assert.Equal(t, uint64(500), serverTerm.Bytes)
}

func TestPeerClosingEarlyIsAbort(t *testing.T) {
	data := content(1000)
	addr := fakeServer(t, func(conn net.Conn) {
		protocol.ReadRequest(conn)
		protocol.WriteDownloadHeader(conn, 1000)
		conn.Write(data[:250])
	})
	dest := filepath.Join(t.TempDir(), "notes.txt")

	_, sink := runDownload(t, context.Background(), addr, notesInfo(1000), dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventAborted, term.Kind)
	assert.Error(t, term.Err)
	assert.Equal(t, uint64(250), term.Bytes)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, data[:250], got, "partial kept for resume")
	_, err = os.Stat(ResumePath(dest))
	assert.NoError(t, err)
}

func TestResumeDiscardsPartialWhenSizeChanged(t *testing.T) {
	data := content(500)
	srv := startServer(t, shareFile(t, "notes.txt", data), testOptions())
	dest := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(dest, data[:100], 0o644))
	require.NoError(t, SaveResumeRecord(dest, &ResumeRecord{RelativePath: "share/notes.txt", TotalSize: 900}))

	_, sink := runDownload(t, context.Background(), srv.addr, notesInfo(900), dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventFailed, term.Kind)
	assert.True(t, IsKind(term.Err, KindProtocol))
	assert.ErrorIs(t, term.Err, ErrSizeMismatch)

	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(ResumePath(dest))
	assert.True(t, os.IsNotExist(err))
}

func TestResumeDiscardsPartialWhenSourceShrank(t *testing.T) {
	srv := startServer(t, shareFile(t, "notes.txt", content(500)), testOptions())
	dest := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(dest, content(600), 0o644))

	_, sink := runDownload(t, context.Background(), srv.addr, notesInfo(700), dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventFailed, term.Kind)
	assert.ErrorIs(t, term.Err, ErrSizeMismatch)
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err))
	assert.ErrorIs(t, srv.sink.terminal(t).Err, ErrInvalidOffset)
}

func TestResumeOfFinishedFileCompletes(t *testing.T) {
	data := content(500)
	srv := startServer(t, shareFile(t, "notes.txt", data), testOptions())
	dest := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(dest, data, 0o644))
	require.NoError(t, SaveResumeRecord(dest, &ResumeRecord{RelativePath: "share/notes.txt", TotalSize: 500}))

	_, sink := runDownload(t, context.Background(), srv.addr, notesInfo(500), dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventCompleted, term.Kind)
	assert.Equal(t, uint64(500), term.Bytes)
	_, err := os.Stat(ResumePath(dest))
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadUnknownPath(t *testing.T) {
	srv := startServer(t, shareFile(t, "notes.txt", content(10)), testOptions())
	dest := filepath.Join(t.TempDir(), "missing.txt")
	file := catalog.FileInfo{Name: "missing.txt", RelativePath: "share/missing.txt", Size: 10}

	_, sink := runDownload(t, context.Background(), srv.addr, file, dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventFailed, term.Kind)
	assert.True(t, IsKind(term.Err, KindProtocol))
	assert.ErrorIs(t, term.Err, ErrUnknownPath)
	var remote *protocol.RemoteError
	require.ErrorAs(t, term.Err, &remote)
	assert.Equal(t, protocol.ErrorUnknownPath, remote.Code)
}

func TestListWorker(t *testing.T) {
	srv := startServer(t, shareFile(t, "notes.txt", content(500)), testOptions())

	w := NewListWorker(srv.addr, testOptions())
	sink := &recordingSink{}
	w.Run(context.Background(), sink)

	term := sink.terminal(t)
	assert.Equal(t, EventCompleted, term.Kind)
	assert.Equal(t, OpList, term.Op)
	require.NotNil(t, term.Listing)
	e, ok := term.Listing.Lookup("share/notes.txt")
	require.True(t, ok)
	assert.Equal(t, uint64(500), e.Size)
	assert.Empty(t, e.Source)
}

func TestDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	w := NewListWorker(addr, testOptions())
	sink := &recordingSink{}
	w.Run(context.Background(), sink)

	assert.Equal(t, []EventKind{EventStarted, EventFailed}, sink.kinds())
	term := sink.terminal(t)
	assert.True(t, IsKind(term.Err, KindConnection))
	assert.Equal(t, StateError, w.Session().State())
}

func TestStalledServerTimesOut(t *testing.T) {
	addr := fakeServer(t, func(conn net.Conn) {
		protocol.ReadRequest(conn)
		protocol.WriteDownloadHeader(conn, 1000)
		io.Copy(io.Discard, conn)
	})
	opts := testOptions()
	opts.IOTimeout = 50 * time.Millisecond
	dest := filepath.Join(t.TempDir(), "notes.txt")

	_, sink := runDownload(t, context.Background(), addr, notesInfo(1000), dest, opts)

	term := sink.terminal(t)
	assert.Equal(t, EventFailed, term.Kind)
	assert.True(t, IsKind(term.Err, KindConnection))
	assert.ErrorIs(t, term.Err, ErrStalled)
	_, err := os.Stat(ResumePath(dest))
	assert.NoError(t, err, "a stalled download stays resumable")
}

func TestInsufficientSpace(t *testing.T) {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skip("free space probing not supported on " + runtime.GOOS)
	}

	addr := fakeServer(t, func(conn net.Conn) {
		protocol.ReadRequest(conn)
		protocol.WriteDownloadHeader(conn, 1<<62)
		io.Copy(io.Discard, conn)
	})
	dest := filepath.Join(t.TempDir(), "huge.bin")

	_, sink := runDownload(t, context.Background(), addr, notesInfo(1<<62), dest, testOptions())

	term := sink.terminal(t)
	assert.Equal(t, EventFailed, term.Kind)
	assert.True(t, IsKind(term.Err, KindIO))
	assert.ErrorIs(t, term.Err, ErrInsufficientSpace)
	_, err := os.Stat(dest)
	assert.True(t, os.IsNotExist(err), "nothing written")
}

func TestNewDownloadWorkerValidates(t *testing.T) {
	_, err := NewDownloadWorker("127.0.0.1:1", catalog.FileInfo{}, "/tmp/x", Options{})
	assert.Error(t, err)

	_, err = NewDownloadWorker("127.0.0.1:1", notesInfo(1), "", Options{})
	assert.Error(t, err)

	w, err := NewDownloadWorker("127.0.0.1:1", notesInfo(1), "/tmp/x", Options{})
	require.NoError(t, err)
	assert.Equal(t, "/tmp/x", w.Destination())
	assert.Equal(t, RoleClient, w.Role())
	assert.Equal(t, OpDownload, w.Op())
	assert.Equal(t, "share/notes.txt", w.File().RelativePath)
	assert.NotEqual(t, w.ID(), NewListWorker("127.0.0.1:1", Options{}).ID())
}
