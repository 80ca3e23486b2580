package main

import (
	"bytes"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opd-ai/sharecore"
	"github.com/opd-ai/sharecore/catalog"
	"github.com/opd-ai/sharecore/config"
	"github.com/opd-ai/sharecore/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, files map[string][]byte) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "share")
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), data, 0o644))
	}

	cfg := config.Default()
	cfg.ListenPort = 0
	cfg.WatchDirectories = false
	cfg.SharedDirectories = []string{root}

	node, err := sharecore.New(cfg)
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		node.Shutdown(ctx)
	})
	return node.Addr().String()
}

// listingServer answers list requests with entries and download requests
// with data, whatever path is asked for.
func listingServer(t *testing.T, entries []catalog.FileInfo, data []byte) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				req, err := protocol.ReadRequest(conn)
				if err != nil {
					return
				}
				if req.Type == protocol.FrameListRequest {
					protocol.WriteList(conn, catalog.NewSnapshot(1, entries))
					return
				}
				if req.ResumeOffset > uint64(len(data)) {
					return
				}
				protocol.WriteDownloadHeader(conn, uint64(len(data)))
				conn.Write(data[req.ResumeOffset:])
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runWithConfig(t, filepath.Join(t.TempDir(), "settings.yaml"), args...)
}

func runWithConfig(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(append(args, "--config", cfgPath))
	err := cmd.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	addr := startServer(t, map[string][]byte{
		"a.txt": []byte("hello"),
		"b.bin": make([]byte, 2048),
	})

	out, err := run(t, "list", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "PATH")
	assert.Contains(t, out, "share/a.txt")
	assert.Contains(t, out, "share/b.bin")
	assert.Contains(t, out, "2 files, 2053 bytes")
}

func TestListCommandNeedsAnAddress(t *testing.T) {
	_, err := run(t, "list")
	assert.ErrorIs(t, err, sharecore.ErrNoServerAddress)
}

func TestGetCommand(t *testing.T) {
	content := bytes.Repeat([]byte("sharecore"), 1000)
	addr := startServer(t, map[string][]byte{"data.bin": content})
	dest := filepath.Join(t.TempDir(), "out.bin")

	out, err := run(t, "get", addr, "share/data.bin", "--out", dest, "--quiet")
	require.NoError(t, err)
	assert.Contains(t, out, "saved "+dest)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, data)
}

func TestGetCommandUnknownPath(t *testing.T) {
	addr := startServer(t, map[string][]byte{"a.txt": []byte("a")})

	_, err := run(t, "get", addr, "share/missing.txt", "--out", filepath.Join(t.TempDir(), "x"), "-q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not shared")
}

func TestGetRejectsUnsafeListedName(t *testing.T) {
	root := t.TempDir()
	cfgPath := filepath.Join(root, "settings.yaml")
	cfg := config.Default()
	cfg.DownloadDirectory = filepath.Join(root, "downloads")
	require.NoError(t, os.MkdirAll(cfg.DownloadDirectory, 0o755))
	require.NoError(t, cfg.Save(cfgPath))

	addr := listingServer(t, []catalog.FileInfo{
		{Name: "../escape.txt", RelativePath: "share/x", Size: 5},
	}, []byte("owned"))

	_, err := runWithConfig(t, cfgPath, "get", addr, "share/x", "-q")
	assert.ErrorIs(t, err, sharecore.ErrInvalidFileName)

	_, statErr := os.Stat(filepath.Join(root, "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))
	entries, err := os.ReadDir(cfg.DownloadDirectory)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "list", "127.0.0.1:1", "--log-level", "loud")
	assert.Error(t, err)
}

func TestLogFile(t *testing.T) {
	addr := startServer(t, map[string][]byte{"a.txt": []byte("a")})
	logPath := filepath.Join(t.TempDir(), "sharecore.log")

	_, err := run(t, "list", addr, "--log-file", logPath, "--log-level", "debug", "--log-json")
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"level":"info"`)
}
