package storage

import (
	"errors"
	"math"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func skipUnsupported(t *testing.T) {
	t.Helper()
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd":
	default:
		t.Skipf("no free-space probe on %s", runtime.GOOS)
	}
}

func TestStatReportsFilesystem(t *testing.T) {
	skipUnsupported(t)

	info, err := Stat(t.TempDir())
	require.NoError(t, err)
	assert.Greater(t, info.TotalBytes, uint64(0))
	assert.LessOrEqual(t, info.AvailableBytes, info.TotalBytes)
	assert.LessOrEqual(t, info.UsedBytes, info.TotalBytes)
}

func TestStatUsesNearestExistingAncestor(t *testing.T) {
	skipUnsupported(t)

	missing := filepath.Join(t.TempDir(), "not", "yet", "created.bin")
	avail, err := Available(missing)
	require.NoError(t, err)
	assert.Greater(t, avail, uint64(0))
}

func TestEnsureAvailable(t *testing.T) {
	skipUnsupported(t)

	dir := t.TempDir()
	assert.NoError(t, EnsureAvailable(dir, 1))

	err := EnsureAvailable(dir, math.MaxUint64)
	assert.True(t, errors.Is(err, ErrInsufficientSpace), "got %v", err)
}
