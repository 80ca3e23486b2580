// Package storage reports free space for download destinations so a client
// can refuse a transfer that cannot fit before writing any bytes.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
)

// ErrUnsupported is returned on platforms without a free-space probe.
var ErrUnsupported = errors.New("disk space detection not supported on this platform")

// Info contains information about a filesystem.
type Info struct {
	TotalBytes     uint64
	AvailableBytes uint64
	UsedBytes      uint64
}

// Stat returns filesystem information for the volume holding path. The path
// itself may not exist yet; its nearest existing ancestor is used.
func Stat(path string) (*Info, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dir := nearestExistingDir(absPath)

	info, err := statfs(dir)
	if err != nil {
		if !errors.Is(err, ErrUnsupported) {
			logrus.WithFields(logrus.Fields{
				"function": "Stat",
				"dir":      dir,
				"error":    err.Error(),
			}).Error("Failed to get filesystem stats")
		}
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":        "Stat",
		"dir":             dir,
		"total_bytes":     info.TotalBytes,
		"available_bytes": info.AvailableBytes,
	}).Debug("Storage information retrieved")

	return info, nil
}

// Available returns the bytes available to an unprivileged writer on the
// volume holding path.
func Available(path string) (uint64, error) {
	info, err := Stat(path)
	if err != nil {
		return 0, err
	}
	return info.AvailableBytes, nil
}

// EnsureAvailable returns an error wrapping ErrInsufficientSpace when fewer
// than need bytes are free at path. Platforms without a probe pass.
func EnsureAvailable(path string, need uint64) error {
	avail, err := Available(path)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if avail < need {
		return fmt.Errorf("%w: need %d bytes, %d available", ErrInsufficientSpace, need, avail)
	}
	return nil
}

// ErrInsufficientSpace indicates a destination volume too small for a transfer.
var ErrInsufficientSpace = errors.New("insufficient disk space")

func nearestExistingDir(p string) string {
	for {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			return p
		}
		parent := filepath.Dir(p)
		if parent == p {
			return p
		}
		p = parent
	}
}
