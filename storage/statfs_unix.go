//go:build linux || darwin || freebsd

package storage

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// statfs uses the statfs system call.
// Bavail is free blocks available to unprivileged users.
func statfs(dir string) (*Info, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(dir, &stat); err != nil {
		return nil, fmt.Errorf("failed to get filesystem stats: %w", err)
	}

	bsize := uint64(stat.Bsize)
	total := uint64(stat.Blocks) * bsize
	return &Info{
		TotalBytes:     total,
		AvailableBytes: uint64(stat.Bavail) * bsize,
		UsedBytes:      total - uint64(stat.Bfree)*bsize,
	}, nil
}
