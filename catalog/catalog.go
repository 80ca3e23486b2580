package catalog

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/sharecore/limits"
	"github.com/sirupsen/logrus"
)

// ErrNotShared indicates a directory that is not part of the catalog.
var ErrNotShared = errors.New("directory is not shared")

// ErrNotDirectory indicates a shared path that is not a directory.
var ErrNotDirectory = errors.New("path is not a directory")

// Catalog owns the list of shared directories and publishes a new Snapshot
// whenever that list or the directory contents change. Readers call Snapshot
// and never block on a rebuild.
type Catalog struct {
	mu          sync.Mutex // serializes rebuilds and root changes
	directories []string
	version     uint64
	current     atomic.Pointer[Snapshot]

	hooksMu sync.Mutex
	hooks   []func(*Snapshot)
}

// New creates an empty catalog with an empty version 0 snapshot published.
func New() *Catalog {
	c := &Catalog{}
	c.current.Store(NewSnapshot(0, nil))
	return c
}

// Snapshot returns the currently published snapshot.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Directories returns the shared directories as absolute paths.
func (c *Catalog) Directories() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.directories))
	copy(out, c.directories)
	return out
}

// OnPublish registers fn to be called after every snapshot publication.
// Hooks run on the publishing goroutine and must not call back into
// methods that rebuild the catalog.
func (c *Catalog) OnPublish(fn func(*Snapshot)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// SetDirectories replaces the shared directory list and publishes a new
// snapshot. Directories that do not exist are rejected.
func (c *Catalog) SetDirectories(paths []string) (*Snapshot, error) {
	dirs := make([]string, 0, len(paths))
	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := checkDirectory(p)
		if err != nil {
			return nil, err
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true
		dirs = append(dirs, abs)
	}

	c.mu.Lock()
	c.directories = dirs
	snap := c.rebuildLocked()
	c.mu.Unlock()

	c.notify(snap)
	return snap, nil
}

// AddDirectory shares one more directory. Adding a directory that is already
// shared republishes the catalog without changing the list.
func (c *Catalog) AddDirectory(dir string) (*Snapshot, error) {
	abs, err := checkDirectory(dir)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if !contains(c.directories, abs) {
		c.directories = append(c.directories, abs)
	}
	snap := c.rebuildLocked()
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "AddDirectory",
		"directory": abs,
		"version":   snap.Version(),
		"entries":   snap.Len(),
	}).Info("Shared directory added")

	c.notify(snap)
	return snap, nil
}

// RemoveDirectory stops sharing dir.
func (c *Catalog) RemoveDirectory(dir string) (*Snapshot, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	idx := -1
	for i, d := range c.directories {
		if d == abs {
			idx = i
			break
		}
	}
	if idx < 0 {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotShared, abs)
	}
	c.directories = append(c.directories[:idx:idx], c.directories[idx+1:]...)
	snap := c.rebuildLocked()
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "RemoveDirectory",
		"directory": abs,
		"version":   snap.Version(),
		"entries":   snap.Len(),
	}).Info("Shared directory removed")

	c.notify(snap)
	return snap, nil
}

// Rescan rebuilds the snapshot from the current directory list.
func (c *Catalog) Rescan() *Snapshot {
	c.mu.Lock()
	snap := c.rebuildLocked()
	c.mu.Unlock()

	c.notify(snap)
	return snap
}

// rebuildLocked scans every shared directory and publishes the result.
// The caller must hold c.mu.
func (c *Catalog) rebuildLocked() *Snapshot {
	var entries []FileInfo
	for _, dir := range c.directories {
		entries = scanDirectory(dir, entries)
	}

	c.version++
	snap := NewSnapshot(c.version, entries)
	c.current.Store(snap)

	logrus.WithFields(logrus.Fields{
		"function":    "rebuildLocked",
		"version":     snap.Version(),
		"entries":     snap.Len(),
		"directories": len(c.directories),
	}).Debug("Published catalog snapshot")

	return snap
}

func (c *Catalog) notify(snap *Snapshot) {
	c.hooksMu.Lock()
	hooks := make([]func(*Snapshot), len(c.hooks))
	copy(hooks, c.hooks)
	c.hooksMu.Unlock()

	for _, fn := range hooks {
		fn(snap)
	}
}

// scanDirectory appends every regular file below root to entries. Unreadable
// subtrees are logged and skipped.
func scanDirectory(root string, entries []FileInfo) []FileInfo {
	base := filepath.Base(root)

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "scanDirectory",
				"path":     p,
				"error":    err.Error(),
			}).Warn("Skipping unreadable path while scanning")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(entries) >= limits.MaxCatalogEntries {
			return fs.SkipAll
		}

		inside, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel := path.Join(base, filepath.ToSlash(inside))
		if limits.ValidateName(d.Name()) != nil || limits.ValidatePath(rel) != nil {
			logrus.WithFields(logrus.Fields{
				"function": "scanDirectory",
				"path":     p,
			}).Warn("Skipping file whose name or path exceeds protocol limits")
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}

		entries = append(entries, FileInfo{
			Name:         d.Name(),
			RelativePath: rel,
			Size:         uint64(info.Size()),
			Source:       p,
		})
		return nil
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "scanDirectory",
			"root":     root,
			"error":    err.Error(),
		}).Warn("Directory scan ended early")
	}

	if len(entries) >= limits.MaxCatalogEntries {
		logrus.WithFields(logrus.Fields{
			"function": "scanDirectory",
			"root":     root,
			"limit":    limits.MaxCatalogEntries,
		}).Warn("Catalog entry limit reached, remaining files are not shared")
	}

	return entries
}

func checkDirectory(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cannot share %s: %w", abs, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrNotDirectory, abs)
	}
	return abs, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
