package catalog

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long the watcher waits for filesystem activity to
// settle before rescanning.
const DefaultDebounce = 500 * time.Millisecond

// Watcher rescans a Catalog when files below its shared directories change.
type Watcher struct {
	catalog  *Catalog
	debounce time.Duration
	fsw      *fsnotify.Watcher
	resync   chan struct{}
}

// NewWatcher creates a watcher for c. A debounce of zero selects
// DefaultDebounce.
func NewWatcher(c *Catalog, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		catalog:  c,
		debounce: debounce,
		fsw:      fsw,
		resync:   make(chan struct{}, 1),
	}

	c.OnPublish(func(*Snapshot) {
		select {
		case w.resync <- struct{}{}:
		default:
		}
	})

	return w, nil
}

// Run watches until ctx is cancelled, then releases the underlying
// notification handle.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.syncWatches()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case <-w.resync:
			w.syncWatches()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"function": "Watcher.Run",
				"path":     ev.Name,
				"op":       ev.Op.String(),
			}).Debug("Shared directory changed")
			if pending {
				if !timer.Stop() {
					<-timer.C
				}
			}
			timer.Reset(w.debounce)
			pending = true

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			logrus.WithFields(logrus.Fields{
				"function": "Watcher.Run",
				"error":    err.Error(),
			}).Warn("Filesystem watcher error")

		case <-timer.C:
			pending = false
			w.catalog.Rescan()
		}
	}
}

// syncWatches makes the watched set equal to every directory below the
// currently shared roots.
func (w *Watcher) syncWatches() {
	want := make(map[string]bool)
	for _, root := range w.catalog.Directories() {
		_ = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				want[p] = true
			}
			return nil
		})
	}

	have := make(map[string]bool)
	for _, p := range w.fsw.WatchList() {
		have[p] = true
		if !want[p] {
			_ = w.fsw.Remove(p)
		}
	}

	for p := range want {
		if have[p] {
			continue
		}
		if err := w.fsw.Add(p); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "syncWatches",
				"path":     p,
				"error":    err.Error(),
			}).Warn("Failed to watch directory")
		}
	}
}
