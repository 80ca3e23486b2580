package catalog

import (
	"github.com/sirupsen/logrus"
)

// Snapshot is an immutable, versioned listing of shared files. A published
// snapshot is safe for concurrent use by any number of goroutines.
type Snapshot struct {
	version uint64
	entries []FileInfo
	index   map[string]int
}

// NewSnapshot builds a snapshot from entries. The slice is copied. Entries
// sharing a relative path with an earlier entry are dropped.
func NewSnapshot(version uint64, entries []FileInfo) *Snapshot {
	s := &Snapshot{
		version: version,
		entries: make([]FileInfo, 0, len(entries)),
		index:   make(map[string]int, len(entries)),
	}

	for _, e := range entries {
		if _, exists := s.index[e.RelativePath]; exists {
			logrus.WithFields(logrus.Fields{
				"function":      "NewSnapshot",
				"relative_path": e.RelativePath,
				"source":        e.Source,
			}).Warn("Duplicate relative path in catalog, keeping first entry")
			continue
		}
		s.index[e.RelativePath] = len(s.entries)
		s.entries = append(s.entries, e)
	}

	return s
}

// Version returns the catalog version this snapshot was published as.
func (s *Snapshot) Version() uint64 {
	if s == nil {
		return 0
	}
	return s.version
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// At returns the i-th entry in listing order.
func (s *Snapshot) At(i int) FileInfo {
	return s.entries[i]
}

// Entries returns a copy of all entries in listing order.
func (s *Snapshot) Entries() []FileInfo {
	if s == nil {
		return nil
	}
	out := make([]FileInfo, len(s.entries))
	copy(out, s.entries)
	return out
}

// Lookup finds an entry by relative path.
func (s *Snapshot) Lookup(relativePath string) (FileInfo, bool) {
	if s == nil {
		return FileInfo{}, false
	}
	i, ok := s.index[relativePath]
	if !ok {
		return FileInfo{}, false
	}
	return s.entries[i], true
}

// TotalSize returns the sum of all entry sizes.
func (s *Snapshot) TotalSize() uint64 {
	var total uint64
	if s == nil {
		return total
	}
	for _, e := range s.entries {
		total += e.Size
	}
	return total
}
