package catalog

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrDirectoryTraversal indicates a relative path that would escape its root.
var ErrDirectoryTraversal = errors.New("path contains directory traversal")

// ErrAbsolutePath indicates an absolute path where a relative one is required.
var ErrAbsolutePath = errors.New("path must be relative")

// FileInfo describes one shareable file. Values are immutable once created;
// a changed file is represented by a new FileInfo in a newer Snapshot.
type FileInfo struct {
	// Name is the base name of the file.
	Name string
	// RelativePath is the slash-separated path rooted at the shared
	// directory's base name. It identifies the file within a snapshot.
	RelativePath string
	// Size is the file size in bytes at scan time.
	Size uint64
	// Source is the absolute path on the serving host. It is never sent on
	// the wire and is empty for entries received from a peer.
	Source string
}

// IsZero reports whether f carries no file identity.
func (f FileInfo) IsZero() bool {
	return f.RelativePath == ""
}

// ValidateRelativePath checks that a wire-supplied relative path cannot
// escape the directory it is joined to. It returns the cleaned path in
// host separator form.
func ValidateRelativePath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("empty path")
	}
	if strings.HasPrefix(rel, "/") || filepath.IsAbs(rel) {
		return "", ErrAbsolutePath
	}

	cleaned := path.Clean(rel)
	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return "", ErrDirectoryTraversal
		}
	}
	if strings.Contains(cleaned, `\`) {
		// A backslash would become a separator on Windows hosts.
		return "", ErrDirectoryTraversal
	}

	return filepath.FromSlash(cleaned), nil
}
