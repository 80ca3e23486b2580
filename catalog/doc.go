// Package catalog maintains the set of files a sharecore server exposes.
//
// # Overview
//
//   - FileInfo: immutable description of one file (name, relative path, size)
//   - Snapshot: immutable, versioned listing with lookup by relative path
//   - Catalog: owns the shared directory list and publishes snapshots
//   - Watcher: rescans the catalog when shared directories change on disk
//
// # Copy-on-write publication
//
// Every change to the shared directory list, and every rescan, builds a fresh
// Snapshot and publishes it with an atomic pointer swap. A connection binds
// the snapshot current when it was accepted and keeps using it, so a listing
// never mixes entries from two catalog versions:
//
//	cat := catalog.New()
//	if _, err := cat.AddDirectory("/srv/share"); err != nil {
//	    log.Fatal(err)
//	}
//	snap := cat.Snapshot()
//	for i := 0; i < snap.Len(); i++ {
//	    fmt.Println(snap.At(i).RelativePath)
//	}
//
// # Relative paths
//
// Relative paths are slash separated and rooted at the base name of the
// shared directory, so /srv/share/docs/a.txt is listed as "share/docs/a.txt".
// Clients joining a received path to a local directory should pass it through
// ValidateRelativePath first.
package catalog
