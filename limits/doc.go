// Package limits provides centralized size constants and validation functions
// for the sharecore wire protocol. This package ensures consistent size
// enforcement between the frame codec, the catalog scanner and the transfer
// workers.
//
// # Size Hierarchy
//
//   - MaxNameLength (255 bytes): longest file name in a listing entry.
//   - MaxPathLength (4096 bytes): longest relative path in any frame.
//   - MaxCatalogEntries (1<<20): most entries a single listing may carry.
//   - MaxFrameSize (64MB): absolute maximum for any frame body. Raw file bytes
//     that follow a download header are not framed and not bound by it.
//
// # Validation Functions
//
//	if err := limits.ValidatePath(path); err != nil {
//	    // ErrEmpty or ErrTooLarge
//	}
//
// Chunk sizes used for streaming are configuration, bounded by MinChunkSize
// and MaxChunkSize:
//
//	err := limits.ValidateChunkSize(cfg.ChunkSize)
//
// # Error Types
//
//   - ErrEmpty: returned when an empty value is provided
//   - ErrTooLarge: returned when a value exceeds the specified limit
package limits
