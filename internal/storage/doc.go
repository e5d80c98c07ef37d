// Package storage persists opaque snapshot blobs for the notification drawer.
//
// Backends:
//   - file:   one blob file per key under a root directory (atomic replace)
//   - sqlite: a snapshots table in a SQLite database (modernc, no cgo)
//
// Persistence is best-effort from the caller's point of view; the drawer logs
// and ignores every error returned here.
package storage
