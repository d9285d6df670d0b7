// Package disk provides the storage backends exports are stored on.
//
// Three drivers are available:
//
//   - local: files under a root directory, written through a temporary file
//     and renamed into place
//   - memory: an in-process map, intended for tests and ephemeral servers
//   - sqlite: blobs in a SQLite database (github.com/mattn/go-sqlite3)
//
// Manager resolves disk identifiers to backends and implements export.Disks.
// Paths are always relative to the disk. Leading slashes and ".." segments
// are cleaned so a path can never escape a local disk's root.
//
// Reading a missing path returns an error that matches fs.ErrNotExist.
package disk
