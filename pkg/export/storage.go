package export

import (
	"context"
	"io"
	"time"
)

// Well-known DiskOptions keys.
const (
	// OptionVisibility is "public" or "private". Local disks map it to file modes.
	OptionVisibility = "visibility"
	// OptionContentType overrides the stored content type.
	OptionContentType = "content_type"
)

// DiskOptions are backend-specific write options passed through to Disk.Put.
type DiskOptions map[string]string

// Merge returns a copy of o overlaid with other. Keys in other win.
func (o DiskOptions) Merge(other DiskOptions) DiskOptions {
	if len(o) == 0 && len(other) == 0 {
		return nil
	}
	out := make(DiskOptions, len(o)+len(other))
	for k, v := range o {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// StoredFile describes an export persisted by a Disk.
type StoredFile struct {
	Disk     string    `json:"disk"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Format   Format    `json:"format,omitempty"`
	StoredAt time.Time `json:"stored_at"`
}

// Disk is a storage backend addressed by relative paths.
//
// Put must make the file visible at path only once all of r was written, so a
// failed write never leaves a partial file at the destination. Concurrent Put
// calls to the same path are not serialised; the last completed write wins.
type Disk interface {
	// Name returns the identifier the disk was registered under.
	Name() string

	// Put writes r to path.
	Put(ctx context.Context, path string, r io.Reader, opts DiskOptions) (*StoredFile, error)

	// Open returns the content stored at path.
	Open(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether path holds a file.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}

// Disks resolves storage backend identifiers. An empty name selects the
// default disk.
type Disks interface {
	Disk(name string) (Disk, error)
}
