package disk

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"

	"mercator-hq/tabula/pkg/export"
)

type memoryFile struct {
	data       []byte
	visibility string
}

// MemoryDisk keeps files in memory.
// Contents are lost when the process exits.
type MemoryDisk struct {
	name       string
	visibility string

	mu    sync.RWMutex
	files map[string]memoryFile
}

// NewMemoryDisk creates an empty in-memory disk.
func NewMemoryDisk(name string) *MemoryDisk {
	return &MemoryDisk{
		name:       name,
		visibility: VisibilityPrivate,
		files:      make(map[string]memoryFile),
	}
}

// Name returns the disk identifier.
func (d *MemoryDisk) Name() string { return d.name }

// Put reads r fully before publishing it under p.
func (d *MemoryDisk) Put(ctx context.Context, p string, r io.Reader, opts export.DiskOptions) (*export.StoredFile, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, export.NewIoError("put", p, err)
	}
	vis, err := visibility(opts, d.visibility)
	if err != nil {
		return nil, export.NewIoError("put", clean, err)
	}

	data, err := io.ReadAll(ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, export.NewIoError("write", clean, err)
	}

	d.mu.Lock()
	d.files[clean] = memoryFile{data: data, visibility: vis}
	d.mu.Unlock()

	return &export.StoredFile{
		Disk:     d.name,
		Path:     clean,
		Size:     int64(len(data)),
		Format:   formatOf(clean),
		StoredAt: time.Now().UTC(),
	}, nil
}

// Open returns a reader over a snapshot of the file.
func (d *MemoryDisk) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return nil, export.NewIoError("open", p, err)
	}

	d.mu.RLock()
	f, ok := d.files[clean]
	d.mu.RUnlock()
	if !ok {
		return nil, notExist("open", clean)
	}
	return io.NopCloser(bytes.NewReader(f.data)), nil
}

// Exists reports whether p holds a file.
func (d *MemoryDisk) Exists(ctx context.Context, p string) (bool, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return false, export.NewIoError("stat", p, err)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.files[clean]
	return ok, nil
}

// Delete removes p.
func (d *MemoryDisk) Delete(ctx context.Context, p string) error {
	clean, err := cleanPath(p)
	if err != nil {
		return export.NewIoError("delete", p, err)
	}

	d.mu.Lock()
	delete(d.files, clean)
	d.mu.Unlock()
	return nil
}

// Visibility returns the visibility p was stored with.
func (d *MemoryDisk) Visibility(p string) (string, bool) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", false
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	f, ok := d.files[clean]
	return f.visibility, ok
}

// Paths returns the stored paths in sorted order.
func (d *MemoryDisk) Paths() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	paths := make([]string, 0, len(d.files))
	for p := range d.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
