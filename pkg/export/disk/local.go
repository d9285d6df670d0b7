package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"mercator-hq/tabula/pkg/export"
)

// File modes applied per visibility.
const (
	publicFileMode  fs.FileMode = 0644
	privateFileMode fs.FileMode = 0600
	dirMode         fs.FileMode = 0755
)

// LocalDisk stores files below a root directory.
type LocalDisk struct {
	name       string
	root       string
	visibility string
	logger     *slog.Logger
}

// NewLocalDisk creates a local disk rooted at root, creating the directory
// if needed.
func NewLocalDisk(name, root, visibility string) (*LocalDisk, error) {
	if root == "" {
		return nil, fmt.Errorf("local disk %q: root is required", name)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, export.NewIoError("resolve", root, err)
	}
	if err := os.MkdirAll(abs, dirMode); err != nil {
		return nil, export.NewIoError("mkdir", abs, err)
	}

	return &LocalDisk{
		name:       name,
		root:       abs,
		visibility: visibility,
		logger:     slog.Default().With("component", "export.disk.local", "disk", name),
	}, nil
}

// Name returns the disk identifier.
func (d *LocalDisk) Name() string { return d.name }

// Root returns the absolute root directory.
func (d *LocalDisk) Root() string { return d.root }

func (d *LocalDisk) resolve(p string) (string, string, error) {
	clean, err := cleanPath(p)
	if err != nil {
		return "", "", export.NewIoError("resolve", p, err)
	}
	return clean, filepath.Join(d.root, filepath.FromSlash(clean)), nil
}

// Put writes r to a temporary file next to the destination and renames it
// into place once the content is complete.
func (d *LocalDisk) Put(ctx context.Context, p string, r io.Reader, opts export.DiskOptions) (*export.StoredFile, error) {
	clean, full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	vis, err := visibility(opts, d.visibility)
	if err != nil {
		return nil, export.NewIoError("put", clean, err)
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return nil, export.NewIoError("mkdir", clean, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(full)+".*.tmp")
	if err != nil {
		return nil, export.NewIoError("create", clean, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	size, err := io.Copy(tmp, ctxReader{ctx: ctx, r: r})
	if err != nil {
		return nil, export.NewIoError("write", clean, err)
	}
	if err := tmp.Sync(); err != nil {
		return nil, export.NewIoError("sync", clean, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, export.NewIoError("close", clean, err)
	}

	mode := privateFileMode
	if vis == VisibilityPublic {
		mode = publicFileMode
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return nil, export.NewIoError("chmod", clean, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		return nil, export.NewIoError("rename", clean, err)
	}
	committed = true

	d.logger.Debug("File stored", "path", clean, "size", size, "visibility", vis)

	return &export.StoredFile{
		Disk:     d.name,
		Path:     clean,
		Size:     size,
		Format:   formatOf(clean),
		StoredAt: time.Now().UTC(),
	}, nil
}

// Open opens the file at p for reading.
func (d *LocalDisk) Open(ctx context.Context, p string) (io.ReadCloser, error) {
	clean, full, err := d.resolve(p)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, notExist("open", clean)
	}
	if err != nil {
		return nil, export.NewIoError("open", clean, err)
	}
	return f, nil
}

// Exists reports whether p is a regular file.
func (d *LocalDisk) Exists(ctx context.Context, p string) (bool, error) {
	clean, full, err := d.resolve(p)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, export.NewIoError("stat", clean, err)
	}
	return info.Mode().IsRegular(), nil
}

// Delete removes p.
func (d *LocalDisk) Delete(ctx context.Context, p string) error {
	clean, full, err := d.resolve(p)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return export.NewIoError("delete", clean, err)
	}
	return nil
}
