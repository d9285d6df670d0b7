package disk

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"mercator-hq/tabula/pkg/export"
)

// Visibility values accepted in export.DiskOptions.
const (
	VisibilityPublic  = "public"
	VisibilityPrivate = "private"
)

// cleanPath normalises a disk-relative path. The result never starts with a
// slash and never contains "..".
func cleanPath(p string) (string, error) {
	p = strings.ReplaceAll(p, "\\", "/")
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("invalid path %q", p)
	}
	return clean, nil
}

// visibility returns the effective visibility of a write.
func visibility(opts export.DiskOptions, fallback string) (string, error) {
	v := opts[export.OptionVisibility]
	if v == "" {
		v = fallback
	}
	switch v {
	case "", VisibilityPrivate:
		return VisibilityPrivate, nil
	case VisibilityPublic:
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("invalid visibility %q", v)
	}
}

// formatOf infers the stored format from the path extension.
func formatOf(p string) export.Format {
	f, _ := export.FormatFromExtension(p)
	return f
}

// notExist wraps fs.ErrNotExist for a disk path.
func notExist(op, p string) error {
	return export.NewIoError(op, p, fs.ErrNotExist)
}

// ctxReader stops reading once its context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
