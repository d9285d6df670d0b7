package disk

import (
	"context"
	"fmt"

	"mercator-hq/tabula/pkg/export"
)

// Copy copies a stored file to another disk and path. An empty toPath keeps
// the source path; an empty toDisk selects the default disk.
func Copy(ctx context.Context, disks export.Disks, from *export.StoredFile, toDisk, toPath string, opts export.DiskOptions) (*export.StoredFile, error) {
	if from == nil {
		return nil, fmt.Errorf("copy: no source file")
	}
	if toPath == "" {
		toPath = from.Path
	}

	src, err := disks.Disk(from.Disk)
	if err != nil {
		return nil, err
	}
	dst, err := disks.Disk(toDisk)
	if err != nil {
		return nil, err
	}
	if src.Name() == dst.Name() && from.Path == toPath {
		return nil, fmt.Errorf("copy: %s:%s onto itself", src.Name(), toPath)
	}

	rc, err := src.Open(ctx, from.Path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	stored, err := dst.Put(ctx, toPath, rc, opts)
	if err != nil {
		return nil, err
	}
	if stored.Format == "" {
		stored.Format = from.Format
	}
	return stored, nil
}
