package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/writer"
	"mercator-hq/tabula/pkg/telemetry/logging"
)

// StoreOptions are the per-call overrides of Store.
type StoreOptions struct {
	// Path is the destination on the disk. Required unless the exporter
	// declares a FilePath.
	Path string

	// Disk selects the storage backend. Empty uses the exporter's Disk, then
	// the default disk.
	Disk string

	// Format overrides the format inferred from Path.
	Format export.Format

	// DiskOptions are merged over the exporter's declared disk options.
	DiskOptions export.DiskOptions
}

// QueueOptions are the per-call overrides of Queue.
type QueueOptions struct {
	Path        string
	Disk        string
	Format      export.Format
	DiskOptions export.DiskOptions

	// Chain lists follow-up jobs run after the export was stored.
	Chain []export.ChainedJob
}

// prepareStore resolves the destination and format shared by Store and Queue.
func (d *Dispatcher) prepareStore(e export.Exporter, mode, path, disk string, format export.Format, opts export.DiskOptions) (*request, error) {
	declared := export.Inspect(e)

	if path == "" {
		path = declared.FilePath
	}
	if path == "" {
		return nil, &export.NoDestinationError{}
	}
	if disk == "" {
		disk = declared.Disk
	}

	req, err := d.resolve(declared, mode, path, format)
	if err != nil {
		return nil, err
	}

	req.name = path
	req.path = path
	req.disk = disk
	req.diskOptions = export.DiskOptions{export.OptionContentType: req.format.ContentType()}.
		Merge(declared.DiskOptions).
		Merge(opts)
	return req, nil
}

// Store encodes the export and writes it to a disk.
//
// The document is encoded into a spool file first and handed to the disk
// only once complete. Concurrent stores to the same path are not serialised;
// the last one to finish wins.
func (d *Dispatcher) Store(ctx context.Context, e export.Exporter, opts StoreOptions) (stored *export.StoredFile, err error) {
	start := time.Now()
	var (
		req *request
		out writer.Outcome
	)
	ctx, span := d.startSpan(ctx, ModeStore)
	defer func() { d.observe(ctx, span, req, ModeStore, out, start, err) }()

	req, err = d.prepareStore(e, ModeStore, opts.Path, opts.Disk, opts.Format, opts.DiskOptions)
	if err != nil {
		return nil, err
	}

	if d.disks == nil {
		return nil, errors.New("no disks configured")
	}
	disk, err := d.disks.Disk(req.disk)
	if err != nil {
		return nil, err
	}

	sp, err := newSpool(d.tempDir)
	if err != nil {
		return nil, err
	}
	defer sp.Close()

	out, err = d.encode(ctx, e, req, sp)
	if err != nil {
		return nil, err
	}
	if _, err = sp.Seek(0, io.SeekStart); err != nil {
		return nil, export.NewIoError("seek", sp.Name(), err)
	}

	stored, err = disk.Put(ctx, req.path, sp, req.diskOptions)
	if err != nil {
		return nil, err
	}
	stored.Format = req.format
	return stored, nil
}

// Queue validates the destination, format and disk, then submits a job that
// runs Store on a worker. Nothing is submitted when validation fails.
func (d *Dispatcher) Queue(ctx context.Context, e export.Exporter, opts QueueOptions) (queued *export.QueuedJob, err error) {
	start := time.Now()
	var req *request
	ctx, span := d.startSpan(ctx, ModeQueue)
	defer func() { d.observe(ctx, span, req, ModeQueue, writer.Outcome{}, start, err) }()

	req, err = d.prepareStore(e, ModeQueue, opts.Path, opts.Disk, opts.Format, opts.DiskOptions)
	if err != nil {
		return nil, err
	}

	if d.jobs == nil || d.registry == nil {
		return nil, ErrNoJobSystem
	}
	if d.disks != nil {
		if _, err = d.disks.Disk(req.disk); err != nil {
			return nil, err
		}
	}

	key, payload, err := d.registry.Describe(e)
	if err != nil {
		return nil, err
	}

	job := export.NewJob(key, payload, req.path, req.disk, req.format, opts.DiskOptions, opts.Chain)
	if err = job.Validate(); err != nil {
		return nil, err
	}

	queued, err = d.jobs.Submit(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to submit job: %w", err)
	}
	return queued, nil
}

// RunJob rebuilds the job's exporter from the registry and stores it.
// It implements export.JobRunner.
func (d *Dispatcher) RunJob(ctx context.Context, job *export.Job) (*export.StoredFile, error) {
	if d.registry == nil {
		return nil, ErrNoJobSystem
	}

	e, err := d.registry.Materialize(job.ExporterKey, job.Payload)
	if err != nil {
		return nil, err
	}

	ctx = logging.WithJobID(ctx, job.ID)
	return d.Store(ctx, e, StoreOptions{
		Path:        job.Path,
		Disk:        job.Disk,
		Format:      job.Format,
		DiskOptions: job.DiskOptions,
	})
}
