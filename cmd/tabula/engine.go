package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/dataset"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/disk"
	"mercator-hq/tabula/pkg/export/dispatch"
	"mercator-hq/tabula/pkg/export/queue"
	"mercator-hq/tabula/pkg/telemetry/metrics"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// CopyChain is the name of the built-in chained job copying the stored
// export to another disk. Its payload is {"disk": "...", "path": "..."}.
const CopyChain = "copy"

// engine holds the components shared by the run and export commands.
type engine struct {
	cfg        *config.Config
	disks      *disk.Manager
	catalog    *dataset.Catalog
	registry   *export.Registry
	queue      *queue.Queue
	metrics    *metrics.Collector
	tracer     *tracing.Tracer
	dispatcher *dispatch.Dispatcher
}

// newEngine opens disks, dataset databases and the job queue. Workers are
// not started.
func newEngine(ctx context.Context, cfg *config.Config) (_ *engine, err error) {
	e := &engine{cfg: cfg}
	if e.tracer, err = tracing.New(&cfg.Telemetry.Tracing, Version); err != nil {
		return nil, cli.NewConfigError("telemetry.tracing", err.Error())
	}
	defer func() {
		if err != nil {
			e.Close(context.Background())
		}
	}()

	if e.disks, err = disk.NewManagerFromConfig(cfg); err != nil {
		return nil, fmt.Errorf("failed to open disks: %w", err)
	}
	if e.catalog, err = dataset.NewCatalog(cfg.Datasets); err != nil {
		return nil, fmt.Errorf("failed to open datasets: %w", err)
	}

	e.registry = export.NewRegistry()
	if err = e.catalog.Register(e.registry); err != nil {
		return nil, err
	}

	if e.queue, err = queue.NewFromConfig(ctx, &cfg.Queue); err != nil {
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	e.metrics = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
	e.queue.SetMetrics(e.metrics)
	e.queue.SetTracer(e.tracer)
	e.queue.HandleChain(CopyChain, copyChain(e.disks))

	dcfg, err := dispatch.ConfigFrom(&cfg.Export)
	if err != nil {
		return nil, cli.NewConfigError("export.default_format", err.Error())
	}
	e.dispatcher = dispatch.New(dcfg, dispatch.Deps{
		Disks:    e.disks,
		Jobs:     e.queue,
		Registry: e.registry,
		Metrics:  e.metrics,
		Tracer:   e.tracer,
	})

	slog.Debug("Engine initialized",
		"disks", e.disks.Names(),
		"datasets", len(cfg.Datasets),
		"queue_driver", cfg.Queue.Driver,
		"tracing", e.tracer.Enabled(),
	)
	return e, nil
}

// startWorkers starts the job workers with the dispatcher as runner.
func (e *engine) startWorkers(ctx context.Context) error {
	return e.queue.Start(ctx, e.dispatcher)
}

// Close stops the workers and releases every resource. ctx bounds the wait
// for running jobs.
func (e *engine) Close(ctx context.Context) error {
	var errs []error
	if e.queue != nil {
		errs = append(errs, e.queue.Shutdown(ctx))
	}
	if e.catalog != nil {
		errs = append(errs, e.catalog.Close())
	}
	if e.disks != nil {
		errs = append(errs, e.disks.Close())
	}
	if e.tracer != nil {
		errs = append(errs, e.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

type copyPayload struct {
	Disk       string `json:"disk"`
	Path       string `json:"path"`
	Visibility string `json:"visibility"`
}

// copyChain copies the stored export as described by the chained job payload.
func copyChain(disks export.Disks) queue.ChainHandler {
	return func(ctx context.Context, job *export.Job, stored *export.StoredFile, payload json.RawMessage) error {
		var p copyPayload
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &p); err != nil {
				return fmt.Errorf("invalid copy payload: %w", err)
			}
		}

		var opts export.DiskOptions
		if p.Visibility != "" {
			opts = export.DiskOptions{export.OptionVisibility: p.Visibility}
		}

		copied, err := disk.Copy(ctx, disks, stored, p.Disk, p.Path, opts)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "Export copied",
			"job_id", job.ID,
			"disk", copied.Disk,
			"path", copied.Path,
		)
		return nil
	}
}
