package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/writer"
	"mercator-hq/tabula/pkg/telemetry/logging"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// Delivery modes, used in logs and metrics.
const (
	ModeDownload = "download"
	ModeStream   = "stream"
	ModeRaw      = "raw"
	ModeStore    = "store"
	ModeQueue    = "queue"
)

// ErrNoJobSystem is returned by Queue when no JobSubmitter was configured.
var ErrNoJobSystem = errors.New("no job system configured")

// Recorder receives one observation per delivery call.
type Recorder interface {
	RecordExport(mode, format string, rows int, bytes int64, duration time.Duration, err error)
}

// Config configures a Dispatcher.
type Config struct {
	// DefaultFormat is used when nothing else determines the format.
	// Default: xlsx
	DefaultFormat export.Format

	// TempDir holds spool files. Empty uses os.TempDir.
	TempDir string

	// Writer encodes documents. Nil uses writer.New(nil).
	Writer *writer.Writer
}

// ConfigFrom builds a dispatcher Config from the export configuration section.
func ConfigFrom(cfg *config.ExportConfig) (*Config, error) {
	format, err := export.ParseFormat(cfg.DefaultFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid default format: %w", err)
	}

	csv := export.CSVSettings{UseBOM: cfg.CSV.UseBOM, UseCRLF: cfg.CSV.UseCRLF}
	if cfg.CSV.Delimiter != "" {
		csv.Delimiter = []rune(cfg.CSV.Delimiter)[0]
	}

	return &Config{
		DefaultFormat: format,
		TempDir:       cfg.TempDir,
		Writer: writer.New(&writer.Config{
			ChunkSize: cfg.ChunkSize,
			TempDir:   cfg.TempDir,
			CSV:       csv,
		}),
	}, nil
}

// Deps are the collaborators of a Dispatcher. Every field is optional;
// operations needing a missing collaborator fail when called.
type Deps struct {
	// Disks resolves storage backends for Store.
	Disks export.Disks

	// Jobs receives queued jobs.
	Jobs export.JobSubmitter

	// Registry describes exporters for Queue and rebuilds them in RunJob.
	Registry *export.Registry

	// Responder writes responses for Respond and Handler. Default: FileResponder.
	Responder Responder

	// Metrics observes delivery calls.
	Metrics Recorder

	// Tracer records a span per delivery call. Default: tracing.Noop().
	Tracer *tracing.Tracer

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Dispatcher delivers exports. It holds no per-call state and is safe for
// concurrent use.
type Dispatcher struct {
	defaultFormat export.Format
	tempDir       string
	writer        *writer.Writer

	disks     export.Disks
	jobs      export.JobSubmitter
	registry  *export.Registry
	responder Responder
	metrics   Recorder
	tracer    *tracing.Tracer
	logger    *slog.Logger
}

// New creates a Dispatcher. A nil cfg uses the defaults.
func New(cfg *Config, deps Deps) *Dispatcher {
	if cfg == nil {
		cfg = &Config{}
	}

	d := &Dispatcher{
		defaultFormat: cfg.DefaultFormat,
		tempDir:       cfg.TempDir,
		writer:        cfg.Writer,
		disks:         deps.Disks,
		jobs:          deps.Jobs,
		registry:      deps.Registry,
		responder:     deps.Responder,
		metrics:       deps.Metrics,
		tracer:        deps.Tracer,
		logger:        deps.Logger,
	}
	if !d.defaultFormat.Valid() {
		d.defaultFormat = export.DefaultFormat
	}
	if d.writer == nil {
		d.writer = writer.New(nil)
	}
	if d.responder == nil {
		d.responder = FileResponder{}
	}
	if d.tracer == nil {
		d.tracer = tracing.Noop()
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("component", "export.dispatch")

	return d
}

// request is the transient per-call resolution of an export.
type request struct {
	mode     string
	name     string
	format   export.Format
	header   http.Header
	declared export.Declared

	path        string
	disk        string
	diskOptions export.DiskOptions
}

// resolve computes the format of a call. nameHint is an explicit file name or
// destination path used for extension inference; without one the declared
// file name is used.
func (d *Dispatcher) resolve(declared export.Declared, mode, nameHint string, explicit export.Format) (*request, error) {
	fallback := declared.WriterType
	if !fallback.Valid() {
		fallback = d.defaultFormat
	}

	inferFrom := nameHint
	if inferFrom == "" {
		inferFrom = declared.FileName
	}

	format, err := export.ResolveFormat(explicit, inferFrom, fallback)
	if err != nil {
		return nil, err
	}

	return &request{
		mode:     mode,
		format:   format,
		declared: declared,
	}, nil
}

// encode runs the exporter through the writer into sink.
func (d *Dispatcher) encode(ctx context.Context, e export.Exporter, req *request, sink io.Writer) (writer.Outcome, error) {
	rows, err := e.Rows(ctx)
	if err != nil {
		return writer.Outcome{}, fmt.Errorf("failed to open rows: %w", err)
	}
	return d.write(rows, req, sink)
}

// write encodes already opened rows. rows is closed on every path.
func (d *Dispatcher) write(rows export.Rows, req *request, sink io.Writer) (writer.Outcome, error) {
	return d.writer.Write(rows, req.format, sink, writer.Options{
		Headings: req.declared.Headings,
		Title:    req.declared.Title,
		CSV:      req.declared.CSV,
	})
}

// startSpan starts the span of a delivery call.
func (d *Dispatcher) startSpan(ctx context.Context, mode string) (context.Context, trace.Span) {
	return d.tracer.Start(ctx, "export."+mode, trace.WithAttributes(tracing.AttrMode.String(mode)))
}

// observe logs, records and ends the span of a delivery call.
func (d *Dispatcher) observe(ctx context.Context, span trace.Span, req *request, mode string, out writer.Outcome, start time.Time, err error) {
	duration := time.Since(start)

	var format string
	if req != nil {
		format = string(req.format)
		span.SetAttributes(tracing.AttrFormat.String(format))
		if req.name != "" {
			span.SetAttributes(tracing.AttrName.String(req.name))
		}
		if req.path != "" {
			span.SetAttributes(tracing.AttrPath.String(req.path), tracing.AttrDisk.String(req.disk))
		}
	}
	span.SetAttributes(tracing.AttrRows.Int(out.Rows), tracing.AttrBytes.Int64(out.Bytes))
	tracing.End(span, err)

	if d.metrics != nil {
		d.metrics.RecordExport(mode, format, out.Rows, out.Bytes, duration, err)
	}

	if req != nil && req.name != "" {
		ctx = logging.WithExportName(ctx, req.name)
	}
	if err != nil {
		d.logger.ErrorContext(ctx, "Export failed",
			"mode", mode,
			"format", format,
			"error", err,
		)
		return
	}
	d.logger.InfoContext(ctx, "Export delivered",
		"mode", mode,
		"format", format,
		"rows", out.Rows,
		"bytes", out.Bytes,
		"duration_ms", duration.Milliseconds(),
	)
}

// Raw encodes the export into memory. An explicit format wins; otherwise
// the declared file name, WriterType and engine default apply.
func (d *Dispatcher) Raw(ctx context.Context, e export.Exporter, format export.Format) (data []byte, err error) {
	start := time.Now()
	var (
		req *request
		out writer.Outcome
	)
	ctx, span := d.startSpan(ctx, ModeRaw)
	defer func() { d.observe(ctx, span, req, ModeRaw, out, start, err) }()

	req, err = d.resolve(export.Inspect(e), ModeRaw, "", format)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	out, err = d.encode(ctx, e, req, &buf)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
