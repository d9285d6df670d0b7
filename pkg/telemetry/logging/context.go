package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// RequestIDKey is the context key for request IDs.
	RequestIDKey contextKey = "request_id"

	// JobIDKey is the context key for queued job IDs.
	JobIDKey contextKey = "job_id"

	// ExportNameKey is the context key for resolved export names.
	ExportNameKey contextKey = "export_name"

	// DatasetKey is the context key for configured dataset names.
	DatasetKey contextKey = "dataset"

	// ScheduleKey is the context key for schedule names.
	ScheduleKey contextKey = "schedule"
)

// fieldKeys is the order in which context fields are emitted.
var fieldKeys = []contextKey{RequestIDKey, JobIDKey, ExportNameKey, DatasetKey, ScheduleKey}

// WithRequestID adds a request ID to the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	return getString(ctx, RequestIDKey)
}

// WithJobID adds a job ID to the context.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, JobIDKey, jobID)
}

// GetJobID retrieves the job ID from the context.
func GetJobID(ctx context.Context) string {
	return getString(ctx, JobIDKey)
}

// WithExportName adds an export name to the context.
func WithExportName(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ExportNameKey, name)
}

// GetExportName retrieves the export name from the context.
func GetExportName(ctx context.Context) string {
	return getString(ctx, ExportNameKey)
}

// WithDataset adds a dataset name to the context.
func WithDataset(ctx context.Context, dataset string) context.Context {
	return context.WithValue(ctx, DatasetKey, dataset)
}

// GetDataset retrieves the dataset name from the context.
func GetDataset(ctx context.Context) string {
	return getString(ctx, DatasetKey)
}

// WithSchedule adds a schedule name to the context.
func WithSchedule(ctx context.Context, schedule string) context.Context {
	return context.WithValue(ctx, ScheduleKey, schedule)
}

func getString(ctx context.Context, key contextKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// extractContextFields extracts common fields from context for logging.
func extractContextFields(ctx context.Context) []slog.Attr {
	var fields []slog.Attr
	for _, key := range fieldKeys {
		if v := getString(ctx, key); v != "" {
			fields = append(fields, slog.String(string(key), v))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields, slog.String("trace_id", sc.TraceID().String()))
	}
	return fields
}

// contextHandler adds context fields to every record.
type contextHandler struct {
	next slog.Handler
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if fields := extractContextFields(ctx); len(fields) > 0 {
		r = r.Clone()
		r.AddAttrs(fields...)
	}
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs)}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	return &contextHandler{next: h.next.WithGroup(name)}
}
