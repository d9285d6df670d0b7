// Package tracing provides OpenTelemetry tracing for tabula.
//
// A Tracer wraps an OTLP gRPC exporter and a sampler built from
// config.TracingConfig. When tracing is disabled the Tracer is a no-op, so
// components can always hold one:
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "export.store")
//	defer span.End()
//
// Trace context crosses process boundaries in two places: HTTP requests carry
// W3C traceparent headers (Extract), and queued jobs carry a string map
// (Inject and ExtractMap) so a worker's span joins the trace that submitted
// the job.
package tracing
