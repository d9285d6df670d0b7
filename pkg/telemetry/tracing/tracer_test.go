package tracing

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/tabula/pkg/config"
)

func newTestTracer(t *testing.T, sampler string) (*Tracer, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tr, err := NewWithExporter(&config.TracingConfig{
		Enabled:     true,
		Sampler:     sampler,
		SampleRatio: 1,
		ServiceName: "tabula-test",
	}, "test", exporter)
	if err != nil {
		t.Fatalf("NewWithExporter failed: %v", err)
	}
	t.Cleanup(func() { tr.Shutdown(context.Background()) })
	return tr, exporter
}

func TestNew_Disabled(t *testing.T) {
	tr, err := New(&config.TracingConfig{Enabled: false}, "test")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tr.Enabled() {
		t.Error("disabled config should yield a disabled tracer")
	}

	ctx, span := tr.Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("noop tracer should not create valid spans")
	}
	End(span, nil)
	if TraceID(ctx) != "" {
		t.Error("noop span should not carry a trace ID")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestNew_NilConfig(t *testing.T) {
	if _, err := New(nil, "test"); err == nil {
		t.Error("expected an error for a nil config")
	}
}

func TestNewWithExporter_Sampler(t *testing.T) {
	tests := []struct {
		sampler string
		ratio   float64
		wantErr bool
	}{
		{sampler: SamplerAlways},
		{sampler: SamplerNever},
		{sampler: SamplerRatio, ratio: 0.5},
		{sampler: SamplerRatio, ratio: 1.5, wantErr: true},
		{sampler: "sometimes", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.sampler, func(t *testing.T) {
			_, err := NewWithExporter(&config.TracingConfig{
				Sampler:     tt.sampler,
				SampleRatio: tt.ratio,
			}, "test", tracetest.NewInMemoryExporter())
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnd_RecordsStatus(t *testing.T) {
	tr, exporter := newTestTracer(t, SamplerAlways)
	ctx := context.Background()

	_, ok := tr.Start(ctx, "ok")
	End(ok, nil)
	_, failed := tr.Start(ctx, "failed")
	End(failed, errors.New("boom"))

	if err := tr.ForceFlush(ctx); err != nil {
		t.Fatalf("ForceFlush failed: %v", err)
	}
	spans := exporter.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("got %d spans, want 2", len(spans))
	}
	if spans[0].Status.Code != codes.Ok {
		t.Errorf("ok span status = %v", spans[0].Status.Code)
	}
	if spans[1].Status.Code != codes.Error || spans[1].Status.Description != "boom" {
		t.Errorf("failed span status = %+v", spans[1].Status)
	}
	if len(spans[1].Events) == 0 {
		t.Error("failed span should record the error as an event")
	}
}

func TestNeverSampler_FollowsSampledParent(t *testing.T) {
	tr, exporter := newTestTracer(t, SamplerNever)

	h := http.Header{}
	h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	ctx := tr.Extract(context.Background(), h)

	_, span := tr.Start(ctx, "child")
	End(span, nil)
	_, root := tr.Start(context.Background(), "root")
	End(root, nil)

	tr.ForceFlush(context.Background())
	spans := exporter.GetSpans()
	if len(spans) != 1 || spans[0].Name != "child" {
		t.Fatalf("expected only the child of the sampled parent, got %d spans", len(spans))
	}
}

func TestPropagation(t *testing.T) {
	tr, _ := newTestTracer(t, SamplerAlways)

	t.Run("http headers", func(t *testing.T) {
		h := http.Header{}
		h.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
		ctx := tr.Extract(context.Background(), h)
		if got := TraceID(ctx); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
			t.Errorf("TraceID = %q", got)
		}
	})

	t.Run("invalid header", func(t *testing.T) {
		h := http.Header{}
		h.Set("traceparent", "not-a-trace")
		if got := TraceID(tr.Extract(context.Background(), h)); got != "" {
			t.Errorf("TraceID = %q, want empty", got)
		}
	})

	t.Run("map round trip", func(t *testing.T) {
		ctx, span := tr.Start(context.Background(), "submit")
		defer span.End()

		carrier := tr.Inject(ctx)
		if carrier["traceparent"] == "" {
			t.Fatalf("carrier missing traceparent: %v", carrier)
		}

		restored := tr.ExtractMap(context.Background(), carrier)
		if TraceID(restored) != TraceID(ctx) {
			t.Errorf("trace ID = %q, want %q", TraceID(restored), TraceID(ctx))
		}
	})

	t.Run("no trace", func(t *testing.T) {
		if carrier := tr.Inject(context.Background()); carrier != nil {
			t.Errorf("Inject without a span = %v, want nil", carrier)
		}
		ctx := context.Background()
		if got := tr.ExtractMap(ctx, nil); got != ctx {
			t.Error("ExtractMap(nil) should return ctx unchanged")
		}
	})
}
