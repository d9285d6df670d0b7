package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tabula/pkg/config"
)

// ExportMetrics tracks delivery calls.
//
// Metrics:
//   - tabula_export_exports_total: Delivery calls by mode, format, status
//   - tabula_export_duration_seconds: Delivery duration histogram
//   - tabula_export_rows: Rows encoded per export
//   - tabula_export_bytes: Bytes produced per export
type ExportMetrics struct {
	exportsTotal *prometheus.CounterVec
	duration     *prometheus.HistogramVec
	rows         *prometheus.HistogramVec
	bytes        *prometheus.HistogramVec
}

// NewExportMetrics creates and registers export metrics with the provided registry.
func NewExportMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ExportMetrics {
	em := &ExportMetrics{
		exportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "exports_total",
				Help:      "Total number of export delivery calls",
			},
			[]string{"mode", "format", "status"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "duration_seconds",
				Help:      "Duration of export delivery calls in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"mode", "format"},
		),

		rows: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "rows",
				Help:      "Number of data rows encoded per export",
				Buckets:   cfg.RowBuckets,
			},
			[]string{"format"},
		),

		bytes: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "bytes",
				Help:      "Size of encoded exports in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10), // 1KB to 256MB
			},
			[]string{"format"},
		),
	}

	registry.MustRegister(
		em.exportsTotal,
		em.duration,
		em.rows,
		em.bytes,
	)

	return em
}

// Record records one delivery call. Size histograms only see successful
// encodes.
func (em *ExportMetrics) Record(mode, format, status string, rows int, bytes int64, duration time.Duration) {
	em.exportsTotal.WithLabelValues(mode, format, status).Inc()
	em.duration.WithLabelValues(mode, format).Observe(duration.Seconds())

	if status == "success" && bytes > 0 {
		em.rows.WithLabelValues(format).Observe(float64(rows))
		em.bytes.WithLabelValues(format).Observe(float64(bytes))
	}
}
