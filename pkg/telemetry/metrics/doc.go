// Package metrics provides Prometheus metrics collection for tabula.
//
// # Metrics Categories
//
//   - Export Metrics: exports by delivery mode, format and status; duration,
//     row and byte histograms
//   - Job Metrics: submitted, running and finished background jobs
//   - Schedule Metrics: cron schedule runs by outcome
//   - HTTP Metrics: requests served by route and status class
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//
//	collector.RecordExport("store", "csv", 1200, 48213, 350*time.Millisecond, nil)
//	collector.RecordJobFinished(export.JobCompleted, 2*time.Second)
//
//	http.Handle("/metrics", collector.Handler())
//
// # Status Labels
//
// Errors are classified by their type so dashboards can tell caller mistakes
// from infrastructure failures:
//
//	success, unresolved_format, no_destination, encoding, io, unregistered, error
//
// # Cardinality Management
//
// Route and schedule labels pass through a CardinalityLimiter. Label sets
// beyond the limit are aggregated into "other".
package metrics
