package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
)

// Collector is the main orchestrator for all Prometheus metrics in tabula.
// It manages metric registration and provides a unified interface for
// recording metrics across all components. A disabled collector accepts
// every call and records nothing.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	exportMetrics   *ExportMetrics
	jobMetrics      *JobMetrics
	scheduleMetrics *ScheduleMetrics
	httpMetrics     *HTTPMetrics

	// Cardinality tracking
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a new metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a new registry is created.
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	// Set defaults if not specified
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = config.DefaultDurationBuckets
	}
	if len(cfg.RowBuckets) == 0 {
		cfg.RowBuckets = config.DefaultRowBuckets
	}

	c := &Collector{
		config:             cfg,
		registry:           registry,
		cardinalityLimiter: NewCardinalityLimiter(1000),
	}

	c.exportMetrics = NewExportMetrics(cfg, registry)
	c.jobMetrics = NewJobMetrics(cfg, registry)
	c.scheduleMetrics = NewScheduleMetrics(cfg, registry)
	c.httpMetrics = NewHTTPMetrics(cfg, registry)

	return c
}

// Status classifies err into a low-cardinality status label.
func Status(err error) string {
	if err == nil {
		return "success"
	}

	var (
		unresolved   *export.UnresolvedFormatError
		noDest       *export.NoDestinationError
		encoding     *export.EncodingError
		ioErr        *export.IoError
		unregistered *export.UnregisteredExporterError
	)
	switch {
	case errors.As(err, &unresolved):
		return "unresolved_format"
	case errors.As(err, &noDest):
		return "no_destination"
	case errors.As(err, &encoding):
		return "encoding"
	case errors.As(err, &ioErr):
		return "io"
	case errors.As(err, &unregistered):
		return "unregistered"
	default:
		return "error"
	}
}

// RecordExport records one delivery call.
//
// Parameters:
//   - mode: Delivery mode ("download", "stream", "raw", "store", "queue")
//   - format: Resolved format, empty if resolution failed
//   - rows: Data rows encoded
//   - bytes: Bytes produced
//   - duration: Wall time of the call
//   - err: Result of the call
func (c *Collector) RecordExport(mode, format string, rows int, bytes int64, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}
	if format == "" {
		format = "unknown"
	}

	c.exportMetrics.Record(mode, format, Status(err), rows, bytes, duration)
}

// RecordJobSubmitted records a job handed to the job system.
func (c *Collector) RecordJobSubmitted() {
	if !c.config.Enabled {
		return
	}
	c.jobMetrics.RecordSubmitted()
}

// RecordJobStarted records a worker picking up a job.
func (c *Collector) RecordJobStarted() {
	if !c.config.Enabled {
		return
	}
	c.jobMetrics.RecordStarted()
}

// RecordJobFinished records a job reaching a terminal state.
func (c *Collector) RecordJobFinished(state export.JobState, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.jobMetrics.RecordFinished(string(state), duration)
}

// RecordScheduleRun records one cron schedule firing.
func (c *Collector) RecordScheduleRun(schedule string, err error) {
	if !c.config.Enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("schedule:" + schedule) {
		schedule = "other"
	}
	c.scheduleMetrics.Record(schedule, Status(err))
}

// RecordHTTPRequest records one served HTTP request.
func (c *Collector) RecordHTTPRequest(route, method string, status int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	if !c.cardinalityLimiter.Allow("route:" + route) {
		route = "other"
	}
	c.httpMetrics.Record(route, method, status, duration)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations per metric.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether a label set may be recorded. Known label sets are
// always allowed; new ones only while the limit has not been reached.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[labelSet]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
