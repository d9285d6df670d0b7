package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/tabula/pkg/config"
)

// JobMetrics tracks background export jobs.
//
// Metrics:
//   - tabula_export_jobs_submitted_total: Jobs handed to the job system
//   - tabula_export_jobs_running: Jobs currently executing
//   - tabula_export_jobs_finished_total: Jobs by terminal state
//   - tabula_export_job_duration_seconds: Job run time histogram
type JobMetrics struct {
	submittedTotal prometheus.Counter
	running        prometheus.Gauge
	finishedTotal  *prometheus.CounterVec
	duration       prometheus.Histogram
}

// NewJobMetrics creates and registers job metrics with the provided registry.
func NewJobMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *JobMetrics {
	jm := &JobMetrics{
		submittedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "jobs_submitted_total",
			Help:      "Total number of export jobs submitted",
		}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "jobs_running",
			Help:      "Number of export jobs currently running",
		}),
		finishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "jobs_finished_total",
				Help:      "Total number of export jobs by terminal state",
			},
			[]string{"state"},
		),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.Namespace,
			Subsystem: cfg.Subsystem,
			Name:      "job_duration_seconds",
			Help:      "Run time of export jobs in seconds",
			Buckets:   cfg.DurationBuckets,
		}),
	}

	registry.MustRegister(jm.submittedTotal, jm.running, jm.finishedTotal, jm.duration)
	return jm
}

// RecordSubmitted increments the submitted counter.
func (jm *JobMetrics) RecordSubmitted() {
	jm.submittedTotal.Inc()
}

// RecordStarted increments the running gauge.
func (jm *JobMetrics) RecordStarted() {
	jm.running.Inc()
}

// RecordFinished decrements the running gauge and records the outcome.
func (jm *JobMetrics) RecordFinished(state string, duration time.Duration) {
	jm.running.Dec()
	jm.finishedTotal.WithLabelValues(state).Inc()
	jm.duration.Observe(duration.Seconds())
}

// ScheduleMetrics tracks cron schedule runs.
type ScheduleMetrics struct {
	runsTotal *prometheus.CounterVec
}

// NewScheduleMetrics creates and registers schedule metrics with the provided registry.
func NewScheduleMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ScheduleMetrics {
	sm := &ScheduleMetrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "schedule_runs_total",
				Help:      "Total number of schedule runs by outcome",
			},
			[]string{"schedule", "status"},
		),
	}
	registry.MustRegister(sm.runsTotal)
	return sm
}

// Record records one schedule run.
func (sm *ScheduleMetrics) Record(schedule, status string) {
	sm.runsTotal.WithLabelValues(schedule, status).Inc()
}

// HTTPMetrics tracks served HTTP requests.
type HTTPMetrics struct {
	requestsTotal *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// NewHTTPMetrics creates and registers HTTP metrics with the provided registry.
func NewHTTPMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *HTTPMetrics {
	hm := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests served",
			},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   cfg.DurationBuckets,
			},
			[]string{"route"},
		),
	}
	registry.MustRegister(hm.requestsTotal, hm.duration)
	return hm
}

// Record records one request.
func (hm *HTTPMetrics) Record(route, method string, status int, duration time.Duration) {
	hm.requestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	hm.duration.WithLabelValues(route).Observe(duration.Seconds())
}
