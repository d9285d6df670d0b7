package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/telemetry/logging"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// statusTimeout bounds status writes made after a job's context ended.
const statusTimeout = 5 * time.Second

// Recorder observes the job lifecycle.
type Recorder interface {
	RecordJobSubmitted()
	RecordJobStarted()
	RecordJobFinished(state export.JobState, duration time.Duration)
}

// ChainHandler runs a chained follow-up after the job's export was stored.
type ChainHandler func(ctx context.Context, job *export.Job, stored *export.StoredFile, payload json.RawMessage) error

// Config contains configuration for the worker pool.
type Config struct {
	// Workers is the number of concurrent workers.
	// Default: 2
	Workers int

	// JobTimeout bounds a single job including its chained follow-ups.
	// Zero means no limit.
	JobTimeout time.Duration
}

// ConfigFrom converts the file configuration.
func ConfigFrom(cfg *config.QueueConfig) *Config {
	return &Config{
		Workers:    cfg.Workers,
		JobTimeout: cfg.JobTimeout,
	}
}

// Queue submits jobs to a Transport and runs them on a pool of workers.
// It implements export.JobSubmitter.
type Queue struct {
	config    *Config
	transport Transport
	status    StatusStore
	metrics   Recorder
	tracer    *tracing.Tracer
	logger    *slog.Logger

	mu      sync.RWMutex
	chains  map[string]ChainHandler
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a queue that owns transport and status and closes both on
// Shutdown. Workers only start with Start, so a process may submit jobs that
// other processes execute.
func New(cfg *Config, transport Transport, status StatusStore) *Queue {
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = config.DefaultQueueWorkers
	}
	if status == nil {
		status = NewMemoryStatusStore()
	}

	return &Queue{
		config:    cfg,
		transport: transport,
		status:    status,
		chains:    make(map[string]ChainHandler),
		tracer:    tracing.Noop(),
		logger:    slog.Default().With("component", "export.queue"),
	}
}

// SetMetrics installs a lifecycle recorder. It must be called before Start.
func (q *Queue) SetMetrics(m Recorder) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.metrics = m
}

// SetTracer installs the tracer used for job spans and for carrying trace
// context through the transport. It must be called before Start.
func (q *Queue) SetTracer(t *tracing.Tracer) {
	if t == nil {
		t = tracing.Noop()
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tracer = t
}

func (q *Queue) getTracer() *tracing.Tracer {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.tracer
}

// HandleChain registers the handler for chained jobs named name.
func (q *Queue) HandleChain(name string, h ChainHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.chains[name] = h
}

func (q *Queue) chain(name string) (ChainHandler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.chains[name]
	return h, ok
}

func (q *Queue) recorder() Recorder {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.metrics
}

// Submit records the job as submitted and pushes it to the transport.
func (q *Queue) Submit(ctx context.Context, job *export.Job) (*export.QueuedJob, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	if err := job.Validate(); err != nil {
		return nil, err
	}

	traced := *job
	traced.Trace = q.getTracer().Inject(ctx)
	data, err := export.MarshalJob(&traced)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if err := q.status.Save(ctx, newStatus(job, export.JobSubmitted, now)); err != nil {
		return nil, err
	}

	if err := q.transport.Push(ctx, data); err != nil {
		st := newStatus(job, export.JobFailed, time.Now().UTC())
		st.Error = err.Error()
		q.saveStatus(ctx, st)
		return nil, err
	}

	if m := q.recorder(); m != nil {
		m.RecordJobSubmitted()
	}
	q.logger.DebugContext(logging.WithJobID(ctx, job.ID), "Job submitted",
		"exporter", job.ExporterKey,
		"path", job.Path,
		"disk", job.Disk,
	)

	return &export.QueuedJob{
		ID:          job.ID,
		Job:         job,
		State:       export.JobSubmitted,
		SubmittedAt: now,
	}, nil
}

// Status returns the current status of a job.
func (q *Queue) Status(ctx context.Context, id string) (*export.JobStatus, error) {
	return q.status.Get(ctx, id)
}

// List returns the most recently updated job statuses.
func (q *Queue) List(ctx context.Context, limit int) ([]*export.JobStatus, error) {
	return q.status.List(ctx, limit)
}

// Prune removes finished job statuses older than retention.
func (q *Queue) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, nil
	}
	return q.status.Prune(ctx, time.Now().Add(-retention))
}

// Start launches the workers. Jobs are executed by runner.
func (q *Queue) Start(ctx context.Context, runner export.JobRunner) error {
	if runner == nil {
		return fmt.Errorf("job runner cannot be nil")
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return fmt.Errorf("queue already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.running = true

	for i := 0; i < q.config.Workers; i++ {
		q.wg.Add(1)
		go q.worker(runCtx, i, runner)
	}

	q.logger.Info("Job workers started",
		"workers", q.config.Workers,
		"job_timeout", q.config.JobTimeout,
	)
	return nil
}

// IsRunning reports whether the workers are started.
func (q *Queue) IsRunning() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.running
}

// Check reports whether the queue can accept and track jobs. Transports
// with a Ping method are pinged; the status store is probed with a read.
func (q *Queue) Check(ctx context.Context) error {
	if p, ok := q.transport.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("transport: %w", err)
		}
	}
	if _, err := q.status.List(ctx, 1); err != nil {
		return fmt.Errorf("status store: %w", err)
	}
	return nil
}

// Shutdown closes the transport and waits for the workers. Jobs buffered in
// an in-process transport are still executed. When ctx ends first, running
// jobs are cancelled and ctx's error is returned.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.logger.Info("Shutting down job queue")

	if err := q.transport.Close(); err != nil {
		q.logger.Warn("Failed to close transport", "error", err)
	}

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	q.mu.Lock()
	if q.cancel != nil {
		q.cancel()
	}
	q.running = false
	q.mu.Unlock()

	if err != nil {
		<-done
	}

	if cerr := q.status.Close(); cerr != nil {
		q.logger.Warn("Failed to close status store", "error", cerr)
	}

	q.logger.Info("Job queue shut down")
	return err
}

// worker pops jobs until the transport is closed or ctx is cancelled.
func (q *Queue) worker(ctx context.Context, id int, runner export.JobRunner) {
	defer q.wg.Done()
	logger := q.logger.With("worker", id)

	for {
		data, err := q.transport.Pop(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return
			}
			logger.Error("Failed to receive job", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		q.process(ctx, runner, data)
	}
}

// process runs a single encoded job and records its outcome.
func (q *Queue) process(ctx context.Context, runner export.JobRunner, data []byte) {
	job, err := export.UnmarshalJob(data)
	if err != nil {
		q.logger.Error("Discarding undecodable job", "error", err)
		return
	}

	ctx = logging.WithJobID(ctx, job.ID)
	tracer := q.getTracer()
	ctx, span := tracer.Start(tracer.ExtractMap(ctx, job.Trace), "export.job",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			tracing.AttrJobID.String(job.ID),
			tracing.AttrJobExporter.String(job.ExporterKey),
		),
	)
	start := time.Now()

	q.saveStatus(ctx, newStatus(job, export.JobRunning, start.UTC()))
	m := q.recorder()
	if m != nil {
		m.RecordJobStarted()
	}

	stored, err := q.execute(ctx, runner, job)
	duration := time.Since(start)

	st := newStatus(job, export.JobCompleted, time.Now().UTC())
	st.Result = stored
	if err != nil {
		st.State = export.JobFailed
		st.Error = err.Error()
	}
	span.SetAttributes(tracing.AttrJobState.String(string(st.State)))
	tracing.End(span, err)

	q.saveStatus(ctx, st)
	if m != nil {
		m.RecordJobFinished(st.State, duration)
	}

	if err != nil {
		q.logger.ErrorContext(ctx, "Job failed",
			"exporter", job.ExporterKey,
			"path", job.Path,
			"duration_ms", duration.Milliseconds(),
			"error", err,
		)
		return
	}
	q.logger.InfoContext(ctx, "Job completed",
		"exporter", job.ExporterKey,
		"path", stored.Path,
		"disk", stored.Disk,
		"bytes", stored.Size,
		"duration_ms", duration.Milliseconds(),
	)
}

// execute stores the export and runs the chained follow-ups in order.
func (q *Queue) execute(ctx context.Context, runner export.JobRunner, job *export.Job) (stored *export.StoredFile, err error) {
	if q.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.config.JobTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	stored, err = runner.RunJob(ctx, job)
	if err != nil {
		return nil, err
	}

	for _, c := range job.Chain {
		h, ok := q.chain(c.Name)
		if !ok {
			return stored, fmt.Errorf("chained job %q: %w", c.Name, ErrUnknownChain)
		}
		if err := h(ctx, job, stored, c.Payload); err != nil {
			return stored, fmt.Errorf("chained job %q failed: %w", c.Name, err)
		}
	}
	return stored, nil
}

// saveStatus writes st even when ctx was already cancelled.
func (q *Queue) saveStatus(ctx context.Context, st *export.JobStatus) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), statusTimeout)
	defer cancel()

	if err := q.status.Save(ctx, st); err != nil {
		q.logger.ErrorContext(ctx, "Failed to save job status",
			"state", st.State,
			"error", err,
		)
	}
}

func newStatus(job *export.Job, state export.JobState, at time.Time) *export.JobStatus {
	return &export.JobStatus{
		ID:        job.ID,
		State:     state,
		Path:      job.Path,
		Disk:      job.Disk,
		Format:    job.Format,
		CreatedAt: job.CreatedAt,
		UpdatedAt: at,
	}
}
