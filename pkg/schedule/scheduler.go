package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/dataset"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/dispatch"
	"mercator-hq/tabula/pkg/telemetry/logging"
	"mercator-hq/tabula/pkg/telemetry/tracing"
)

// Queuer submits queued exports. *dispatch.Dispatcher implements it.
type Queuer interface {
	Queue(ctx context.Context, e export.Exporter, opts dispatch.QueueOptions) (*export.QueuedJob, error)
}

// Pruner removes finished job statuses. *queue.Queue implements it.
type Pruner interface {
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// Recorder observes schedule runs.
type Recorder interface {
	RecordScheduleRun(schedule string, err error)
}

// Entry describes a registered schedule.
type Entry struct {
	Name    string
	Dataset string
	Cron    string
	Next    time.Time
}

type entry struct {
	id     cron.EntryID
	config config.ScheduleConfig
}

// Scheduler runs export schedules with robfig/cron.
type Scheduler struct {
	queuer  Queuer
	catalog *dataset.Catalog
	metrics Recorder
	tracer  *tracing.Tracer
	cron    *cron.Cron
	logger  *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]entry
	pruneID cron.EntryID
	running bool
}

// New creates a scheduler queuing exports of catalog datasets through queuer.
func New(queuer Queuer, catalog *dataset.Catalog) *Scheduler {
	return &Scheduler{
		queuer:  queuer,
		catalog: catalog,
		tracer:  tracing.Noop(),
		cron:    cron.New(),
		logger:  slog.Default().With("component", "schedule"),
		now:     time.Now,
		ctx:     context.Background(),
		entries: make(map[string]entry),
	}
}

// SetMetrics installs a run recorder.
func (s *Scheduler) SetMetrics(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = r
}

// SetTracer installs the tracer starting one root span per schedule run.
func (s *Scheduler) SetTracer(t *tracing.Tracer) {
	if t == nil {
		t = tracing.Noop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracer = t
}

// Apply replaces every export schedule. Expressions are validated first, so
// an invalid set leaves the current entries untouched.
func (s *Scheduler) Apply(schedules []config.ScheduleConfig) error {
	for _, sc := range schedules {
		if _, err := cron.ParseStandard(sc.Cron); err != nil {
			return fmt.Errorf("schedule %q: invalid cron expression %q: %w", sc.Name, sc.Cron, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for name, e := range s.entries {
		s.cron.Remove(e.id)
		delete(s.entries, name)
	}

	for _, sc := range schedules {
		if sc.Name == "" {
			sc.Name = sc.Dataset
		}
		id, err := s.cron.AddFunc(sc.Cron, func() {
			s.fire(sc)
		})
		if err != nil {
			return fmt.Errorf("failed to schedule %q: %w", sc.Name, err)
		}
		s.entries[sc.Name] = entry{id: id, config: sc}
	}

	s.logger.Info("Export schedules applied", "count", len(schedules))
	return nil
}

// AddPruning prunes finished job statuses older than retention on spec.
// An empty spec or a zero retention disables pruning.
func (s *Scheduler) AddPruning(spec string, retention time.Duration, p Pruner) error {
	if spec == "" || retention <= 0 {
		s.logger.Info("Job status pruning not configured, skipping")
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid prune schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pruneID != 0 {
		s.cron.Remove(s.pruneID)
	}
	id, err := s.cron.AddFunc(spec, func() {
		s.prune(p, retention)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	s.pruneID = id
	return nil
}

// Start begins running entries. The scheduler stops when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.ctx = ctx
	s.cron.Start()
	s.running = true

	s.logger.Info("Scheduler started", "schedules", len(s.entries))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop stops the scheduler and waits for running entries to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("Scheduler stopped")
}

// IsRunning reports whether the scheduler was started and not stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Entries returns the export schedules sorted by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, e := range s.entries {
		out = append(out, Entry{
			Name:    name,
			Dataset: e.config.Dataset,
			Cron:    e.config.Cron,
			Next:    s.cron.Entry(e.id).Next,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// NextRun returns the next run of the named schedule, or nil if unknown or
// not started.
func (s *Scheduler) NextRun(name string) *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[name]
	if !ok {
		return nil
	}
	next := s.cron.Entry(e.id).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// RunNow queues the named schedule immediately.
func (s *Scheduler) RunNow(ctx context.Context, name string) (*export.QueuedJob, error) {
	s.mu.Lock()
	e, ok := s.entries[name]
	s.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("unknown schedule %q", name)
	}
	return s.run(ctx, e.config)
}

func (s *Scheduler) fire(sc config.ScheduleConfig) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.run(ctx, sc)
}

// run queues one export of the schedule's dataset.
func (s *Scheduler) run(ctx context.Context, sc config.ScheduleConfig) (job *export.QueuedJob, err error) {
	s.mu.Lock()
	tracer := s.tracer
	s.mu.Unlock()

	ctx = logging.WithSchedule(ctx, sc.Name)
	ctx, span := tracer.Start(ctx, "export.schedule", trace.WithAttributes(
		tracing.AttrSchedule.String(sc.Name),
		tracing.AttrDataset.String(sc.Dataset),
	))
	defer func() {
		tracing.End(span, err)

		s.mu.Lock()
		m := s.metrics
		s.mu.Unlock()
		if m != nil {
			m.RecordScheduleRun(sc.Name, err)
		}
		if err != nil {
			s.logger.ErrorContext(ctx, "Scheduled export failed", "dataset", sc.Dataset, "error", err)
		}
	}()

	e, err := s.catalog.Exporter(sc.Dataset)
	if err != nil {
		return nil, err
	}

	var format export.Format
	if sc.Format != "" {
		if format, err = export.ParseFormat(sc.Format); err != nil {
			return nil, err
		}
	}

	path := sc.Path
	if path == "" {
		path = e.FilePath()
	}

	job, err = s.queuer.Queue(ctx, e, dispatch.QueueOptions{
		Path:   ExpandPath(path, s.now()),
		Disk:   sc.Disk,
		Format: format,
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(logging.WithJobID(ctx, job.ID), "Scheduled export queued",
		"dataset", sc.Dataset,
		"path", job.Job.Path,
	)
	return job, nil
}

func (s *Scheduler) prune(p Pruner, retention time.Duration) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	n, err := p.Prune(ctx, retention)
	if err != nil {
		s.logger.Error("Job status pruning failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("Job statuses pruned", "deleted_count", n)
	} else {
		s.logger.Debug("Job status pruning completed, nothing to delete")
	}
}

var layoutPattern = regexp.MustCompile(`\{([^{}]+)\}`)

// ExpandPath replaces every {layout} in path with t formatted by that Go time
// layout.
func ExpandPath(path string, t time.Time) string {
	return layoutPattern.ReplaceAllStringFunc(path, func(m string) string {
		return t.Format(m[1 : len(m)-1])
	})
}
