package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
)

// EnqueueFunc is the callback the runner uses to enqueue jobs.
// The engine provides the implementation, which keeps this package
// free of a scheduler dependency.
type EnqueueFunc func(ctx context.Context, payload []byte, priority job.Priority) (id.JobID, error)

// cronParser supports standard 5-field cron and descriptors like "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSpec parses a cron expression.
func ParseSpec(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithTickInterval sets how often the runner checks for due entries.
func WithTickInterval(d time.Duration) RunnerOption {
	return func(r *Runner) { r.tickInterval = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// Runner evaluates schedule entries on a tick loop and enqueues a job
// for each due entry.
type Runner struct {
	store   Store
	enqueue EnqueueFunc
	logger  *slog.Logger

	tickInterval time.Duration
	now          func() time.Time

	// parsed caches parsed cron expressions keyed by spec string.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRunner creates a Runner.
func NewRunner(store Store, enqueue EnqueueFunc, logger *slog.Logger, opts ...RunnerOption) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runner{
		store:        store,
		enqueue:      enqueue,
		logger:       logger,
		tickInterval: time.Second,
		now:          func() time.Time { return time.Now().UTC() },
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates and persists a schedule entry, computing its first
// run time from the spec.
func (r *Runner) Register(ctx context.Context, name, spec string, payload []byte, priority job.Priority) (*Entry, error) {
	sched, err := ParseSpec(spec)
	if err != nil {
		return nil, fmt.Errorf("darkroom/schedule: parse spec %q: %w", spec, err)
	}

	now := r.now()
	next := sched.Next(now)
	entry := &Entry{
		ID:        id.NewScheduleID(),
		Name:      name,
		Spec:      spec,
		Payload:   payload,
		Priority:  priority,
		NextRunAt: &next,
		Enabled:   true,
	}
	entry.CreatedAt = now
	entry.UpdatedAt = now

	if err := r.store.CreateSchedule(ctx, entry); err != nil {
		return nil, err
	}
	r.cacheSchedule(spec, sched)

	r.logger.Info("schedule registered",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", name),
		slog.String("spec", spec),
		slog.Time("next_run_at", next),
	)
	return entry, nil
}

// Start launches the tick goroutine. It returns immediately.
func (r *Runner) Start(_ context.Context) error {
	r.wg.Add(1)
	go r.tickLoop()
	r.logger.Info("schedule runner started", slog.Duration("tick_interval", r.tickInterval))
	return nil
}

// Stop signals the runner to stop and waits for the tick loop to finish.
func (r *Runner) Stop(_ context.Context) error {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info("schedule runner stopped")
	return nil
}

func (r *Runner) tickLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Tick(context.Background())
		}
	}
}

// Tick fires every due entry once. Exported so tests can drive the
// runner without the tick goroutine.
func (r *Runner) Tick(ctx context.Context) {
	entries, err := r.store.ListSchedules(ctx)
	if err != nil {
		r.logger.Error("list schedules", slog.String("error", err.Error()))
		return
	}

	now := r.now()
	for _, entry := range entries {
		if !entry.Enabled || entry.NextRunAt == nil || entry.NextRunAt.After(now) {
			continue
		}
		r.fire(ctx, entry, now)
	}
}

func (r *Runner) fire(ctx context.Context, entry *Entry, now time.Time) {
	sched, err := r.scheduleFor(entry.Spec)
	if err != nil {
		r.logger.Error("invalid schedule spec",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("spec", entry.Spec),
			slog.String("error", err.Error()),
		)
		return
	}

	jobID, err := r.enqueue(ctx, entry.Payload, entry.Priority)
	if err != nil {
		r.logger.Error("schedule enqueue failed",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("name", entry.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	last := now
	next := sched.Next(now)
	entry.LastRunAt = &last
	entry.NextRunAt = &next

	if err := r.store.UpdateSchedule(ctx, entry); err != nil {
		r.logger.Error("schedule update failed",
			slog.String("schedule_id", entry.ID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	r.logger.Info("schedule fired",
		slog.String("schedule_id", entry.ID.String()),
		slog.String("name", entry.Name),
		slog.String("job_id", jobID.String()),
		slog.Time("next_run_at", next),
	)
}

func (r *Runner) scheduleFor(spec string) (cronlib.Schedule, error) {
	r.parsedMu.RLock()
	sched, ok := r.parsed[spec]
	r.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	r.cacheSchedule(spec, sched)
	return sched, nil
}

func (r *Runner) cacheSchedule(spec string, sched cronlib.Schedule) {
	r.parsedMu.Lock()
	r.parsed[spec] = sched
	r.parsedMu.Unlock()
}
