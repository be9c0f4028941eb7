package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/backoff"
	"github.com/darkroomhq/darkroom/bus"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/fairness"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	mw "github.com/darkroomhq/darkroom/middleware"
	"github.com/darkroomhq/darkroom/observability"
	"github.com/darkroomhq/darkroom/retry"
	"github.com/darkroomhq/darkroom/schedule"
	"github.com/darkroomhq/darkroom/scheduler"
	"github.com/darkroomhq/darkroom/worker"
)

// Runtime is a fully wired Darkroom instance: the root Engine plus
// typed access to every subsystem. Use Build() to create one.
type Runtime struct {
	e        *darkroom.Engine
	hooks    *hook.Registry
	sched    *scheduler.Scheduler
	pool     *worker.Pool
	broker   *bus.Broker
	runner   *schedule.Runner
	metrics  *observability.MetricsExtension
	jobStore job.Store
	logger   *slog.Logger

	// Build-time inputs.
	process worker.ProcessFunc
	mws     []mw.Middleware
	bo      backoff.Strategy
	exts    []hook.Extension
	limiter worker.Limiter
}

// Option configures a Runtime.
type Option func(*Runtime)

// WithProcessFunc sets the function that executes one job attempt.
// Required: Build fails without it.
func WithProcessFunc(fn worker.ProcessFunc) Option {
	return func(rt *Runtime) { rt.process = fn }
}

// WithMiddleware appends middleware to the execution chain, after the
// default stack.
func WithMiddleware(m mw.Middleware) Option {
	return func(rt *Runtime) { rt.mws = append(rt.mws, m) }
}

// WithBackoff sets the retry backoff strategy. If not set, exponential
// backoff with jitter over the configured delay bounds is used.
func WithBackoff(b backoff.Strategy) Option {
	return func(rt *Runtime) { rt.bo = b }
}

// WithExtension registers an additional lifecycle hook extension.
func WithExtension(e hook.Extension) Option {
	return func(rt *Runtime) { rt.exts = append(rt.exts, e) }
}

// WithMetricsExtension replaces the default Prometheus metrics
// extension, e.g. to supply a custom registry.
func WithMetricsExtension(m *observability.MetricsExtension) Option {
	return func(rt *Runtime) { rt.metrics = m }
}

// WithFairness installs per-priority rate limits and concurrency caps
// on the worker pool. Bands not listed run unlimited.
func WithFairness(configs ...fairness.Config) Option {
	return func(rt *Runtime) { rt.limiter = fairness.NewManager(configs...) }
}

// Build wires a Runtime from an existing Engine. The Engine's store
// must implement job.Store; if it also implements schedule.Store, the
// recurring schedule runner is wired as well.
func Build(e *darkroom.Engine, opts ...Option) (*Runtime, error) {
	logger := e.Logger()
	store := e.Store()

	if store == nil {
		return nil, darkroom.ErrNoStore
	}
	js, ok := store.(job.Store)
	if !ok {
		return nil, fmt.Errorf("darkroom: store does not implement job.Store")
	}

	rt := &Runtime{
		e:        e,
		jobStore: js,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(rt)
	}
	if rt.process == nil {
		return nil, darkroom.ErrNoProcessFunc
	}

	cfg := e.Config()
	if rt.bo == nil {
		rt.bo = backoff.NewExponentialWithJitter(cfg.RetryBaseDelay, cfg.RetryMaxDelay)
	}
	if rt.metrics == nil {
		rt.metrics = observability.NewMetricsExtension()
	}

	rt.hooks = hook.NewRegistry(logger)
	rt.broker = bus.NewBroker(logger, bus.WithBufferSize(cfg.BusBufferSize))
	rt.hooks.Register(rt.broker)
	rt.hooks.Register(rt.metrics)
	for _, ext := range rt.exts {
		rt.hooks.Register(ext)
	}

	classifier := failure.NewClassifier(nil)
	policy := retry.NewPolicy(
		retry.WithMaxAttempts(cfg.MaxAttempts),
		retry.WithLimitedAttempts(cfg.LimitedAttempts),
		retry.WithBackoff(rt.bo),
	)
	rt.sched = scheduler.New(js, classifier, policy, rt.hooks, logger,
		scheduler.WithPollInterval(cfg.PollInterval),
	)

	// Default chain: recover → tracing → metrics → logging. User
	// middleware runs innermost, closest to the process function.
	allMws := make([]mw.Middleware, 0, 4+len(rt.mws))
	allMws = append(allMws,
		mw.Recover(logger),
		mw.Tracing(),
		mw.Metrics(),
		mw.Logging(logger),
	)
	allMws = append(allMws, rt.mws...)

	executor := worker.NewExecutor(rt.process, rt.sched, logger, allMws...)
	poolOpts := []worker.PoolOption{worker.WithConcurrency(cfg.Concurrency)}
	if rt.limiter != nil {
		poolOpts = append(poolOpts, worker.WithLimiter(rt.limiter))
	}
	rt.pool = worker.NewPool(rt.sched, executor, logger, poolOpts...)

	e.SetPool(rt.pool)
	e.SetHooks(rt.hooks)

	if ss, sok := store.(schedule.Store); sok {
		enqueue := func(ctx context.Context, payload []byte, priority job.Priority) (id.JobID, error) {
			j, err := rt.sched.Enqueue(ctx, payload, priority)
			if err != nil {
				return id.JobID{}, err
			}
			return j.ID, nil
		}
		rt.runner = schedule.NewRunner(ss, enqueue, logger)
		e.SetScheduleRunner(rt.runner)
	}

	return rt, nil
}

// Start delegates to the root Engine.
func (rt *Runtime) Start(ctx context.Context) error { return rt.e.Start(ctx) }

// Stop delegates to the root Engine.
func (rt *Runtime) Stop(ctx context.Context) error { return rt.e.Stop(ctx) }

// Enqueue validates the recipe payload and admits it as a pending job.
func (rt *Runtime) Enqueue(ctx context.Context, payload []byte, priority job.Priority, opts ...scheduler.EnqueueOption) (*job.Job, error) {
	return rt.sched.Enqueue(ctx, payload, priority, opts...)
}

// Job retrieves a job by ID.
func (rt *Runtime) Job(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return rt.sched.Get(ctx, jobID)
}

// Counts returns the number of jobs in each state.
func (rt *Runtime) Counts(ctx context.Context) (map[job.State]int64, error) {
	return rt.sched.Counts(ctx)
}

// Subscribe attaches a subscriber to the event bus.
func (rt *Runtime) Subscribe(subscriberID string, topics ...string) *bus.Subscriber {
	return rt.broker.Subscribe(subscriberID, topics...)
}

// Unsubscribe removes a subscriber from the event bus entirely.
func (rt *Runtime) Unsubscribe(subscriberID string) {
	rt.broker.RemoveSubscriber(subscriberID)
}

// Scheduler returns the job scheduler.
func (rt *Runtime) Scheduler() *scheduler.Scheduler { return rt.sched }

// Broker returns the event bus broker.
func (rt *Runtime) Broker() *bus.Broker { return rt.broker }

// ScheduleRunner returns the recurring schedule runner, or nil when the
// store has no schedule support.
func (rt *Runtime) ScheduleRunner() *schedule.Runner { return rt.runner }

// Hooks returns the lifecycle hook registry.
func (rt *Runtime) Hooks() *hook.Registry { return rt.hooks }

// Pool returns the worker pool.
func (rt *Runtime) Pool() *worker.Pool { return rt.pool }

// Metrics returns the Prometheus metrics extension.
func (rt *Runtime) Metrics() *observability.MetricsExtension { return rt.metrics }
