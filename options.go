package darkroom

import (
	"context"
	"log/slog"
	"time"
)

// Option configures an Engine.
type Option func(*Engine) error

// Storer is the minimal store interface held by the Engine. It covers
// lifecycle operations only. The full composite interface (store.Store)
// is used in subsystem layers that don't create import cycles.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for subsystem lifecycle (worker pool,
// schedule runner).
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// shutdownEmitter is an internal interface for lifecycle hook fan-out.
type shutdownEmitter interface {
	EmitShutdown(ctx context.Context)
}

// Engine is the central coordinator for job processing and recurring
// schedules.
//
// Create one with New() and functional options, then wire the
// subsystems with Build() from the darkroom/engine package. The Engine
// holds subsystem components through internal interfaces to avoid
// import cycles.
type Engine struct {
	config Config
	logger *slog.Logger
	store  Storer
	hooks  shutdownEmitter
	pool   runner
	sched  runner

	// started tracks whether Start has been called.
	started bool
}

// New creates a new Engine with the given options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		return nil, ErrNoStore
	}
	return e, nil
}

// Logger returns the engine's logger.
func (e *Engine) Logger() *slog.Logger { return e.logger }

// Store returns the engine's store.
func (e *Engine) Store() Storer { return e.store }

// Config returns a copy of the engine's configuration.
func (e *Engine) Config() Config { return e.config }

// SetPool sets the worker pool (called by the engine package).
func (e *Engine) SetPool(p runner) { e.pool = p }

// SetScheduleRunner sets the recurring schedule runner (called by the
// engine package).
func (e *Engine) SetScheduleRunner(r runner) { e.sched = r }

// SetHooks sets the lifecycle hook emitter (called by the engine
// package).
func (e *Engine) SetHooks(h shutdownEmitter) { e.hooks = h }

// Start begins claiming and processing jobs and firing due schedules.
func (e *Engine) Start(ctx context.Context) error {
	if e.pool == nil {
		return ErrNoProcessFunc
	}
	if err := e.pool.Start(ctx); err != nil {
		return err
	}
	if e.sched != nil {
		if err := e.sched.Start(ctx); err != nil {
			return err
		}
	}
	e.started = true
	return nil
}

// Stop gracefully shuts down the engine, bounded by the configured
// shutdown timeout.
func (e *Engine) Stop(ctx context.Context) error {
	if e.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancel()
	}
	if e.sched != nil && e.started {
		if err := e.sched.Stop(ctx); err != nil {
			e.logger.Error("schedule runner stop error", "error", err)
		}
	}
	if e.pool != nil && e.started {
		if err := e.pool.Stop(ctx); err != nil {
			e.logger.Error("pool stop error", "error", err)
		}
	}
	if e.hooks != nil {
		e.hooks.EmitShutdown(ctx)
	}
	if e.store != nil {
		return e.store.Close()
	}
	return nil
}

// WithStore sets the persistence backend. The store must implement
// Storer at minimum; typically it is a store.Store which embeds the job
// and schedule store interfaces.
func WithStore(s Storer) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithConfig replaces the entire configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) error {
		e.config = c
		return nil
	}
}

// WithConcurrency sets the number of worker loops claiming jobs.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how long a blocking claim waits before
// re-checking time-gated eligibility.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.PollInterval = d
		return nil
	}
}

// WithShutdownTimeout bounds graceful shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.ShutdownTimeout = d
		return nil
	}
}

// WithMaxAttempts sets the retry ceiling for backoff-classified
// failures.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) error {
		e.config.MaxAttempts = n
		return nil
	}
}

// WithRetryDelays sets the base and maximum delay for exponential
// backoff.
func WithRetryDelays(base, maxDelay time.Duration) Option {
	return func(e *Engine) error {
		e.config.RetryBaseDelay = base
		e.config.RetryMaxDelay = maxDelay
		return nil
	}
}

// WithBusBufferSize sets the per-subscriber event buffer size.
func WithBusBufferSize(n int) Option {
	return func(e *Engine) error {
		e.config.BusBufferSize = n
		return nil
	}
}
