// Package scheduler owns the job lifecycle: admission, claiming, and
// outcome handling. All state transitions flow through it, so lifecycle
// hooks observe every change and the store never sees an illegal move.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/recipe"
	"github.com/darkroomhq/darkroom/retry"
)

// Scheduler coordinates job admission, claiming, and outcome reporting
// against a job.Store. It is safe for concurrent use.
type Scheduler struct {
	store      job.Store
	classifier *failure.Classifier
	policy     *retry.Policy
	hooks      *hook.Registry
	logger     *slog.Logger

	pollInterval time.Duration
	now          func() time.Time

	// wake is signalled when a job becomes claimable so blocked
	// AwaitNext callers retry before their poll interval elapses.
	wake chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithPollInterval sets the fallback poll interval for AwaitNext.
func WithPollInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.pollInterval = d }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New creates a Scheduler.
func New(
	store job.Store,
	classifier *failure.Classifier,
	policy *retry.Policy,
	hooks *hook.Registry,
	logger *slog.Logger,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		store:        store,
		classifier:   classifier,
		policy:       policy,
		hooks:        hooks,
		logger:       logger,
		pollInterval: 500 * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EnqueueOption configures a single Enqueue call.
type EnqueueOption func(*enqueueOptions)

type enqueueOptions struct {
	jobID id.JobID
	runAt time.Time
}

// WithJobID supplies a caller-assigned job ID. Resubmitting an ID whose
// job is not yet terminal is a no-op returning the existing job; a
// terminal ID starts a fresh job under a new ID.
func WithJobID(jobID id.JobID) EnqueueOption {
	return func(o *enqueueOptions) { o.jobID = jobID }
}

// WithRunAt delays the job's first claim eligibility.
func WithRunAt(at time.Time) EnqueueOption {
	return func(o *enqueueOptions) { o.runAt = at }
}

// Enqueue validates the recipe payload and admits it as a pending job.
// Invalid payloads are rejected before any state is created.
func (s *Scheduler) Enqueue(ctx context.Context, payload []byte, priority job.Priority, opts ...EnqueueOption) (*job.Job, error) {
	var o enqueueOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec, err := recipe.Parse(payload)
	if err != nil {
		return nil, fmt.Errorf("darkroom/scheduler: reject payload: %w", err)
	}
	if verr := recipe.Validate(rec); verr != nil {
		return nil, fmt.Errorf("darkroom/scheduler: reject payload: %w", verr)
	}

	jobID := o.jobID
	if !jobID.IsNil() {
		existing, getErr := s.store.GetJob(ctx, jobID)
		switch {
		case getErr == nil && !existing.Terminal():
			// Resubmission of an in-flight job is a no-op.
			return existing, nil
		case getErr == nil:
			// Terminal jobs are retained; a resubmit starts over
			// under a fresh identity.
			jobID = id.NewJobID()
		case !errors.Is(getErr, darkroom.ErrJobNotFound):
			return nil, getErr
		}
	} else {
		jobID = id.NewJobID()
	}

	now := s.now()
	runAt := o.runAt
	if runAt.IsZero() {
		runAt = now
	}

	j := &job.Job{
		ID:       jobID,
		Payload:  payload,
		Priority: priority,
		State:    job.StatePending,
		RunAt:    runAt,
	}
	j.CreatedAt = now
	j.UpdatedAt = now

	if err := s.store.CreateJob(ctx, j); err != nil {
		// A concurrent resubmit can slip past the lookup above and
		// lose the create race; hand back the winner's job.
		if errors.Is(err, darkroom.ErrJobAlreadyExists) && !o.jobID.IsNil() {
			existing, getErr := s.store.GetJob(ctx, j.ID)
			if getErr == nil && !existing.Terminal() {
				return existing, nil
			}
		}
		return nil, err
	}

	s.hooks.EmitJobCreated(ctx, j)
	s.signal()

	s.logger.Debug("job enqueued",
		slog.String("job_id", j.ID.String()),
		slog.String("priority", j.Priority.String()),
	)
	return j, nil
}

// ClaimNext attempts to claim the highest-priority eligible pending job
// for the given worker. It returns (nil, nil) when nothing is claimable.
// A returned job is already in the processing state with StartedAt set.
func (s *Scheduler) ClaimNext(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	j, err := s.store.ClaimJob(ctx, workerID, s.now())
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, nil
	}

	now := s.now()
	j.Transition(job.StateProcessing, now)
	j.StartedAt = &now
	if err := s.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	s.hooks.EmitJobStarted(ctx, j)
	return j, nil
}

// AwaitNext blocks until a job is claimed or the context is cancelled.
// It wakes on enqueue and retry signals, falling back to the poll
// interval for jobs whose retry delay elapses with no new signal.
func (s *Scheduler) AwaitNext(ctx context.Context, workerID id.WorkerID) (*job.Job, error) {
	for {
		j, err := s.ClaimNext(ctx, workerID)
		if err != nil {
			return nil, err
		}
		if j != nil {
			return j, nil
		}

		timer := time.NewTimer(s.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Outcome is the result of one execution attempt.
type Outcome struct {
	// Result is the success payload. Nil on failure.
	Result []byte

	// Failure is the reported failure condition. Nil on success.
	Failure *failure.Failure
}

// Success builds a successful outcome.
func Success(result []byte) Outcome { return Outcome{Result: result} }

// Failed builds a failed outcome.
func Failed(f *failure.Failure) Outcome { return Outcome{Failure: f} }

// ReportOutcome applies an attempt's outcome to the job. Success moves
// it to completed. Failure classifies the condition, consults the retry
// policy, and either requeues the job with a delay or fails it
// permanently. Terminal jobs reject further reports.
func (s *Scheduler) ReportOutcome(ctx context.Context, jobID id.JobID, outcome Outcome) (*job.Job, error) {
	j, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Terminal() {
		return nil, fmt.Errorf("darkroom/scheduler: report on %s: %w", jobID, darkroom.ErrJobTerminal)
	}
	if j.State != job.StateProcessing {
		return nil, fmt.Errorf("darkroom/scheduler: report on %s in state %s: %w", jobID, j.State, darkroom.ErrInvalidTransition)
	}

	if outcome.Failure == nil {
		return s.complete(ctx, j, outcome.Result)
	}
	return s.fail(ctx, j, outcome.Failure)
}

func (s *Scheduler) complete(ctx context.Context, j *job.Job, result []byte) (*job.Job, error) {
	now := s.now()
	j.Result = result
	j.Transition(job.StateCompleted, now)
	j.CompletedAt = &now

	if err := s.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	var elapsed time.Duration
	if j.StartedAt != nil {
		elapsed = now.Sub(*j.StartedAt)
	}
	s.hooks.EmitJobCompleted(ctx, j, elapsed)

	s.logger.Info("job completed",
		slog.String("job_id", j.ID.String()),
		slog.Duration("elapsed", elapsed),
	)
	return j, nil
}

func (s *Scheduler) fail(ctx context.Context, j *job.Job, f *failure.Failure) (*job.Job, error) {
	cl := s.classifier.Classify(f)
	now := s.now()

	j.Attempts++
	j.LastClassification = &cl
	j.LastError = f.Error()

	decision := s.policy.Decide(j, cl)

	if decision.Retry {
		j.WorkerID = id.ID{}
		j.StartedAt = nil
		j.RunAt = now.Add(decision.Delay)
		j.Transition(job.StatePending, now)

		if err := s.store.UpdateJob(ctx, j); err != nil {
			return nil, err
		}

		s.hooks.EmitJobRetryScheduled(ctx, j, j.Attempts, decision.Delay, cl)
		s.signal()

		s.logger.Info("job retry scheduled",
			slog.String("job_id", j.ID.String()),
			slog.String("condition", string(cl.Condition)),
			slog.Int("attempt", j.Attempts),
			slog.Duration("delay", decision.Delay),
		)
		return j, nil
	}

	if cl.Strategy == failure.DegradeAndContinue {
		// The run produced usable output despite the failure. The job
		// finishes as completed; LastClassification and the attempt log
		// carry the degradation for anyone inspecting the result.
		j.Transition(job.StateCompleted, now)
		j.CompletedAt = &now

		if err := s.store.UpdateJob(ctx, j); err != nil {
			return nil, err
		}

		var elapsed time.Duration
		if j.StartedAt != nil {
			elapsed = now.Sub(*j.StartedAt)
		}
		s.hooks.EmitJobCompleted(ctx, j, elapsed)

		s.logger.Warn("job completed degraded",
			slog.String("job_id", j.ID.String()),
			slog.String("condition", string(cl.Condition)),
			slog.Int("attempts", j.Attempts),
		)
		return j, nil
	}

	j.Transition(job.StateFailed, now)
	j.CompletedAt = &now

	if err := s.store.UpdateJob(ctx, j); err != nil {
		return nil, err
	}

	s.hooks.EmitJobFailed(ctx, j, cl)

	s.logger.Warn("job failed permanently",
		slog.String("job_id", j.ID.String()),
		slog.String("condition", string(cl.Condition)),
		slog.String("category", string(cl.Category)),
		slog.String("severity", cl.Severity.String()),
		slog.Int("attempts", j.Attempts),
	)
	return j, nil
}

// ReportProgress relays mid-attempt progress to the lifecycle hooks.
// Progress is advisory and never touches persisted state.
func (s *Scheduler) ReportProgress(ctx context.Context, j *job.Job, stage string, percent float64, message string) {
	s.hooks.EmitJobProgress(ctx, j, stage, percent, message)
}

// Get returns a job by ID.
func (s *Scheduler) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// List returns jobs in the given state, newest first.
func (s *Scheduler) List(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	return s.store.ListJobsByState(ctx, state, opts)
}

// Counts returns per-state job counts.
func (s *Scheduler) Counts(ctx context.Context) (map[job.State]int64, error) {
	counts := make(map[job.State]int64, 5)
	for _, state := range []job.State{
		job.StatePending, job.StateClaimed, job.StateProcessing,
		job.StateCompleted, job.StateFailed,
	} {
		n, err := s.store.CountJobs(ctx, job.CountOpts{State: state})
		if err != nil {
			return nil, err
		}
		counts[state] = n
	}
	return counts, nil
}

// signal wakes one blocked AwaitNext caller. Non-blocking; a pending
// signal is enough, claiming drains the queue.
func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
