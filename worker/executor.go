// Package worker provides the job execution engine. An Executor runs a
// single attempt through middleware and the process func, and a Pool
// manages concurrent worker goroutines claiming jobs from the scheduler.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/middleware"
	"github.com/darkroomhq/darkroom/scheduler"
)

// ProgressFunc reports mid-attempt progress for a stage of the pipeline.
type ProgressFunc func(stage string, percent float64, message string)

// ProcessFunc executes one attempt of a job. On success it returns the
// result payload. On failure it returns the failure condition; a nil
// failure with a nil result is still a success. Implementations should
// watch ctx and abandon work promptly when it is cancelled.
type ProcessFunc func(ctx context.Context, j *job.Job, progress ProgressFunc) ([]byte, *failure.Failure)

// Executor runs a single job attempt through the middleware chain and
// reports the outcome to the scheduler.
type Executor struct {
	process ProcessFunc
	sched   *scheduler.Scheduler
	mw      middleware.Middleware
	logger  *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(
	process ProcessFunc,
	sched *scheduler.Scheduler,
	logger *slog.Logger,
	mws ...middleware.Middleware,
) *Executor {
	return &Executor{
		process: process,
		sched:   sched,
		mw:      middleware.Chain(mws...),
		logger:  logger,
	}
}

// Execute runs one attempt and reports its outcome. The returned error
// reflects reporting problems, not the attempt's own failure; a failed
// attempt that was reported cleanly returns nil.
func (e *Executor) Execute(ctx context.Context, j *job.Job) error {
	var result []byte

	progress := func(stage string, percent float64, message string) {
		e.sched.ReportProgress(ctx, j, stage, percent, message)
	}

	terminal := func(ctx context.Context) error {
		out, f := e.process(ctx, j, progress)
		if f != nil {
			return f
		}
		result = out
		return nil
	}

	err := e.mw(ctx, j, terminal)
	if err != nil {
		f := asFailure(err)
		if _, repErr := e.sched.ReportOutcome(ctx, j.ID, scheduler.Failed(f)); repErr != nil {
			e.logger.Error("failed to report attempt failure",
				slog.String("job_id", j.ID.String()),
				slog.String("error", repErr.Error()),
			)
			return repErr
		}
		return nil
	}

	if _, repErr := e.sched.ReportOutcome(ctx, j.ID, scheduler.Success(result)); repErr != nil {
		e.logger.Error("failed to report attempt success",
			slog.String("job_id", j.ID.String()),
			slog.String("error", repErr.Error()),
		)
		return repErr
	}
	return nil
}

// asFailure maps an attempt error to a failure condition. Anything that
// is not already a Failure is treated as unknown, which the classifier
// handles conservatively.
func asFailure(err error) *failure.Failure {
	var f *failure.Failure
	if errors.As(err, &f) {
		return f
	}
	return failure.New(failure.CondUnknown, "%s", err.Error())
}
