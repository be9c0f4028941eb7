package middleware

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
)

// Recover returns middleware that recovers from panics in the process
// chain. Panics surface as unknown-condition failures and are logged
// with a stack trace. They never escape the worker goroutine.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())
				logger.Error("process func panicked",
					slog.String("job_id", j.ID.String()),
					slog.Any("panic", r),
					slog.String("stack", stack),
				)
				retErr = failure.New(failure.CondUnknown, "panic during processing")
			}
		}()
		return next(ctx)
	}
}
