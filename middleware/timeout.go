package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/darkroomhq/darkroom/job"
)

// Timeout returns middleware that enforces a per-attempt execution
// deadline. When the deadline is exceeded the context is cancelled and
// the process func should return a failure promptly. A zero duration
// disables the deadline.
func Timeout(d time.Duration, logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if d > 0 {
			logger.Debug("attempt deadline set",
				slog.String("job_id", j.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
