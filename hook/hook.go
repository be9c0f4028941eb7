// Package hook defines lifecycle hook interfaces and the registry that
// fans events out to them. Each hook is a separate interface so an
// extension opts in only to the events it cares about.
package hook

import (
	"context"
	"time"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// JobCreated is called after a job is accepted into the queue.
type JobCreated interface {
	OnJobCreated(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker wins the claim and begins executing.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when the execution collaborator reports progress.
// The engine passes it through verbatim; it computes nothing itself.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, stage string, percent float64, message string) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobRetryScheduled is called when a failed job is scheduled for retry.
type JobRetryScheduled interface {
	OnJobRetryScheduled(ctx context.Context, j *job.Job, attempt int, delay time.Duration, cl failure.Classification) error
}

// JobFailed is called when a job fails permanently (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, cl failure.Classification) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
