package job

import (
	"context"
	"time"

	"github.com/darkroomhq/darkroom/id"
)

// ListOpts controls pagination for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs.
//
// ClaimJob is the linearization point of the whole engine: no two callers
// may ever receive the same job, however many claim concurrently.
type Store interface {
	// CreateJob persists a new job in pending state.
	// Returns ErrJobAlreadyExists if the ID is taken.
	CreateJob(ctx context.Context, j *Job) error

	// ClaimJob atomically claims the best eligible pending job: RunAt not
	// after now, ordered by priority descending then enqueue time
	// ascending. The winning job moves to claimed state with the worker
	// recorded. Returns (nil, nil) when no job is eligible.
	ClaimJob(ctx context.Context, workerID id.WorkerID, now time.Time) (*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state, newest first.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)
}
