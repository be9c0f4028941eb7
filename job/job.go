package job

import (
	"time"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StatePending means the job is waiting to be claimed by a worker.
	// A pending job whose RunAt is in the future is invisible to claims
	// until that time passes.
	StatePending State = "pending"
	// StateClaimed means a worker has won the claim but execution has
	// not yet begun. Claim is an atomic compare-and-set from pending.
	StateClaimed State = "claimed"
	// StateProcessing means a worker is executing the job.
	StateProcessing State = "processing"
	// StateCompleted means the job finished successfully. Terminal.
	StateCompleted State = "completed"
	// StateFailed means the job failed permanently. Terminal.
	StateFailed State = "failed"
)

// Terminal reports whether the state accepts no further transitions.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Priority orders jobs for claiming. Higher priorities are always
// claimed before lower ones; within a band, earliest enqueue wins.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name to a Priority. Unknown names
// map to PriorityMedium.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	default:
		return PriorityMedium
	}
}

// Transition records one state change in the job's history.
type Transition struct {
	From State     `json:"from"`
	To   State     `json:"to"`
	At   time.Time `json:"at"`
}

// AttemptRecord is one retry decision, appended whenever an execution
// attempt fails. The list is append-only and kept for audit.
type AttemptRecord struct {
	Attempt        int                    `json:"attempt"`
	At             time.Time              `json:"at"`
	Classification failure.Classification `json:"classification"`
	Delay          time.Duration          `json:"delay"`
	Retried        bool                   `json:"retried"`
}

// Job represents one unit of scheduled work wrapping a validated editing
// recipe. The payload is immutable once accepted; only state, attempt
// bookkeeping, and timestamps mutate, and only through the scheduler.
type Job struct {
	darkroom.Entity

	ID       id.JobID  `json:"id"`
	Payload  []byte    `json:"payload"`
	Priority Priority  `json:"priority"`
	State    State     `json:"state"`

	WorkerID id.WorkerID `json:"worker_id,omitempty"`

	// Attempts counts completed execution attempts.
	Attempts int `json:"attempts"`

	// LastClassification is the classification of the most recent failure.
	LastClassification *failure.Classification `json:"last_classification,omitempty"`
	LastError          string                  `json:"last_error,omitempty"`

	// Result is the payload reported by a successful attempt.
	Result []byte `json:"result,omitempty"`

	// RunAt is the next-eligible time: claims skip the job until then.
	RunAt time.Time `json:"run_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// AttemptLog is the append-only retry decision audit trail.
	AttemptLog []AttemptRecord `json:"attempt_log,omitempty"`

	// History is the append-only record of state transitions.
	History []Transition `json:"history,omitempty"`
}

// Terminal reports whether the job is in a terminal state.
func (j *Job) Terminal() bool { return j.State.Terminal() }

// Transition moves the job to a new state and appends the change to the
// history. It does not persist; callers own durability.
func (j *Job) Transition(to State, at time.Time) {
	j.History = append(j.History, Transition{From: j.State, To: to, At: at})
	j.State = to
	j.UpdatedAt = at
}
