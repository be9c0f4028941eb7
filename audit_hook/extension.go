package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*Extension)(nil)
	_ hook.JobCreated        = (*Extension)(nil)
	_ hook.JobStarted        = (*Extension)(nil)
	_ hook.JobCompleted      = (*Extension)(nil)
	_ hook.JobRetryScheduled = (*Extension)(nil)
	_ hook.JobFailed         = (*Extension)(nil)
	_ hook.Shutdown          = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement. It is
// defined locally so callers can bridge to whatever trail store they
// run without this package importing it.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is the trail entry emitted for each lifecycle action.
type AuditEvent struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges job lifecycle events to an audit trail backend.
// Each lifecycle hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "audit-trail" }

// OnJobCreated implements hook.JobCreated.
func (e *Extension) OnJobCreated(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobCreated, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"priority", j.Priority.String(),
		"run_at", j.RunAt.Format(time.RFC3339),
	)
}

// OnJobStarted implements hook.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"priority", j.Priority.String(),
		"worker_id", j.WorkerID.String(),
		"attempt", j.Attempts+1,
	)
}

// OnJobCompleted implements hook.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, "",
		"priority", j.Priority.String(),
		"attempts", j.Attempts,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobRetryScheduled implements hook.JobRetryScheduled.
func (e *Extension) OnJobRetryScheduled(ctx context.Context, j *job.Job, attempt int, delay time.Duration, cl failure.Classification) error {
	return e.record(ctx, ActionJobRetryScheduled, SeverityWarning, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, j.LastError,
		"priority", j.Priority.String(),
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
		"condition", string(cl.Condition),
		"strategy", string(cl.Strategy),
	)
}

// OnJobFailed implements hook.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, cl failure.Classification) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure,
		ResourceJob, j.ID.String(), CategoryJob, j.LastError,
		"priority", j.Priority.String(),
		"attempts", j.Attempts,
		"condition", string(cl.Condition),
		"category", string(cl.Category),
		"severity", cl.Severity.String(),
		"strategy", string(cl.Strategy),
	)
}

// OnShutdown implements hook.Shutdown.
func (e *Extension) OnShutdown(ctx context.Context) error {
	return e.record(ctx, ActionShutdown, SeverityInfo, OutcomeSuccess,
		ResourceEngine, "", CategoryEngine, "")
}

// record builds and sends an audit event if the action is enabled.
// The kvPairs argument is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	reason string,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
