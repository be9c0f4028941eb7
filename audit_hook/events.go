package audithook

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionJobCreated        = "job.created"
	ActionJobStarted        = "job.started"
	ActionJobCompleted      = "job.completed"
	ActionJobRetryScheduled = "job.retry_scheduled"
	ActionJobFailed         = "job.failed"
	ActionShutdown          = "engine.shutdown"
)

// Audit event categories group related actions.
const (
	CategoryJob    = "darkroom.job"
	CategoryEngine = "darkroom.engine"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceJob    = "job"
	ResourceEngine = "engine"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobCreated,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobRetryScheduled,
		ActionJobFailed,
		ActionShutdown,
	}
}
