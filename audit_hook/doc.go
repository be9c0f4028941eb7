// Package audithook is an extension that bridges job lifecycle events
// to an append-only audit trail backend.
//
// Every lifecycle hook emits a structured audit event through the
// [Recorder] interface. The extension assigns severity levels (info for
// normal operations, warning for retries, critical for terminal
// failures) and attaches metadata such as the priority band, the worker
// ID, elapsed time, and the failure classification.
//
// Progress updates are deliberately not audited: they can arrive many
// times per second and belong in the live feed, not the trail.
//
// # Usage
//
//	trail := audithook.New(audithook.RecorderFunc(func(ctx context.Context, evt *audithook.AuditEvent) error {
//	    return trailStore.Append(ctx, evt)
//	}))
//	rt, err := engine.Build(eng,
//	    engine.WithProcessFunc(develop),
//	    engine.WithExtension(trail),
//	)
//
// # Selective filtering
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobFailed,
//	        audithook.ActionJobRetryScheduled,
//	    ),
//	)
package audithook
