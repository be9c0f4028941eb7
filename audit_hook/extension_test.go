package audithook_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	audithook "github.com/darkroomhq/darkroom/audit_hook"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
)

// memRecorder collects audit events in memory.
type memRecorder struct {
	mu     sync.Mutex
	events []*audithook.AuditEvent
	err    error
}

func (r *memRecorder) Record(_ context.Context, evt *audithook.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, evt)
	return nil
}

func (r *memRecorder) all() []*audithook.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*audithook.AuditEvent(nil), r.events...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func classify(cond failure.Condition) failure.Classification {
	return failure.NewClassifier(nil).Classify(failure.New(cond, "test"))
}

func testJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Priority: job.PriorityHigh,
		State:    job.StatePending,
		WorkerID: id.NewWorkerID(),
		RunAt:    time.Now().UTC(),
	}
}

func TestJobCreatedEvent(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	j := testJob()
	if err := ext.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Action != audithook.ActionJobCreated {
		t.Errorf("Action = %q, want %q", evt.Action, audithook.ActionJobCreated)
	}
	if evt.Resource != audithook.ResourceJob {
		t.Errorf("Resource = %q, want %q", evt.Resource, audithook.ResourceJob)
	}
	if evt.ResourceID != j.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, j.ID.String())
	}
	if evt.Severity != audithook.SeverityInfo {
		t.Errorf("Severity = %q, want %q", evt.Severity, audithook.SeverityInfo)
	}
	if evt.Outcome != audithook.OutcomeSuccess {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, audithook.OutcomeSuccess)
	}
	if evt.Metadata["priority"] != "high" {
		t.Errorf("priority = %v, want high", evt.Metadata["priority"])
	}
}

func TestJobFailedEventCarriesClassification(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	j := testJob()
	j.State = job.StateFailed
	j.Attempts = 3
	j.LastError = "gpu at 104C"
	cl := classify(failure.CondThermalOverload)

	if err := ext.OnJobFailed(context.Background(), j, cl); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Severity != audithook.SeverityCritical {
		t.Errorf("Severity = %q, want %q", evt.Severity, audithook.SeverityCritical)
	}
	if evt.Outcome != audithook.OutcomeFailure {
		t.Errorf("Outcome = %q, want %q", evt.Outcome, audithook.OutcomeFailure)
	}
	if evt.Reason != "gpu at 104C" {
		t.Errorf("Reason = %q, want the last error", evt.Reason)
	}
	if evt.Metadata["condition"] != string(failure.CondThermalOverload) {
		t.Errorf("condition = %v, want %s", evt.Metadata["condition"], failure.CondThermalOverload)
	}
	if evt.Metadata["attempts"] != 3 {
		t.Errorf("attempts = %v, want 3", evt.Metadata["attempts"])
	}
}

func TestRetryScheduledEvent(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	j := testJob()
	j.LastError = "export pipe stalled"
	cl := classify(failure.CondRemoteSync)

	if err := ext.OnJobRetryScheduled(context.Background(), j, 2, 4*time.Second, cl); err != nil {
		t.Fatalf("OnJobRetryScheduled: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.Severity != audithook.SeverityWarning {
		t.Errorf("Severity = %q, want %q", evt.Severity, audithook.SeverityWarning)
	}
	if evt.Metadata["attempt"] != 2 {
		t.Errorf("attempt = %v, want 2", evt.Metadata["attempt"])
	}
	if evt.Metadata["delay_ms"] != int64(4000) {
		t.Errorf("delay_ms = %v, want 4000", evt.Metadata["delay_ms"])
	}
}

func TestWithActionsFiltersEvents(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec,
		audithook.WithLogger(testLogger()),
		audithook.WithActions(audithook.ActionJobFailed),
	)

	ctx := context.Background()
	j := testJob()
	if err := ext.OnJobCreated(ctx, j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if err := ext.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}
	if err := ext.OnJobFailed(ctx, j, classify(failure.CondUnknown)); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1 (only job.failed enabled)", len(events))
	}
	if events[0].Action != audithook.ActionJobFailed {
		t.Errorf("Action = %q, want %q", events[0].Action, audithook.ActionJobFailed)
	}
}

func TestRecorderErrorsDoNotPropagate(t *testing.T) {
	rec := &memRecorder{err: errors.New("trail store down")}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	if err := ext.OnJobCreated(context.Background(), testJob()); err != nil {
		t.Fatalf("recorder errors must not fail the hook: %v", err)
	}
}

func TestShutdownEvent(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	if err := ext.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Category != audithook.CategoryEngine {
		t.Errorf("Category = %q, want %q", events[0].Category, audithook.CategoryEngine)
	}
}

func TestAllActionsCoversEveryHook(t *testing.T) {
	rec := &memRecorder{}
	ext := audithook.New(rec, audithook.WithLogger(testLogger()))

	ctx := context.Background()
	j := testJob()
	cl := classify(failure.CondUnknown)

	if err := ext.OnJobCreated(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobStarted(ctx, j); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobCompleted(ctx, j, time.Second); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobRetryScheduled(ctx, j, 1, time.Second, cl); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnJobFailed(ctx, j, cl); err != nil {
		t.Fatal(err)
	}
	if err := ext.OnShutdown(ctx); err != nil {
		t.Fatal(err)
	}

	events := rec.all()
	if len(events) != len(audithook.AllActions()) {
		t.Fatalf("got %d events, want %d", len(events), len(audithook.AllActions()))
	}
	seen := make(map[string]bool, len(events))
	for _, evt := range events {
		seen[evt.Action] = true
	}
	for _, action := range audithook.AllActions() {
		if !seen[action] {
			t.Errorf("action %q never emitted", action)
		}
	}
}
