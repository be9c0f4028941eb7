package hook_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/job"
)

// recorder implements every job hook and records the calls it receives.
type recorder struct {
	name  string
	calls []string
	err   error
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) OnJobCreated(_ context.Context, _ *job.Job) error {
	r.calls = append(r.calls, "created")
	return r.err
}

func (r *recorder) OnJobStarted(_ context.Context, _ *job.Job) error {
	r.calls = append(r.calls, "started")
	return r.err
}

func (r *recorder) OnJobProgress(_ context.Context, _ *job.Job, stage string, _ float64, _ string) error {
	r.calls = append(r.calls, "progress:"+stage)
	return r.err
}

func (r *recorder) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	r.calls = append(r.calls, "completed")
	return r.err
}

func (r *recorder) OnJobRetryScheduled(_ context.Context, _ *job.Job, _ int, _ time.Duration, _ failure.Classification) error {
	r.calls = append(r.calls, "retry")
	return r.err
}

func (r *recorder) OnJobFailed(_ context.Context, _ *job.Job, _ failure.Classification) error {
	r.calls = append(r.calls, "failed")
	return r.err
}

func (r *recorder) OnShutdown(_ context.Context) error {
	r.calls = append(r.calls, "shutdown")
	return r.err
}

// startedOnly opts in to a single hook.
type startedOnly struct {
	started int
}

func (s *startedOnly) Name() string { return "started-only" }

func (s *startedOnly) OnJobStarted(_ context.Context, _ *job.Job) error {
	s.started++
	return nil
}

func TestRegistry_EmitsToAllHooks(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	rec := &recorder{name: "recorder"}
	reg.Register(rec)

	ctx := context.Background()
	j := &job.Job{}
	cl := failure.Classification{Category: failure.CategoryIO}

	reg.EmitJobCreated(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobProgress(ctx, j, "tone-curve", 50, "halfway")
	reg.EmitJobCompleted(ctx, j, time.Second)
	reg.EmitJobRetryScheduled(ctx, j, 1, time.Second, cl)
	reg.EmitJobFailed(ctx, j, cl)
	reg.EmitShutdown(ctx)

	want := []string{"created", "started", "progress:tone-curve", "completed", "retry", "failed", "shutdown"}
	if len(rec.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", rec.calls, want)
	}
	for i, call := range want {
		if rec.calls[i] != call {
			t.Errorf("call[%d] = %q, want %q", i, rec.calls[i], call)
		}
	}
}

func TestRegistry_PartialImplementation(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	s := &startedOnly{}
	reg.Register(s)

	ctx := context.Background()
	j := &job.Job{}

	// Only the started emit should reach the extension; the others must
	// be no-ops rather than panics.
	reg.EmitJobCreated(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobCompleted(ctx, j, 0)

	if s.started != 1 {
		t.Errorf("started count = %d, want 1", s.started)
	}
}

func TestRegistry_HookErrorsDoNotPropagate(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	failing := &recorder{name: "failing", err: errors.New("hook exploded")}
	after := &recorder{name: "after"}
	reg.Register(failing)
	reg.Register(after)

	reg.EmitJobStarted(context.Background(), &job.Job{})

	// The failing hook must not prevent delivery to later extensions.
	if len(after.calls) != 1 {
		t.Errorf("second extension calls = %v, want exactly one", after.calls)
	}
}

func TestRegistry_RegistrationOrderPreserved(t *testing.T) {
	reg := hook.NewRegistry(slog.Default())
	a := &recorder{name: "a"}
	b := &recorder{name: "b"}
	reg.Register(a)
	reg.Register(b)

	exts := reg.Extensions()
	if len(exts) != 2 || exts[0].Name() != "a" || exts[1].Name() != "b" {
		t.Errorf("extensions out of order: %v", exts)
	}
}
