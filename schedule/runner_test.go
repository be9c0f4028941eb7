package schedule_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
	"github.com/darkroomhq/darkroom/store/memory"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// enqueueSpy records every enqueue the runner performs.
type enqueueSpy struct {
	mu    sync.Mutex
	calls []enqueueCall
	err   error
}

type enqueueCall struct {
	payload  []byte
	priority job.Priority
}

func (s *enqueueSpy) Fn() schedule.EnqueueFunc {
	return func(_ context.Context, payload []byte, priority job.Priority) (id.JobID, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.err != nil {
			return id.JobID{}, s.err
		}
		s.calls = append(s.calls, enqueueCall{payload: payload, priority: priority})
		return id.NewJobID(), nil
	}
}

func (s *enqueueSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRunner(t *testing.T) (*schedule.Runner, *memory.Store, *enqueueSpy, *fakeClock) {
	t.Helper()
	store := memory.New()
	spy := &enqueueSpy{}
	clock := newFakeClock()
	r := schedule.NewRunner(store, spy.Fn(), testLogger(), schedule.WithClock(clock.Now))
	return r, store, spy, clock
}

func TestParseSpec(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 3 * * 1", "@every 30s", "@hourly"} {
		if _, err := schedule.ParseSpec(expr); err != nil {
			t.Errorf("ParseSpec(%q) = %v, want nil", expr, err)
		}
	}
	for _, expr := range []string{"", "not a spec", "61 * * * *"} {
		if _, err := schedule.ParseSpec(expr); err == nil {
			t.Errorf("ParseSpec(%q) succeeded, want error", expr)
		}
	}
}

func TestRegister(t *testing.T) {
	r, store, _, clock := newTestRunner(t)
	ctx := context.Background()

	entry, err := r.Register(ctx, "nightly-batch", "0 3 * * *", []byte(`{"batch":true}`), job.PriorityLow)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !entry.Enabled {
		t.Error("expected new entry to be enabled")
	}
	if entry.NextRunAt == nil || !entry.NextRunAt.After(clock.Now()) {
		t.Errorf("NextRunAt = %v, want after %v", entry.NextRunAt, clock.Now())
	}

	stored, err := store.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if stored.Name != "nightly-batch" || stored.Spec != "0 3 * * *" {
		t.Errorf("stored entry = %q/%q", stored.Name, stored.Spec)
	}
}

func TestRegisterRejectsBadSpec(t *testing.T) {
	r, _, _, _ := newTestRunner(t)

	if _, err := r.Register(context.Background(), "bad", "every day at noon", nil, job.PriorityMedium); err == nil {
		t.Fatal("expected error for invalid spec")
	}
}

func TestTickFiresDueEntries(t *testing.T) {
	r, store, spy, clock := newTestRunner(t)
	ctx := context.Background()

	entry, err := r.Register(ctx, "proxy-refresh", "@every 1m", []byte(`{"proxies":true}`), job.PriorityHigh)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Not due yet.
	r.Tick(ctx)
	if spy.count() != 0 {
		t.Fatalf("enqueued %d jobs before due time", spy.count())
	}

	clock.Advance(61 * time.Second)
	r.Tick(ctx)
	if spy.count() != 1 {
		t.Fatalf("enqueued %d jobs, want 1", spy.count())
	}
	if spy.calls[0].priority != job.PriorityHigh {
		t.Errorf("priority = %v, want high", spy.calls[0].priority)
	}
	if string(spy.calls[0].payload) != `{"proxies":true}` {
		t.Errorf("payload = %s", spy.calls[0].payload)
	}

	updated, err := store.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if updated.LastRunAt == nil || !updated.LastRunAt.Equal(clock.Now()) {
		t.Errorf("LastRunAt = %v, want %v", updated.LastRunAt, clock.Now())
	}
	if updated.NextRunAt == nil || !updated.NextRunAt.After(clock.Now()) {
		t.Errorf("NextRunAt = %v, want after %v", updated.NextRunAt, clock.Now())
	}

	// Same tick boundary fires at most once.
	r.Tick(ctx)
	if spy.count() != 1 {
		t.Fatalf("entry fired again before next due time, count = %d", spy.count())
	}

	clock.Advance(61 * time.Second)
	r.Tick(ctx)
	if spy.count() != 2 {
		t.Fatalf("enqueued %d jobs after second interval, want 2", spy.count())
	}
}

func TestTickSkipsDisabledEntries(t *testing.T) {
	r, store, spy, clock := newTestRunner(t)
	ctx := context.Background()

	entry, err := r.Register(ctx, "paused-sync", "@every 1m", nil, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	entry.Enabled = false
	if err := store.UpdateSchedule(ctx, entry); err != nil {
		t.Fatalf("UpdateSchedule: %v", err)
	}

	clock.Advance(5 * time.Minute)
	r.Tick(ctx)
	if spy.count() != 0 {
		t.Fatalf("disabled entry fired %d times", spy.count())
	}
}

func TestTickKeepsEntryDueAfterEnqueueFailure(t *testing.T) {
	r, store, spy, clock := newTestRunner(t)
	ctx := context.Background()

	entry, err := r.Register(ctx, "flaky-export", "@every 1m", nil, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	clock.Advance(61 * time.Second)
	spy.err = context.DeadlineExceeded
	r.Tick(ctx)

	// The entry must stay due so the next tick retries the enqueue.
	stored, err := store.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if stored.LastRunAt != nil {
		t.Errorf("LastRunAt = %v after failed enqueue, want nil", stored.LastRunAt)
	}

	spy.err = nil
	r.Tick(ctx)
	if spy.count() != 1 {
		t.Fatalf("enqueued %d jobs after recovery, want 1", spy.count())
	}
}

func TestStartStop(t *testing.T) {
	store := memory.New()
	spy := &enqueueSpy{}
	r := schedule.NewRunner(store, spy.Fn(), testLogger(), schedule.WithTickInterval(10*time.Millisecond))

	ctx := context.Background()
	if _, err := r.Register(ctx, "fast-loop", "@every 1ms", nil, job.PriorityMedium); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := r.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for spy.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("runner never fired the due entry")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := r.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
