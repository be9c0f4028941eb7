package worker_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/backoff"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/middleware"
	"github.com/darkroomhq/darkroom/retry"
	"github.com/darkroomhq/darkroom/scheduler"
	"github.com/darkroomhq/darkroom/store/memory"
	"github.com/darkroomhq/darkroom/worker"
)

var validPayload = []byte(`{
	"version": "1.0",
	"pipeline": [{"kind": "hsl", "params": {"orange_sat": -10}}],
	"safety": {"snapshot": true, "dry_run": false}
}`)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// progressSpy records progress hook emissions.
type progressSpy struct {
	mu     sync.Mutex
	stages []string
}

func (p *progressSpy) Name() string { return "progress-spy" }

func (p *progressSpy) OnJobProgress(_ context.Context, _ *job.Job, stage string, _ float64, _ string) error {
	p.mu.Lock()
	p.stages = append(p.stages, stage)
	p.mu.Unlock()
	return nil
}

func (p *progressSpy) Stages() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.stages...)
}

func newScheduler(t *testing.T, exts ...hook.Extension) (*scheduler.Scheduler, *memory.Store) {
	t.Helper()

	store := memory.New()
	hooks := hook.NewRegistry(testLogger())
	for _, ext := range exts {
		hooks.Register(ext)
	}
	policy := retry.NewPolicy(retry.WithBackoff(backoff.NewConstant(0)))
	sched := scheduler.New(
		store,
		failure.NewClassifier(nil),
		policy,
		hooks,
		testLogger(),
		scheduler.WithPollInterval(10*time.Millisecond),
	)
	return sched, store
}

func TestExecutorSuccess(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	process := func(_ context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		return []byte(`{"frames": 12}`), nil
	}
	exec := worker.NewExecutor(process, sched, testLogger())

	enq, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := sched.ClaimNext(ctx, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}

	if err := exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	done, err := sched.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if done.State != job.StateCompleted {
		t.Errorf("State = %s, want completed", done.State)
	}
	if string(done.Result) != `{"frames": 12}` {
		t.Errorf("Result = %s", done.Result)
	}
}

func TestExecutorFailureClassified(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	process := func(_ context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		return nil, failure.New(failure.CondCatalogLock, "catalog held by host editor")
	}
	exec := worker.NewExecutor(process, sched, testLogger())

	enq, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := sched.ClaimNext(ctx, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}

	if err := exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	requeued, err := sched.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	// catalog-lock is transient: classified, retried with backoff.
	if requeued.State != job.StatePending {
		t.Errorf("State = %s, want pending", requeued.State)
	}
	if requeued.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", requeued.Attempts)
	}
	if requeued.LastClassification == nil || requeued.LastClassification.Category != failure.CategoryHostLock {
		t.Errorf("LastClassification = %+v", requeued.LastClassification)
	}
}

func TestExecutorPanicSurfacesAsUnknown(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	process := func(_ context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		panic("index out of range in stage walker")
	}
	exec := worker.NewExecutor(process, sched, testLogger(), middleware.Recover(testLogger()))

	enq, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := sched.ClaimNext(ctx, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}

	if err := exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got, err := sched.Get(ctx, enq.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.LastClassification == nil || got.LastClassification.Condition != failure.CondUnknown {
		t.Fatalf("LastClassification = %+v, want unknown condition", got.LastClassification)
	}
	// Unknown conditions get a limited retry budget, never a blind retry.
	if got.LastClassification.Strategy != failure.RetryLimited {
		t.Errorf("Strategy = %s, want RETRY_LIMITED", got.LastClassification.Strategy)
	}
}

func TestExecutorProgressPassesThrough(t *testing.T) {
	t.Parallel()

	spy := &progressSpy{}
	sched, _ := newScheduler(t, spy)
	ctx := context.Background()

	process := func(_ context.Context, _ *job.Job, progress worker.ProgressFunc) ([]byte, *failure.Failure) {
		progress("base-tone", 25, "applying base tone")
		progress("hsl", 75, "adjusting hues")
		return nil, nil
	}
	exec := worker.NewExecutor(process, sched, testLogger())

	if _, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	claimed, err := sched.ClaimNext(ctx, id.NewWorkerID())
	if err != nil || claimed == nil {
		t.Fatalf("ClaimNext: %v %v", claimed, err)
	}
	if err := exec.Execute(ctx, claimed); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	stages := spy.Stages()
	if len(stages) != 2 || stages[0] != "base-tone" || stages[1] != "hsl" {
		t.Errorf("stages = %v", stages)
	}
}

func TestPoolProcessesJobs(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	var processed atomic.Int64
	process := func(_ context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		processed.Add(1)
		return nil, nil
	}
	exec := worker.NewExecutor(process, sched, testLogger())
	pool := worker.NewPool(sched, exec, testLogger(), worker.WithConcurrency(4))

	const jobs = 20
	for range jobs {
		if _, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for processed.Load() < jobs && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if processed.Load() != jobs {
		t.Fatalf("processed = %d, want %d", processed.Load(), jobs)
	}

	counts, err := sched.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[job.StateCompleted] != jobs {
		t.Errorf("completed = %d, want %d", counts[job.StateCompleted], jobs)
	}
}

// refusingLimiter never admits a band and counts calls.
type refusingLimiter struct {
	acquires atomic.Int64
	releases atomic.Int64
}

func (l *refusingLimiter) Acquire(_ job.Priority) bool {
	l.acquires.Add(1)
	return false
}

func (l *refusingLimiter) Release(_ job.Priority) {
	l.releases.Add(1)
}

func TestPoolStopWithoutSlotDoesNotRelease(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	var processed atomic.Int64
	process := func(_ context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		processed.Add(1)
		return nil, nil
	}
	limiter := &refusingLimiter{}
	exec := worker.NewExecutor(process, sched, testLogger())
	pool := worker.NewPool(sched, exec, testLogger(),
		worker.WithConcurrency(1),
		worker.WithLimiter(limiter),
	)

	if _, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Let the loop claim the job and start spinning on the limiter.
	deadline := time.Now().Add(2 * time.Second)
	for limiter.acquires.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if limiter.acquires.Load() == 0 {
		t.Fatal("limiter was never consulted")
	}

	// Shutdown lets the already-claimed job run without a slot.
	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if processed.Load() != 1 {
		t.Fatalf("processed = %d, want 1", processed.Load())
	}
	if n := limiter.releases.Load(); n != 0 {
		t.Fatalf("released %d slots that were never acquired", n)
	}
}

func TestPoolStopCancelsActiveJobs(t *testing.T) {
	t.Parallel()

	sched, _ := newScheduler(t)
	ctx := context.Background()

	started := make(chan struct{})
	process := func(pctx context.Context, _ *job.Job, _ worker.ProgressFunc) ([]byte, *failure.Failure) {
		close(started)
		<-pctx.Done()
		return nil, failure.New(failure.CondUnknown, "cancelled mid flight")
	}
	exec := worker.NewExecutor(process, sched, testLogger())
	pool := worker.NewPool(sched, exec, testLogger(), worker.WithConcurrency(1))

	if _, err := sched.Enqueue(ctx, validPayload, job.PriorityMedium); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := pool.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	// A short deadline forces the pool to cancel the hung attempt.
	stopCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := pool.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
