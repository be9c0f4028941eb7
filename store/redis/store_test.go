//go:build integration

package redis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
	redisstore "github.com/darkroomhq/darkroom/store/redis"
)

// setupTestStore creates a Redis container and returns a connected Store.
func setupTestStore(t *testing.T) *redisstore.Store {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor: wait.ForLog("Ready to accept connections").
				WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("container port: %v", err)
	}

	client := goredis.NewClient(&goredis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })

	store := redisstore.New(client)
	if pingErr := store.Ping(ctx); pingErr != nil {
		t.Fatalf("ping: %v", pingErr)
	}
	return store
}

func newJob(priority job.Priority) *job.Job {
	j := &job.Job{
		ID:       id.NewJobID(),
		Payload:  []byte(`{"version":"1.0"}`),
		Priority: priority,
		State:    job.StatePending,
		RunAt:    time.Now().UTC(),
	}
	j.Entity = darkroom.NewEntity()
	return j
}

func TestStore_Ping(t *testing.T) {
	s := setupTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestStore_JobLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob(job.PriorityMedium)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, darkroom.ErrJobAlreadyExists) {
		t.Fatalf("duplicate create: got %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != job.StatePending {
		t.Fatalf("state = %q, want pending", got.State)
	}
	if string(got.Payload) != string(j.Payload) {
		t.Fatalf("payload = %q, want %q", got.Payload, j.Payload)
	}

	got.Transition(job.StateClaimed, time.Now().UTC())
	got.Transition(job.StateProcessing, time.Now().UTC())
	cls := failure.Classification{
		Condition: failure.CondStorageRead,
		Category:  failure.CategoryIO,
		Severity:  failure.SeverityMedium,
		Strategy:  failure.RetryWithBackoff,
	}
	got.LastClassification = &cls
	got.AttemptLog = append(got.AttemptLog, job.AttemptRecord{
		Attempt:        1,
		At:             time.Now().UTC(),
		Classification: cls,
		Delay:          2 * time.Second,
		Retried:        true,
	})
	if err := s.UpdateJob(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err = s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.State != job.StateProcessing {
		t.Fatalf("state = %q, want processing", got.State)
	}
	if len(got.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(got.History))
	}
	if got.LastClassification == nil || got.LastClassification.Category != failure.CategoryIO {
		t.Fatalf("classification not round-tripped: %+v", got.LastClassification)
	}
	if len(got.AttemptLog) != 1 || got.AttemptLog[0].Delay != 2*time.Second {
		t.Fatalf("attempt log not round-tripped: %+v", got.AttemptLog)
	}

	if err := s.DeleteJob(ctx, j.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetJob(ctx, j.ID); !errors.Is(err, darkroom.ErrJobNotFound) {
		t.Fatalf("get after delete: got %v, want ErrJobNotFound", err)
	}
}

func TestStore_ClaimOrdering(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	low := newJob(job.PriorityLow)
	if err := s.CreateJob(ctx, low); err != nil {
		t.Fatalf("create low: %v", err)
	}
	high := newJob(job.PriorityHigh)
	if err := s.CreateJob(ctx, high); err != nil {
		t.Fatalf("create high: %v", err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, worker, time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil {
		t.Fatal("claim returned nil, want high priority job")
	}
	if claimed.ID != high.ID {
		t.Fatalf("claimed %s, want high priority job %s", claimed.ID, high.ID)
	}
	if claimed.State != job.StateClaimed {
		t.Fatalf("state = %q, want claimed", claimed.State)
	}
	if claimed.WorkerID.String() != worker.String() {
		t.Fatalf("worker = %s, want %s", claimed.WorkerID, worker)
	}

	claimed, err = s.ClaimJob(ctx, worker, time.Now().UTC())
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed == nil || claimed.ID != low.ID {
		t.Fatalf("second claim = %v, want low priority job", claimed)
	}

	claimed, err = s.ClaimJob(ctx, worker, time.Now().UTC())
	if err != nil {
		t.Fatalf("drained claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("drained claim = %v, want nil", claimed)
	}
}

func TestStore_ClaimSkipsFutureRunAt(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob(job.PriorityHigh)
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, worker, time.Now().UTC())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed != nil {
		t.Fatalf("claimed gated job %s before its RunAt", claimed.ID)
	}

	claimed, err = s.ClaimJob(ctx, worker, time.Now().UTC().Add(2*time.Hour))
	if err != nil {
		t.Fatalf("claim after gate: %v", err)
	}
	if claimed == nil || claimed.ID != j.ID {
		t.Fatalf("claim after gate = %v, want %s", claimed, j.ID)
	}
}

func TestStore_PromoteKeepsUnreadableDelayedEntries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	j := newJob(job.PriorityHigh)
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Corrupt the record so it cannot be decoded during promotion.
	jobKey := "darkroom:job:" + j.ID.String()
	if err := s.Client().Set(ctx, jobKey, "not msgpack", 0).Err(); err != nil {
		t.Fatalf("corrupt record: %v", err)
	}

	worker := id.NewWorkerID()
	if _, err := s.ClaimJob(ctx, worker, time.Now().UTC().Add(2*time.Hour)); err == nil {
		t.Fatal("expected claim to surface the decode error")
	}

	// The delayed entry must survive a failed promotion so the job can
	// still be claimed once the record is restored.
	n, err := s.Client().ZScore(ctx, "darkroom:delayed", j.ID.String()).Result()
	if err != nil {
		t.Fatalf("delayed entry was dropped: %v", err)
	}
	if n == 0 {
		t.Fatal("delayed entry has no score")
	}
}

func TestStore_PromotePrunesDeletedDelayedEntries(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	gone := newJob(job.PriorityHigh)
	gone.RunAt = time.Now().UTC().Add(time.Minute)
	if err := s.CreateJob(ctx, gone); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Delete only the record, leaving the delayed set entry behind.
	if err := s.Client().Del(ctx, "darkroom:job:"+gone.ID.String()).Err(); err != nil {
		t.Fatalf("delete record: %v", err)
	}

	keep := newJob(job.PriorityLow)
	keep.RunAt = time.Now().UTC().Add(time.Minute)
	if err := s.CreateJob(ctx, keep); err != nil {
		t.Fatalf("create: %v", err)
	}

	worker := id.NewWorkerID()
	claimed, err := s.ClaimJob(ctx, worker, time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed == nil || claimed.ID != keep.ID {
		t.Fatalf("claim = %v, want %s", claimed, keep.ID)
	}

	if err := s.Client().ZScore(ctx, "darkroom:delayed", gone.ID.String()).Err(); !errors.Is(err, goredis.Nil) {
		t.Errorf("orphaned delayed entry not pruned: %v", err)
	}
}

func TestStore_ConcurrentClaimersNoDuplicates(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	const jobCount = 20
	for range jobCount {
		if err := s.CreateJob(ctx, newJob(job.PriorityMedium)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]string)
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker := id.NewWorkerID()
			for {
				j, err := s.ClaimJob(ctx, worker, time.Now().UTC())
				if err != nil {
					t.Errorf("claim: %v", err)
					return
				}
				if j == nil {
					return
				}
				mu.Lock()
				if prev, dup := claimed[j.ID.String()]; dup {
					t.Errorf("job %s claimed by both %s and %s", j.ID, prev, worker)
				}
				claimed[j.ID.String()] = worker.String()
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobCount {
		t.Fatalf("claimed %d jobs, want %d", len(claimed), jobCount)
	}
}

func TestStore_ListAndCount(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for range 3 {
		if err := s.CreateJob(ctx, newJob(job.PriorityLow)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	done := newJob(job.PriorityLow)
	done.State = job.StateCompleted
	if err := s.CreateJob(ctx, done); err != nil {
		t.Fatalf("create completed: %v", err)
	}

	pending, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("pending = %d, want 3", len(pending))
	}

	limited, err := s.ListJobsByState(ctx, job.StatePending, job.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}

	count, err := s.CountJobs(ctx, job.CountOpts{State: job.StatePending})
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("count = %d, want 3", count)
	}
	total, err := s.CountJobs(ctx, job.CountOpts{})
	if err != nil {
		t.Fatalf("count all: %v", err)
	}
	if total != 4 {
		t.Fatalf("count all = %d, want 4", total)
	}
}

func TestStore_ScheduleCRUD(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	entry := &schedule.Entry{
		Entity:   darkroom.NewEntity(),
		ID:       id.NewScheduleID(),
		Name:     "nightly-batch",
		Spec:     "0 3 * * *",
		Payload:  []byte(`{"version":"1.0"}`),
		Priority: job.PriorityLow,
		Enabled:  true,
	}
	if err := s.CreateSchedule(ctx, entry); err != nil {
		t.Fatalf("create: %v", err)
	}

	dup := &schedule.Entry{
		Entity:  darkroom.NewEntity(),
		ID:      id.NewScheduleID(),
		Name:    "nightly-batch",
		Spec:    "0 4 * * *",
		Enabled: true,
	}
	if err := s.CreateSchedule(ctx, dup); !errors.Is(err, darkroom.ErrDuplicateSchedule) {
		t.Fatalf("duplicate create: got %v, want ErrDuplicateSchedule", err)
	}

	got, err := s.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "nightly-batch" || !got.Enabled {
		t.Fatalf("round-trip mismatch: %+v", got)
	}

	got.Enabled = false
	now := time.Now().UTC()
	got.LastRunAt = &now
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, err = s.GetSchedule(ctx, entry.ID)
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if got.Enabled || got.LastRunAt == nil {
		t.Fatalf("update not persisted: %+v", got)
	}

	entries, err := s.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("list = %d entries, want 1", len(entries))
	}

	if err := s.DeleteSchedule(ctx, entry.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSchedule(ctx, entry.ID); !errors.Is(err, darkroom.ErrScheduleNotFound) {
		t.Fatalf("get after delete: got %v, want ErrScheduleNotFound", err)
	}

	renamed := &schedule.Entry{
		Entity:  darkroom.NewEntity(),
		ID:      id.NewScheduleID(),
		Name:    "nightly-batch",
		Spec:    "0 5 * * *",
		Enabled: true,
	}
	if err := s.CreateSchedule(ctx, renamed); err != nil {
		t.Fatalf("recreate after delete: %v", err)
	}
}
