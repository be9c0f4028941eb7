package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
)

// jobRecord is the msgpack wire form of a job. IDs are stored as strings
// so the record stays readable with generic Redis tooling.
type jobRecord struct {
	ID                 string                  `msgpack:"id"`
	Payload            []byte                  `msgpack:"payload"`
	Priority           job.Priority            `msgpack:"priority"`
	State              job.State               `msgpack:"state"`
	WorkerID           string                  `msgpack:"worker_id"`
	Attempts           int                     `msgpack:"attempts"`
	LastClassification *failure.Classification `msgpack:"last_classification"`
	LastError          string                  `msgpack:"last_error"`
	Result             []byte                  `msgpack:"result"`
	RunAt              time.Time               `msgpack:"run_at"`
	StartedAt          *time.Time              `msgpack:"started_at"`
	CompletedAt        *time.Time              `msgpack:"completed_at"`
	AttemptLog         []job.AttemptRecord     `msgpack:"attempt_log"`
	History            []job.Transition        `msgpack:"history"`
	CreatedAt          time.Time               `msgpack:"created_at"`
	UpdatedAt          time.Time               `msgpack:"updated_at"`
}

func jobToRecord(j *job.Job) *jobRecord {
	return &jobRecord{
		ID:                 j.ID.String(),
		Payload:            j.Payload,
		Priority:           j.Priority,
		State:              j.State,
		WorkerID:           j.WorkerID.String(),
		Attempts:           j.Attempts,
		LastClassification: j.LastClassification,
		LastError:          j.LastError,
		Result:             j.Result,
		RunAt:              j.RunAt,
		StartedAt:          j.StartedAt,
		CompletedAt:        j.CompletedAt,
		AttemptLog:         j.AttemptLog,
		History:            j.History,
		CreatedAt:          j.CreatedAt,
		UpdatedAt:          j.UpdatedAt,
	}
}

func recordToJob(r *jobRecord) (*job.Job, error) {
	jID, err := id.ParseJobID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("darkroom/redis: parse job id: %w", err)
	}
	j := &job.Job{
		Entity: darkroom.Entity{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		ID:                 jID,
		Payload:            r.Payload,
		Priority:           r.Priority,
		State:              r.State,
		Attempts:           r.Attempts,
		LastClassification: r.LastClassification,
		LastError:          r.LastError,
		Result:             r.Result,
		RunAt:              r.RunAt,
		StartedAt:          r.StartedAt,
		CompletedAt:        r.CompletedAt,
		AttemptLog:         r.AttemptLog,
		History:            r.History,
	}
	if r.WorkerID != "" {
		wID, wErr := id.ParseWorkerID(r.WorkerID)
		if wErr != nil {
			return nil, fmt.Errorf("darkroom/redis: parse worker id: %w", wErr)
		}
		j.WorkerID = wID
	}
	return j, nil
}

// CreateJob stores the job record and enqueues it: due jobs go straight
// into their priority queue, time-gated jobs wait in the delayed set.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	blob, err := msgpack.Marshal(jobToRecord(j))
	if err != nil {
		return fmt.Errorf("darkroom/redis: marshal job: %w", err)
	}

	ok, err := s.client.SetNX(ctx, jobKey(jID), blob, 0).Result()
	if err != nil {
		return fmt.Errorf("darkroom/redis: create job: %w", err)
	}
	if !ok {
		return darkroom.ErrJobAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, jobIDsKey, jID)
	if j.State == job.StatePending {
		s.enqueueCmd(ctx, pipe, j, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: create job index: %w", err)
	}
	return nil
}

// enqueueCmd adds a pending job to the queue structure it belongs in.
func (s *Store) enqueueCmd(ctx context.Context, pipe goredis.Pipeliner, j *job.Job, jID string) {
	if j.RunAt.After(time.Now().UTC()) {
		pipe.ZAdd(ctx, delayedKey, goredis.Z{Score: float64(j.RunAt.UnixNano()), Member: jID})
		return
	}
	pipe.ZAdd(ctx, pendingKey(j.Priority), goredis.Z{Score: float64(j.CreatedAt.UnixNano()), Member: jID})
}

// ClaimJob atomically claims the best eligible pending job. Due entries
// from the delayed set are promoted first, then the priority queues are
// popped highest band first. ZPopMin is the atomicity point: each member
// is handed to exactly one caller.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	if err := s.promoteDue(ctx, now); err != nil {
		return nil, err
	}

	for _, p := range claimQueues {
		for {
			members, err := s.client.ZPopMin(ctx, pendingKey(p), 1).Result()
			if err != nil {
				return nil, fmt.Errorf("darkroom/redis: claim zpopmin: %w", err)
			}
			if len(members) == 0 {
				break
			}
			jID, ok := members[0].Member.(string)
			if !ok {
				continue
			}

			j, getErr := s.getJobByKey(ctx, jobKey(jID))
			if getErr != nil {
				if errors.Is(getErr, darkroom.ErrJobNotFound) {
					continue // record deleted out from under the queue
				}
				return nil, getErr
			}
			if j.State != job.StatePending {
				continue // stale queue entry
			}

			j.WorkerID = workerID
			j.Transition(job.StateClaimed, now)
			if err := s.saveJob(ctx, j); err != nil {
				return nil, err
			}
			return j, nil
		}
	}
	return nil, nil
}

// promoteDue moves delayed jobs whose RunAt has passed into their
// priority queues. Concurrent promoters may race on the same member;
// ZAdd is idempotent and the later ZPopMin dedupes.
func (s *Store) promoteDue(ctx context.Context, now time.Time) error {
	ids, err := s.client.ZRangeByScore(ctx, delayedKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", now.UnixNano()),
	}).Result()
	if err != nil {
		return fmt.Errorf("darkroom/redis: promote zrangebyscore: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	pipe := s.client.TxPipeline()
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			if errors.Is(getErr, darkroom.ErrJobNotFound) {
				pipe.ZRem(ctx, delayedKey, jID) // record deleted out from under the set
				continue
			}
			return getErr
		}
		pipe.ZRem(ctx, delayedKey, jID)
		pipe.ZAdd(ctx, pendingKey(j.Priority), goredis.Z{Score: float64(j.CreatedAt.UnixNano()), Member: jID})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: promote: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and reconciles queue
// membership: pending jobs are re-enqueued, everything else is removed
// from the queues.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("darkroom/redis: update job exists: %w", err)
	}
	if exists == 0 {
		return darkroom.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	blob, err := msgpack.Marshal(jobToRecord(j))
	if err != nil {
		return fmt.Errorf("darkroom/redis: marshal job: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, key, blob, 0)
	s.dequeueCmd(ctx, pipe, jID)
	if j.State == job.StatePending {
		s.enqueueCmd(ctx, pipe, j, jID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: update job: %w", err)
	}
	return nil
}

// dequeueCmd removes a job from every queue structure it could be in.
func (s *Store) dequeueCmd(ctx context.Context, pipe goredis.Pipeliner, jID string) {
	pipe.ZRem(ctx, delayedKey, jID)
	for _, p := range claimQueues {
		pipe.ZRem(ctx, pendingKey(p), jID)
	}
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("darkroom/redis: delete job exists: %w", err)
	}
	if exists == 0 {
		return darkroom.ErrJobNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	s.dequeueCmd(ctx, pipe, jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: delete job: %w", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("darkroom/redis: list jobs smembers: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if j.State != state {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 && opts.Offset < len(jobs) {
		jobs = jobs[opts.Offset:]
	} else if opts.Offset >= len(jobs) && opts.Offset > 0 {
		return nil, nil
	}
	if opts.Limit > 0 && opts.Limit < len(jobs) {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("darkroom/redis: count smembers: %w", err)
	}

	var count int64
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// ── helpers ──

func (s *Store) saveJob(ctx context.Context, j *job.Job) error {
	j.UpdatedAt = time.Now().UTC()
	blob, err := msgpack.Marshal(jobToRecord(j))
	if err != nil {
		return fmt.Errorf("darkroom/redis: marshal job: %w", err)
	}
	if err := s.client.Set(ctx, jobKey(j.ID.String()), blob, 0).Err(); err != nil {
		return fmt.Errorf("darkroom/redis: save job: %w", err)
	}
	return nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	blob, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, darkroom.ErrJobNotFound
		}
		return nil, fmt.Errorf("darkroom/redis: get job: %w", err)
	}
	var r jobRecord
	if err := msgpack.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("darkroom/redis: unmarshal job: %w", err)
	}
	return recordToJob(&r)
}
