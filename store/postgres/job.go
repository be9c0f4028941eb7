package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
)

const jobColumns = `
	id, payload, priority, state, worker_id, attempts,
	last_classification, last_error, result,
	run_at, started_at, completed_at,
	attempt_log, history, created_at, updated_at`

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	lastCl, attemptLog, history, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO darkroom_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		j.ID.String(), j.Payload, int(j.Priority), string(j.State),
		j.WorkerID.String(), j.Attempts,
		lastCl, j.LastError, j.Result,
		j.RunAt, j.StartedAt, j.CompletedAt,
		attemptLog, history, j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return darkroom.ErrJobAlreadyExists
		}
		return fmt.Errorf("darkroom/postgres: create job: %w", err)
	}
	return nil
}

// ClaimJob atomically claims the highest-priority eligible pending job
// for the given worker. FIFO within a priority band. Returns (nil, nil)
// when no job is eligible. Concurrent claimers never receive the same
// job thanks to FOR UPDATE SKIP LOCKED.
func (s *Store) ClaimJob(ctx context.Context, workerID id.WorkerID, now time.Time) (*job.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("darkroom/postgres: begin claim: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	row := tx.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM darkroom_jobs
		WHERE state = 'pending' AND run_at <= $1
		ORDER BY priority DESC, created_at ASC
		FOR UPDATE SKIP LOCKED
		LIMIT 1`,
		now,
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("darkroom/postgres: claim select: %w", err)
	}

	j.WorkerID = workerID
	j.Transition(job.StateClaimed, now)

	_, history, err2 := marshalTransitions(j)
	if err2 != nil {
		return nil, err2
	}
	if _, err := tx.Exec(ctx, `
		UPDATE darkroom_jobs
		SET state = $2, worker_id = $3, history = $4, updated_at = $5
		WHERE id = $1`,
		j.ID.String(), string(j.State), j.WorkerID.String(), history, j.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("darkroom/postgres: claim update: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("darkroom/postgres: claim commit: %w", err)
	}
	return j, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM darkroom_jobs WHERE id = $1`,
		jobID.String(),
	)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, darkroom.ErrJobNotFound
		}
		return nil, fmt.Errorf("darkroom/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	lastCl, attemptLog, history, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE darkroom_jobs SET
			payload = $2, priority = $3, state = $4, worker_id = $5,
			attempts = $6, last_classification = $7, last_error = $8,
			result = $9, run_at = $10, started_at = $11, completed_at = $12,
			attempt_log = $13, history = $14, updated_at = $15
		WHERE id = $1`,
		j.ID.String(), j.Payload, int(j.Priority), string(j.State), j.WorkerID.String(),
		j.Attempts, lastCl, j.LastError,
		j.Result, j.RunAt, j.StartedAt, j.CompletedAt,
		attemptLog, history, j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("darkroom/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return darkroom.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM darkroom_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return fmt.Errorf("darkroom/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return darkroom.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs in the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM darkroom_jobs WHERE state = $1 ORDER BY created_at DESC`
	args := []any{string(state)}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("darkroom/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM darkroom_jobs`
	args := []any{}
	if opts.State != "" {
		query += ` WHERE state = $1`
		args = append(args, string(opts.State))
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("darkroom/postgres: count jobs: %w", err)
	}
	return count, nil
}

// ── Row marshalling ─────────────────────────────────

func marshalJobJSON(j *job.Job) (lastCl, attemptLog, history []byte, err error) {
	if j.LastClassification != nil {
		lastCl, err = json.Marshal(j.LastClassification)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("darkroom/postgres: marshal classification: %w", err)
		}
	}
	attemptLog, history, err = marshalTransitions(j)
	return lastCl, attemptLog, history, err
}

func marshalTransitions(j *job.Job) (attemptLog, history []byte, err error) {
	attemptLog, err = json.Marshal(j.AttemptLog)
	if err != nil {
		return nil, nil, fmt.Errorf("darkroom/postgres: marshal attempt log: %w", err)
	}
	history, err = json.Marshal(j.History)
	if err != nil {
		return nil, nil, fmt.Errorf("darkroom/postgres: marshal history: %w", err)
	}
	return attemptLog, history, nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		idStr      string
		stateStr   string
		workerStr  string
		priority   int
		lastCl     []byte
		attemptLog []byte
		history    []byte
	)
	err := row.Scan(
		&idStr, &j.Payload, &priority, &stateStr, &workerStr, &j.Attempts,
		&lastCl, &j.LastError, &j.Result,
		&j.RunAt, &j.StartedAt, &j.CompletedAt,
		&attemptLog, &history, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Priority = job.Priority(priority)
	j.State = job.State(stateStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("darkroom/postgres: parse job id %q: %w", idStr, parseErr)
	}
	j.ID = parsedID

	if workerStr != "" {
		if parsedWorker, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}

	if len(lastCl) > 0 {
		var cl failure.Classification
		if err := json.Unmarshal(lastCl, &cl); err != nil {
			return nil, fmt.Errorf("darkroom/postgres: unmarshal classification: %w", err)
		}
		j.LastClassification = &cl
	}
	if len(attemptLog) > 0 {
		if err := json.Unmarshal(attemptLog, &j.AttemptLog); err != nil {
			return nil, fmt.Errorf("darkroom/postgres: unmarshal attempt log: %w", err)
		}
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &j.History); err != nil {
			return nil, fmt.Errorf("darkroom/postgres: unmarshal history: %w", err)
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("darkroom/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("darkroom/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
