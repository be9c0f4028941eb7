package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
)

const scheduleColumns = `
	id, name, spec, payload, priority,
	last_run_at, next_run_at, enabled, created_at, updated_at`

// CreateSchedule persists a new schedule entry.
func (s *Store) CreateSchedule(ctx context.Context, entry *schedule.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO darkroom_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID.String(), entry.Name, entry.Spec, entry.Payload, int(entry.Priority),
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.CreatedAt, entry.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return darkroom.ErrDuplicateSchedule
		}
		return fmt.Errorf("darkroom/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule entry by ID.
func (s *Store) GetSchedule(ctx context.Context, entryID id.ScheduleID) (*schedule.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM darkroom_schedules WHERE id = $1`,
		entryID.String(),
	)

	entry, err := scanSchedule(row)
	if err != nil {
		if isNoRows(err) {
			return nil, darkroom.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("darkroom/postgres: get schedule: %w", err)
	}
	return entry, nil
}

// ListSchedules returns all schedule entries ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+scheduleColumns+` FROM darkroom_schedules ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("darkroom/postgres: list schedules: %w", err)
	}
	defer rows.Close()

	var entries []*schedule.Entry
	for rows.Next() {
		entry, scanErr := scanSchedule(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("darkroom/postgres: scan schedule row: %w", scanErr)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("darkroom/postgres: iterate schedule rows: %w", err)
	}
	return entries, nil
}

// UpdateSchedule persists changes to an existing schedule entry.
func (s *Store) UpdateSchedule(ctx context.Context, entry *schedule.Entry) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE darkroom_schedules SET
			name = $2, spec = $3, payload = $4, priority = $5,
			last_run_at = $6, next_run_at = $7, enabled = $8, updated_at = $9
		WHERE id = $1`,
		entry.ID.String(), entry.Name, entry.Spec, entry.Payload, int(entry.Priority),
		entry.LastRunAt, entry.NextRunAt, entry.Enabled, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("darkroom/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return darkroom.ErrScheduleNotFound
	}
	return nil
}

// DeleteSchedule removes a schedule entry by ID.
func (s *Store) DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM darkroom_schedules WHERE id = $1`, entryID.String())
	if err != nil {
		return fmt.Errorf("darkroom/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return darkroom.ErrScheduleNotFound
	}
	return nil
}

func scanSchedule(row pgx.Row) (*schedule.Entry, error) {
	var (
		entry    schedule.Entry
		idStr    string
		priority int
	)
	err := row.Scan(
		&idStr, &entry.Name, &entry.Spec, &entry.Payload, &priority,
		&entry.LastRunAt, &entry.NextRunAt, &entry.Enabled,
		&entry.CreatedAt, &entry.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Priority = job.Priority(priority)

	parsedID, parseErr := id.ParseScheduleID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("darkroom/postgres: parse schedule id %q: %w", idStr, parseErr)
	}
	entry.ID = parsedID

	return &entry, nil
}
