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
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
)

// scheduleRecord is the msgpack wire form of a schedule entry.
type scheduleRecord struct {
	ID        string       `msgpack:"id"`
	Name      string       `msgpack:"name"`
	Spec      string       `msgpack:"spec"`
	Payload   []byte       `msgpack:"payload"`
	Priority  job.Priority `msgpack:"priority"`
	LastRunAt *time.Time   `msgpack:"last_run_at"`
	NextRunAt *time.Time   `msgpack:"next_run_at"`
	Enabled   bool         `msgpack:"enabled"`
	CreatedAt time.Time    `msgpack:"created_at"`
	UpdatedAt time.Time    `msgpack:"updated_at"`
}

func entryToRecord(e *schedule.Entry) *scheduleRecord {
	return &scheduleRecord{
		ID:        e.ID.String(),
		Name:      e.Name,
		Spec:      e.Spec,
		Payload:   e.Payload,
		Priority:  e.Priority,
		LastRunAt: e.LastRunAt,
		NextRunAt: e.NextRunAt,
		Enabled:   e.Enabled,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

func recordToEntry(r *scheduleRecord) (*schedule.Entry, error) {
	eID, err := id.ParseScheduleID(r.ID)
	if err != nil {
		return nil, fmt.Errorf("darkroom/redis: parse schedule id: %w", err)
	}
	return &schedule.Entry{
		Entity: darkroom.Entity{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
		ID:        eID,
		Name:      r.Name,
		Spec:      r.Spec,
		Payload:   r.Payload,
		Priority:  r.Priority,
		LastRunAt: r.LastRunAt,
		NextRunAt: r.NextRunAt,
		Enabled:   r.Enabled,
	}, nil
}

// CreateSchedule persists a new entry. The name index is the duplicate
// guard: HSetNX loses exactly once per name.
func (s *Store) CreateSchedule(ctx context.Context, entry *schedule.Entry) error {
	eID := entry.ID.String()

	ok, err := s.client.HSetNX(ctx, scheduleNamesKey, entry.Name, eID).Result()
	if err != nil {
		return fmt.Errorf("darkroom/redis: create schedule name index: %w", err)
	}
	if !ok {
		return darkroom.ErrDuplicateSchedule
	}

	blob, err := msgpack.Marshal(entryToRecord(entry))
	if err != nil {
		return fmt.Errorf("darkroom/redis: marshal schedule: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, scheduleKey(eID), blob, 0)
	pipe.SAdd(ctx, scheduleIDsKey, eID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves an entry by ID.
func (s *Store) GetSchedule(ctx context.Context, entryID id.ScheduleID) (*schedule.Entry, error) {
	return s.getScheduleByKey(ctx, scheduleKey(entryID.String()))
}

// ListSchedules returns all entries ordered by name.
func (s *Store) ListSchedules(ctx context.Context) ([]*schedule.Entry, error) {
	ids, err := s.client.SMembers(ctx, scheduleIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("darkroom/redis: list schedules smembers: %w", err)
	}

	entries := make([]*schedule.Entry, 0, len(ids))
	for _, eID := range ids {
		e, getErr := s.getScheduleByKey(ctx, scheduleKey(eID))
		if getErr != nil {
			continue // skip missing
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, k int) bool { return entries[i].Name < entries[k].Name })
	return entries, nil
}

// UpdateSchedule persists changes to an existing entry. A rename moves
// the name index, failing with ErrDuplicateSchedule if the new name is
// taken.
func (s *Store) UpdateSchedule(ctx context.Context, entry *schedule.Entry) error {
	eID := entry.ID.String()
	key := scheduleKey(eID)

	old, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return err
	}
	if old.Name != entry.Name {
		ok, nErr := s.client.HSetNX(ctx, scheduleNamesKey, entry.Name, eID).Result()
		if nErr != nil {
			return fmt.Errorf("darkroom/redis: update schedule name index: %w", nErr)
		}
		if !ok {
			return darkroom.ErrDuplicateSchedule
		}
		if err := s.client.HDel(ctx, scheduleNamesKey, old.Name).Err(); err != nil {
			return fmt.Errorf("darkroom/redis: update schedule drop old name: %w", err)
		}
	}

	entry.UpdatedAt = time.Now().UTC()
	blob, err := msgpack.Marshal(entryToRecord(entry))
	if err != nil {
		return fmt.Errorf("darkroom/redis: marshal schedule: %w", err)
	}
	if err := s.client.Set(ctx, key, blob, 0).Err(); err != nil {
		return fmt.Errorf("darkroom/redis: update schedule: %w", err)
	}
	return nil
}

// DeleteSchedule removes an entry by ID.
func (s *Store) DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error {
	eID := entryID.String()
	key := scheduleKey(eID)

	old, err := s.getScheduleByKey(ctx, key)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, scheduleIDsKey, eID)
	pipe.HDel(ctx, scheduleNamesKey, old.Name)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("darkroom/redis: delete schedule: %w", err)
	}
	return nil
}

func (s *Store) getScheduleByKey(ctx context.Context, key string) (*schedule.Entry, error) {
	blob, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, darkroom.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("darkroom/redis: get schedule: %w", err)
	}
	var r scheduleRecord
	if err := msgpack.Unmarshal(blob, &r); err != nil {
		return nil, fmt.Errorf("darkroom/redis: unmarshal schedule: %w", err)
	}
	return recordToEntry(&r)
}
