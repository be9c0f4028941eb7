package schedule

import (
	"context"

	"github.com/darkroomhq/darkroom/id"
)

// Store defines the persistence contract for schedule entries.
type Store interface {
	// CreateSchedule persists a new entry. Returns ErrDuplicateSchedule
	// if the name is taken.
	CreateSchedule(ctx context.Context, entry *Entry) error

	// GetSchedule retrieves an entry by ID.
	GetSchedule(ctx context.Context, entryID id.ScheduleID) (*Entry, error)

	// ListSchedules returns all entries.
	ListSchedules(ctx context.Context) ([]*Entry, error)

	// UpdateSchedule persists changes to an existing entry.
	UpdateSchedule(ctx context.Context, entry *Entry) error

	// DeleteSchedule removes an entry by ID.
	DeleteSchedule(ctx context.Context, entryID id.ScheduleID) error
}
