// Package schedule provides recurring recipe scheduling. Entries carry
// a cron expression and a recipe payload; a Runner fires due entries by
// enqueueing a fresh job for each tick.
package schedule

import (
	"time"

	"github.com/darkroomhq/darkroom"
	"github.com/darkroomhq/darkroom/id"
	"github.com/darkroomhq/darkroom/job"
)

// Entry represents a recurring recipe schedule.
type Entry struct {
	darkroom.Entity

	ID        id.ScheduleID `json:"id"`
	Name      string        `json:"name"`
	Spec      string        `json:"spec"`
	Payload   []byte        `json:"payload"`
	Priority  job.Priority  `json:"priority"`
	LastRunAt *time.Time    `json:"last_run_at,omitempty"`
	NextRunAt *time.Time    `json:"next_run_at,omitempty"`
	Enabled   bool          `json:"enabled"`
}
