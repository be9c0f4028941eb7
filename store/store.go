// Package store defines the aggregate persistence interface. The job and
// schedule subsystems define their own store interfaces; the composite
// Store composes them. Backends: Postgres, Redis, and Memory.
package store

import (
	"context"

	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/schedule"
)

// Store is the aggregate persistence interface. A single backend
// implements all subsystem contracts.
type Store interface {
	job.Store
	schedule.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
