// Package engine wires all Darkroom subsystems together: classifier,
// retry policy, hook registry, event bus, scheduler, worker pool, and
// the recurring schedule runner.
//
// This package exists to break the import cycle: the root darkroom
// package defines Entity (imported by job, schedule, etc.) and so
// cannot import those packages back. The engine package sits above all
// subsystem packages and below the application layer.
package engine
