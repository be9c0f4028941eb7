package darkroom

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("darkroom: no store configured")
	ErrStoreClosed = errors.New("darkroom: store closed")

	// Not found errors.
	ErrJobNotFound      = errors.New("darkroom: job not found")
	ErrScheduleNotFound = errors.New("darkroom: schedule entry not found")

	// Conflict errors.
	ErrJobAlreadyExists  = errors.New("darkroom: job already exists")
	ErrDuplicateSchedule = errors.New("darkroom: duplicate schedule entry")

	// State errors.
	ErrJobTerminal       = errors.New("darkroom: job is in a terminal state")
	ErrInvalidTransition = errors.New("darkroom: invalid state transition")

	// Engine errors.
	ErrNoProcessFunc = errors.New("darkroom: no process function configured")
)
