package darkroom

import "time"

// Config holds runtime configuration for the Engine.
type Config struct {
	// Concurrency is the number of worker loops claiming jobs.
	Concurrency int

	// PollInterval bounds how long a blocking claim waits before
	// re-checking time-gated eligibility.
	PollInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	// before active jobs are cancelled.
	ShutdownTimeout time.Duration

	// MaxAttempts is the retry ceiling for backoff-classified failures.
	MaxAttempts int

	// LimitedAttempts is the stricter ceiling for RETRY_LIMITED failures.
	LimitedAttempts int

	// RetryBaseDelay is the base delay for exponential backoff.
	RetryBaseDelay time.Duration

	// RetryMaxDelay caps the computed backoff delay.
	RetryMaxDelay time.Duration

	// BusBufferSize is the per-subscriber event buffer size.
	BusBufferSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency:     4,
		PollInterval:    500 * time.Millisecond,
		ShutdownTimeout: 30 * time.Second,
		MaxAttempts:     5,
		LimitedAttempts: 2,
		RetryBaseDelay:  1 * time.Second,
		RetryMaxDelay:   2 * time.Minute,
		BusBufferSize:   256,
	}
}
