// Package backoff provides retry delay strategies for job execution.
// All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay regardless of attempt number.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant backoff strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (symmetric jitter)
// ──────────────────────────────────────────────────

// DefaultJitter is the symmetric jitter fraction applied around the
// exponential base delay.
const DefaultJitter = 0.20

// ExponentialWithJitter applies symmetric random jitter to an exponential
// base: Delay = min(Initial * 2^(attempt-1), Max) * (1 ± Jitter).
// The spread keeps delays monotonically increasing across attempts while
// preventing thundering-herd resubmission of jobs that failed together.
type ExponentialWithJitter struct {
	Initial time.Duration
	Max     time.Duration

	// Jitter is the fraction of the base delay used as the jitter
	// half-width. Zero means DefaultJitter.
	Jitter float64
}

// NewExponentialWithJitter creates an exponential backoff with symmetric
// ±20% jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Initial: initial, Max: maxDelay, Jitter: DefaultJitter}
}

// Delay returns the capped exponential base scaled by a random factor in
// [1-Jitter, 1+Jitter].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}

	jitter := e.Jitter
	if jitter == 0 {
		jitter = DefaultJitter
	}

	factor := 1 + (2*rand.Float64()-1)*jitter //nolint:gosec // jitter intentionally uses non-crypto rand
	return time.Duration(base * factor)
}

// ──────────────────────────────────────────────────
// Default
// ──────────────────────────────────────────────────

// DefaultStrategy returns the default backoff used by the engine:
// ExponentialWithJitter with 1s initial and 2m max.
func DefaultStrategy() Strategy {
	return NewExponentialWithJitter(1*time.Second, 2*time.Minute)
}
