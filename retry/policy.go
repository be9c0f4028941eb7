// Package retry decides whether and when a failed attempt runs again.
// The decision is driven by the failure classification's recovery
// strategy and a per-strategy attempt ceiling; every decision is
// recorded on the job for audit.
package retry

import (
	"time"

	"github.com/darkroomhq/darkroom/backoff"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
)

// Decision is the outcome of a retry evaluation.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Policy computes retry decisions. Safe for concurrent use.
type Policy struct {
	maxAttempts     int
	limitedAttempts int
	bo              backoff.Strategy
}

// Option configures a Policy.
type Option func(*Policy)

// WithMaxAttempts sets the ceiling for backoff-classified failures.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.maxAttempts = n }
}

// WithLimitedAttempts sets the strictly smaller ceiling used for
// RETRY_LIMITED classifications.
func WithLimitedAttempts(n int) Option {
	return func(p *Policy) { p.limitedAttempts = n }
}

// WithBackoff sets the delay strategy for backoff retries.
func WithBackoff(bo backoff.Strategy) Option {
	return func(p *Policy) { p.bo = bo }
}

// NewPolicy creates a Policy with defaults: 5 attempts, 2 limited
// attempts, exponential backoff with symmetric jitter.
func NewPolicy(opts ...Option) *Policy {
	p := &Policy{
		maxAttempts:     5,
		limitedAttempts: 2,
		bo:              backoff.DefaultStrategy(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Ceiling returns the attempt ceiling for a strategy.
func (p *Policy) Ceiling(strategy failure.Strategy) int {
	if strategy == failure.RetryLimited {
		return p.limitedAttempts
	}
	return p.maxAttempts
}

// Decide evaluates whether job j should retry after a failure with the
// given classification. j.Attempts must already count the failed attempt.
// The attempt ceiling is checked before the strategy: an exhausted budget
// never retries, whatever the strategy says. The decision is appended to
// the job's AttemptLog regardless of outcome.
func (p *Policy) Decide(j *job.Job, cl failure.Classification) Decision {
	var d Decision

	switch cl.Strategy {
	case failure.ManualIntervention, failure.FatalAbort, failure.DegradeAndContinue:
		// Never retried: either an operator must act first, or the run
		// already continued in degraded form.
	case failure.RetryImmediate:
		if j.Attempts < p.Ceiling(cl.Strategy) {
			d = Decision{Retry: true, Delay: 0}
		}
	case failure.RetryWithBackoff, failure.RetryLimited:
		if j.Attempts < p.Ceiling(cl.Strategy) {
			d = Decision{Retry: true, Delay: p.bo.Delay(j.Attempts)}
		}
	}

	j.AttemptLog = append(j.AttemptLog, job.AttemptRecord{
		Attempt:        j.Attempts,
		At:             time.Now().UTC(),
		Classification: cl,
		Delay:          d.Delay,
		Retried:        d.Retry,
	})

	return d
}
