package retry_test

import (
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/backoff"
	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/job"
	"github.com/darkroomhq/darkroom/retry"
)

func classification(strategy failure.Strategy) failure.Classification {
	return failure.Classification{
		Condition: failure.CondCatalogLock,
		Category:  failure.CategoryHostLock,
		Severity:  failure.SeverityLow,
		Strategy:  strategy,
	}
}

func TestDecide_RetryImmediate(t *testing.T) {
	p := retry.NewPolicy(retry.WithMaxAttempts(3))
	j := &job.Job{Attempts: 1}

	d := p.Decide(j, classification(failure.RetryImmediate))
	if !d.Retry {
		t.Fatal("want retry")
	}
	if d.Delay != 0 {
		t.Errorf("delay = %v, want 0", d.Delay)
	}
}

func TestDecide_BackoffGrowsMonotonically(t *testing.T) {
	p := retry.NewPolicy(
		retry.WithMaxAttempts(5),
		retry.WithBackoff(backoff.NewExponential(time.Second, time.Hour)),
	)

	j := &job.Job{}
	var prev time.Duration
	for attempt := 1; attempt <= 4; attempt++ {
		j.Attempts = attempt
		d := p.Decide(j, classification(failure.RetryWithBackoff))
		if !d.Retry {
			t.Fatalf("attempt %d: want retry", attempt)
		}
		if d.Delay <= prev {
			t.Fatalf("attempt %d: delay %v not greater than previous %v", attempt, d.Delay, prev)
		}
		prev = d.Delay
	}
}

func TestDecide_CeilingCheckedBeforeStrategy(t *testing.T) {
	p := retry.NewPolicy(retry.WithMaxAttempts(3))

	j := &job.Job{Attempts: 3}
	if d := p.Decide(j, classification(failure.RetryWithBackoff)); d.Retry {
		t.Error("attempts at ceiling must not retry even with a retryable strategy")
	}

	j.Attempts = 4
	if d := p.Decide(j, classification(failure.RetryImmediate)); d.Retry {
		t.Error("attempts above ceiling must not retry")
	}
}

func TestDecide_LimitedUsesSmallerCeiling(t *testing.T) {
	p := retry.NewPolicy(retry.WithMaxAttempts(5), retry.WithLimitedAttempts(2))

	j := &job.Job{Attempts: 1}
	if d := p.Decide(j, classification(failure.RetryLimited)); !d.Retry {
		t.Error("attempt 1 of limited ceiling 2 should retry")
	}

	j.Attempts = 2
	if d := p.Decide(j, classification(failure.RetryLimited)); d.Retry {
		t.Error("attempt 2 of limited ceiling 2 must not retry")
	}

	// The same attempt count under the normal ceiling still retries.
	if d := p.Decide(j, classification(failure.RetryWithBackoff)); !d.Retry {
		t.Error("attempt 2 of max ceiling 5 should retry")
	}
}

func TestDecide_NonRetryableStrategies(t *testing.T) {
	p := retry.NewPolicy(retry.WithMaxAttempts(100))
	j := &job.Job{Attempts: 1}

	for _, strategy := range []failure.Strategy{
		failure.ManualIntervention,
		failure.FatalAbort,
		failure.DegradeAndContinue,
	} {
		if d := p.Decide(j, classification(strategy)); d.Retry {
			t.Errorf("%s must never retry, whatever the attempt budget", strategy)
		}
	}
}

func TestDecide_EveryDecisionRecorded(t *testing.T) {
	p := retry.NewPolicy(retry.WithLimitedAttempts(2))
	j := &job.Job{}

	j.Attempts = 1
	p.Decide(j, classification(failure.RetryLimited))
	j.Attempts = 2
	p.Decide(j, classification(failure.RetryLimited))

	if len(j.AttemptLog) != 2 {
		t.Fatalf("attempt log length = %d, want 2", len(j.AttemptLog))
	}
	if !j.AttemptLog[0].Retried {
		t.Error("first decision should be a retry")
	}
	if j.AttemptLog[1].Retried {
		t.Error("second decision should not be a retry")
	}
	if j.AttemptLog[0].Attempt != 1 || j.AttemptLog[1].Attempt != 2 {
		t.Errorf("attempt numbers = %d, %d; want 1, 2", j.AttemptLog[0].Attempt, j.AttemptLog[1].Attempt)
	}
}
