package fairness

import (
	"testing"
	"time"

	"github.com/darkroomhq/darkroom/job"
)

func TestUnconfiguredBandHasNoLimits(t *testing.T) {
	t.Parallel()
	m := NewManager()

	for range 100 {
		if !m.Acquire(job.PriorityHigh) {
			t.Fatal("unconfigured band denied")
		}
	}
}

func TestConcurrencyCap(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Priority: job.PriorityLow, MaxConcurrency: 2})

	if !m.Acquire(job.PriorityLow) || !m.Acquire(job.PriorityLow) {
		t.Fatal("acquire under cap denied")
	}
	if m.Acquire(job.PriorityLow) {
		t.Fatal("acquire over cap allowed")
	}
	if got := m.ActiveCount(job.PriorityLow); got != 2 {
		t.Errorf("ActiveCount = %d, want 2", got)
	}

	m.Release(job.PriorityLow)
	if !m.Acquire(job.PriorityLow) {
		t.Fatal("acquire after release denied")
	}

	// Other bands are unaffected.
	if !m.Acquire(job.PriorityHigh) {
		t.Fatal("other band denied")
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Priority: job.PriorityMedium, RateLimit: 10, RateBurst: 2})

	// The burst admits two immediately; the third is over rate.
	if !m.Acquire(job.PriorityMedium) || !m.Acquire(job.PriorityMedium) {
		t.Fatal("burst acquire denied")
	}
	if m.Acquire(job.PriorityMedium) {
		t.Fatal("over-rate acquire allowed")
	}

	// Tokens refill at 10/s; one is back within ~100ms.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if m.Acquire(job.PriorityMedium) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("token never refilled")
}

func TestRateBurstDefaultsToOne(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Priority: job.PriorityLow, RateLimit: 1})

	if !m.Acquire(job.PriorityLow) {
		t.Fatal("first acquire denied")
	}
	if m.Acquire(job.PriorityLow) {
		t.Fatal("second immediate acquire allowed with burst 1")
	}
}

func TestSetConfigPreservesActiveCount(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Priority: job.PriorityHigh, MaxConcurrency: 5})

	for range 3 {
		if !m.Acquire(job.PriorityHigh) {
			t.Fatal("acquire denied")
		}
	}

	m.SetConfig(Config{Priority: job.PriorityHigh, MaxConcurrency: 3})
	if got := m.ActiveCount(job.PriorityHigh); got != 3 {
		t.Errorf("ActiveCount after reconfigure = %d, want 3", got)
	}
	if m.Acquire(job.PriorityHigh) {
		t.Fatal("acquire allowed at new lower cap")
	}
}

func TestReleaseNeverUnderflows(t *testing.T) {
	t.Parallel()
	m := NewManager(Config{Priority: job.PriorityLow, MaxConcurrency: 1})

	m.Release(job.PriorityLow)
	if got := m.ActiveCount(job.PriorityLow); got != 0 {
		t.Errorf("ActiveCount = %d, want 0", got)
	}
}
