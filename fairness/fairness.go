// Package fairness enforces per-priority rate limits and concurrency
// caps at execution time, so a flood of high-priority work cannot
// monopolize the pool and background batches cannot starve the host.
package fairness

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/darkroomhq/darkroom/job"
)

// Config defines limits for a single priority band.
type Config struct {
	// Priority is the band this config applies to.
	Priority job.Priority

	// MaxConcurrency limits how many jobs from this band may run
	// simultaneously across the local worker pool. Zero means no
	// band-specific limit (pool-wide concurrency still applies).
	MaxConcurrency int

	// RateLimit is the maximum sustained jobs per second executed
	// from this band. Zero disables rate limiting.
	RateLimit float64

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int
}

// bandState tracks runtime state for a single priority band.
type bandState struct {
	config  Config
	limiter *rate.Limiter
	active  int
}

// Manager controls per-priority rate limiting and concurrency.
// It is safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	bands map[job.Priority]*bandState
}

// NewManager creates a Manager with the given band configurations.
// Bands not listed here have no limits.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		bands: make(map[job.Priority]*bandState, len(configs)),
	}
	for _, cfg := range configs {
		m.bands[cfg.Priority] = newBandState(cfg)
	}
	return m
}

func newBandState(cfg Config) *bandState {
	bs := &bandState{config: cfg}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		bs.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return bs
}

// Acquire checks rate limits and concurrency for the given band. If the
// job is allowed to proceed it increments the active counter and returns
// true. The caller MUST call Release when the job completes.
func (m *Manager) Acquire(p job.Priority) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bs := m.bands[p]
	if bs != nil {
		if bs.limiter != nil && !bs.limiter.Allow() {
			return false
		}
		if bs.config.MaxConcurrency > 0 && bs.active >= bs.config.MaxConcurrency {
			return false
		}
		bs.active++
	}
	return true
}

// Release decrements the active job count for the band.
func (m *Manager) Release(p job.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bs := m.bands[p]; bs != nil && bs.active > 0 {
		bs.active--
	}
}

// SetConfig dynamically updates (or creates) a band configuration.
func (m *Manager) SetConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.bands[cfg.Priority]
	bs := newBandState(cfg)

	// Preserve current active count if reconfiguring.
	if existing != nil {
		bs.active = existing.active
	}
	m.bands[cfg.Priority] = bs
}

// ActiveCount returns the current number of active jobs for a band.
func (m *Manager) ActiveCount(p job.Priority) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bs := m.bands[p]; bs != nil {
		return bs.active
	}
	return 0
}
