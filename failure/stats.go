package failure

import "sync"

// Stats accumulates monotonic classification counters for observability.
// Counters only reset via an explicit Reset call. Safe for concurrent use.
type Stats struct {
	mu          sync.Mutex
	total       int64
	byCondition map[Condition]int64
	byCategory  map[Category]int64
	bySeverity  map[Severity]int64
}

// NewStats creates an empty Stats collector.
func NewStats() *Stats {
	return &Stats{
		byCondition: make(map[Condition]int64),
		byCategory:  make(map[Category]int64),
		bySeverity:  make(map[Severity]int64),
	}
}

func (s *Stats) record(cl Classification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.byCondition[cl.Condition]++
	s.byCategory[cl.Category]++
	s.bySeverity[cl.Severity]++
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Total       int64               `json:"total"`
	ByCondition map[Condition]int64 `json:"by_condition"`
	ByCategory  map[Category]int64  `json:"by_category"`
	BySeverity  map[string]int64    `json:"by_severity"`
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Total:       s.total,
		ByCondition: make(map[Condition]int64, len(s.byCondition)),
		ByCategory:  make(map[Category]int64, len(s.byCategory)),
		BySeverity:  make(map[string]int64, len(s.bySeverity)),
	}
	for k, v := range s.byCondition {
		snap.ByCondition[k] = v
	}
	for k, v := range s.byCategory {
		snap.ByCategory[k] = v
	}
	for k, v := range s.bySeverity {
		snap.BySeverity[k.String()] = v
	}
	return snap
}

// Reset zeroes all counters.
func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	clear(s.byCondition)
	clear(s.byCategory)
	clear(s.bySeverity)
}
