package failure

// Classifier maps failures onto the closed classification table and
// accumulates observation counters in its Stats collector. The collector
// is injected at construction so ownership is explicit; there is no
// process-wide singleton.
type Classifier struct {
	stats *Stats
}

// NewClassifier creates a Classifier. A nil stats collector gets a fresh one.
func NewClassifier(stats *Stats) *Classifier {
	if stats == nil {
		stats = NewStats()
	}
	return &Classifier{stats: stats}
}

// Classify maps a failure to its classification. Conditions outside the
// table classify conservatively as unknown (medium severity, limited
// retries). Classify is total: it never fails.
func (c *Classifier) Classify(f *Failure) Classification {
	cond := CondUnknown
	if f != nil {
		if _, ok := table[f.Condition]; ok {
			cond = f.Condition
		}
	}

	cl := table[cond]
	c.stats.record(cl)
	return cl
}

// Stats returns the classifier's stats collector.
func (c *Classifier) Stats() *Stats { return c.stats }
