package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/darkroomhq/darkroom/failure"
	"github.com/darkroomhq/darkroom/hook"
	"github.com/darkroomhq/darkroom/job"
)

// Compile-time interface checks.
var (
	_ hook.Extension         = (*MetricsExtension)(nil)
	_ hook.JobCreated        = (*MetricsExtension)(nil)
	_ hook.JobStarted        = (*MetricsExtension)(nil)
	_ hook.JobCompleted      = (*MetricsExtension)(nil)
	_ hook.JobRetryScheduled = (*MetricsExtension)(nil)
	_ hook.JobFailed         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics in a Prometheus
// registry. Register it on the hook registry to track enqueue rates,
// completion latencies, retry counts, and failure breakdowns by category.
type MetricsExtension struct {
	registry *prometheus.Registry

	jobsCreated   *prometheus.CounterVec
	jobsStarted   prometheus.Counter
	jobsCompleted prometheus.Counter
	jobsRetried   *prometheus.CounterVec
	jobsFailed    *prometheus.CounterVec
	jobDuration   prometheus.Histogram
	retryDelay    prometheus.Histogram
}

// NewMetricsExtension creates a MetricsExtension backed by its own
// registry. Expose it over HTTP via Handler.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegistry(prometheus.NewRegistry())
}

// NewMetricsExtensionWithRegistry creates a MetricsExtension registering
// its collectors on the provided registry.
func NewMetricsExtensionWithRegistry(reg *prometheus.Registry) *MetricsExtension {
	m := &MetricsExtension{
		registry: reg,
		jobsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darkroom",
			Name:      "jobs_created_total",
			Help:      "Jobs admitted by the scheduler.",
		}, []string{"priority"}),
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "darkroom",
			Name:      "jobs_started_total",
			Help:      "Processing attempts started.",
		}),
		jobsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "darkroom",
			Name:      "jobs_completed_total",
			Help:      "Jobs that finished successfully.",
		}),
		jobsRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darkroom",
			Name:      "jobs_retried_total",
			Help:      "Retry decisions by failure category.",
		}, []string{"category"}),
		jobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "darkroom",
			Name:      "jobs_failed_total",
			Help:      "Permanently failed jobs by failure category and severity.",
		}, []string{"category", "severity"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "darkroom",
			Name:      "job_duration_seconds",
			Help:      "Wall time from claim to completion.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		retryDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "darkroom",
			Name:      "retry_delay_seconds",
			Help:      "Backoff delays assigned to retried jobs.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}

	reg.MustRegister(
		m.jobsCreated,
		m.jobsStarted,
		m.jobsCompleted,
		m.jobsRetried,
		m.jobsFailed,
		m.jobDuration,
		m.retryDelay,
	)
	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// Handler returns an HTTP handler serving the metrics in Prometheus
// exposition format.
func (m *MetricsExtension) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying Prometheus registry.
func (m *MetricsExtension) Registry() *prometheus.Registry { return m.registry }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCreated implements hook.JobCreated.
func (m *MetricsExtension) OnJobCreated(_ context.Context, j *job.Job) error {
	m.jobsCreated.WithLabelValues(j.Priority.String()).Inc()
	return nil
}

// OnJobStarted implements hook.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, _ *job.Job) error {
	m.jobsStarted.Inc()
	return nil
}

// OnJobCompleted implements hook.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, _ *job.Job, elapsed time.Duration) error {
	m.jobsCompleted.Inc()
	m.jobDuration.Observe(elapsed.Seconds())
	return nil
}

// OnJobRetryScheduled implements hook.JobRetryScheduled.
func (m *MetricsExtension) OnJobRetryScheduled(_ context.Context, _ *job.Job, _ int, delay time.Duration, cl failure.Classification) error {
	m.jobsRetried.WithLabelValues(string(cl.Category)).Inc()
	m.retryDelay.Observe(delay.Seconds())
	return nil
}

// OnJobFailed implements hook.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, cl failure.Classification) error {
	m.jobsFailed.WithLabelValues(string(cl.Category), cl.Severity.String()).Inc()
	return nil
}
