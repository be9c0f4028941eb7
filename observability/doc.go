// Package observability provides a Prometheus-based metrics extension.
// The MetricsExtension implements lifecycle hooks to record system-wide
// counters and histograms for job admission, completion, retry, and
// failure events.
//
// For per-execution tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
