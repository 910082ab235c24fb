// Package observability provides an OpenTelemetry metrics extension for
// socialq. MetricsExtension implements the lifecycle hooks to count job
// enqueues, completions, retries, failures, stalls and DLQ entries per
// queue and job name.
//
// For per-attempt tracing and metrics, see the middleware package:
// middleware.Tracing() and middleware.Metrics().
package observability
