// Package middleware provides composable middleware for job execution.
//
// A [Middleware] wraps a job handler. Middleware are composed into a
// chain with [Chain] and applied before each attempt. The first
// middleware in the slice is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging]: logs job name, queue, attempt, duration and outcome
//   - [Recover]: converts handler panics into retryable errors
//   - [Timeout]: bounds each attempt with the job's or a default deadline
//   - [Tracing]: wraps each attempt in an OpenTelemetry span
//   - [Metrics]: records per-job duration and outcome counters
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
