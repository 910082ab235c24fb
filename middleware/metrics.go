package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/socialq/job"
)

// Metrics returns middleware that records per-attempt metrics using the
// global MeterProvider. Without a configured provider noop instruments
// make this a pass-through.
//
// Instruments:
//   - socialq.job.duration (Float64Histogram): attempt time in seconds
//   - socialq.job.executions (Int64Counter): total attempts
//
// Both carry job_name, queue and status ("ok", "error" or "terminal").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(instrumentationName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// The otel API hands back noop instruments alongside any error.
	duration, _ := meter.Float64Histogram(
		"socialq.job.duration",
		metric.WithDescription("Duration of job attempts in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"socialq.job.executions",
		metric.WithDescription("Total number of job attempts"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, j *job.Job, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		attrs := metric.WithAttributes(
			attribute.String("job_name", j.Name),
			attribute.String("queue", j.Queue),
			attribute.String("status", outcome(err)),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
