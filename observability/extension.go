package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/socialq/ext"
	"github.com/xraph/socialq/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension    = (*MetricsExtension)(nil)
	_ ext.JobEnqueued  = (*MetricsExtension)(nil)
	_ ext.JobCompleted = (*MetricsExtension)(nil)
	_ ext.JobFailed    = (*MetricsExtension)(nil)
	_ ext.JobRetrying  = (*MetricsExtension)(nil)
	_ ext.JobDLQ       = (*MetricsExtension)(nil)
	_ ext.JobStalled   = (*MetricsExtension)(nil)
)

const instrumentationName = "github.com/xraph/socialq/observability"

// MetricsExtension records system-wide lifecycle counters on an otel
// meter. Every counter carries the queue and job_name attributes.
type MetricsExtension struct {
	JobEnqueued  metric.Int64Counter
	JobCompleted metric.Int64Counter
	JobFailed    metric.Int64Counter
	JobRetried   metric.Int64Counter
	JobDLQ       metric.Int64Counter
	JobStalled   metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global
// MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(instrumentationName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension on the given
// meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	counter := func(name, desc string) metric.Int64Counter {
		// The otel API hands back a noop instrument alongside any error.
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit("{job}"))
		return c
	}
	return &MetricsExtension{
		JobEnqueued:  counter("socialq.job.enqueued", "Jobs accepted by the broker"),
		JobCompleted: counter("socialq.job.completed", "Jobs that completed successfully"),
		JobFailed:    counter("socialq.job.failed", "Jobs that failed terminally"),
		JobRetried:   counter("socialq.job.retried", "Attempts rescheduled after a failure"),
		JobDLQ:       counter("socialq.job.dlq", "Jobs moved to the dead letter queue"),
		JobStalled:   counter("socialq.job.stalled", "Running jobs requeued after losing their heartbeat"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

func jobAttrs(j *job.Job) metric.AddOption {
	return metric.WithAttributes(
		attribute.String("queue", j.Queue),
		attribute.String("job_name", j.Name),
	)
}

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(ctx context.Context, j *job.Job) error {
	m.JobEnqueued.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobCompleted.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(ctx context.Context, j *job.Job, _ error) error {
	m.JobFailed.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(ctx context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobRetried.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(ctx context.Context, j *job.Job, _ error) error {
	m.JobDLQ.Add(ctx, 1, jobAttrs(j))
	return nil
}

// OnJobStalled implements ext.JobStalled.
func (m *MetricsExtension) OnJobStalled(ctx context.Context, j *job.Job, _ time.Duration) error {
	m.JobStalled.Add(ctx, 1, jobAttrs(j))
	return nil
}
