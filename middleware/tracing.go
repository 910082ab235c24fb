package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/socialq/job"
)

// instrumentationName is the scope name for socialq tracing and metrics.
const instrumentationName = "github.com/xraph/socialq"

// Tracing returns middleware that wraps each attempt in an OpenTelemetry
// span using the global TracerProvider. Without a configured provider the
// noop tracer makes this a pass-through.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(instrumentationName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
//
// Span attributes: socialq.job.id, socialq.job.name, socialq.queue,
// socialq.attempt, socialq.max_attempts. On error the span status is
// codes.Error with the error message.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "socialq.job.execute",
			trace.WithAttributes(
				attribute.String("socialq.job.id", j.ID.String()),
				attribute.String("socialq.job.name", j.Name),
				attribute.String("socialq.queue", j.Queue),
				attribute.Int("socialq.attempt", j.Attempts),
				attribute.Int("socialq.max_attempts", j.MaxAttempts),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.SetAttributes(attribute.Bool("socialq.terminal", job.IsTerminal(err)))
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
