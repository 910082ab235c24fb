package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/socialq/job"
)

// Logging returns middleware that logs each attempt's start and outcome.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_name", j.Name),
			slog.String("job_id", j.ID.String()),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts),
		}
		logger.Debug("job attempt started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Warn("job attempt failed",
				append(attrs,
					slog.String("outcome", outcome(err)),
					slog.String("error", err.Error()),
				)...,
			)
			return err
		}
		logger.Debug("job attempt succeeded", attrs...)
		return nil
	}
}
