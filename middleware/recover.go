package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/socialq/job"
)

// ErrPanicked is wrapped by the error Recover returns for a panicking
// handler.
var ErrPanicked = errors.New("socialq/middleware: handler panicked")

// Recover turns a handler panic into an error so the executor applies the
// normal retry policy to it. A panic with an error value keeps that value
// in the chain: panicking with job.Terminal(err) fails the job at once.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			logger.Error("job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("queue", j.Queue),
				slog.Int("attempt", j.Attempts),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			if err, ok := r.(error); ok {
				retErr = fmt.Errorf("%w: %s/%s: %w", ErrPanicked, j.Queue, j.Name, err)
				return
			}
			retErr = fmt.Errorf("%w: %s/%s: %v", ErrPanicked, j.Queue, j.Name, r)
		}()
		return next(ctx)
	}
}
