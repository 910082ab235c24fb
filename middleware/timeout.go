package middleware

import (
	"context"
	"time"

	"github.com/xraph/socialq/job"
)

// Timeout returns middleware that bounds each attempt. The job's own
// Timeout wins; otherwise fallback applies. Zero for both means no bound.
func Timeout(fallback time.Duration) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		d := j.Timeout
		if d <= 0 {
			d = fallback
		}
		if d <= 0 {
			return next(ctx)
		}
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return next(ctx)
	}
}
