// Package ext defines the lifecycle hook system for socialq.
//
// Extensions are notified of job lifecycle events and react to them, for
// example by logging transitions, deleting finished jobs, or recording
// metrics. Each hook is a separate interface so extensions opt in only to
// the events they care about.
//
// # Implementing an Extension
//
//	type Audit struct{ log *slog.Logger }
//
//	func (a *Audit) Name() string { return "audit" }
//
//	func (a *Audit) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
//	    a.log.Info("done", slog.String("job_id", j.ID.String()))
//	    return nil
//	}
//
// # Hooks
//
//   - [JobEnqueued]: job was durably accepted by the broker
//   - [JobStarted]: worker began executing the job
//   - [JobCompleted]: job finished successfully
//   - [JobRetrying]: job failed and another attempt is scheduled
//   - [JobFailed]: job failed terminally
//   - [JobDLQ]: job was moved to the dead letter queue
//   - [JobStalled]: a running job stopped heartbeating and was requeued
//   - [Shutdown]: the dispatcher is shutting down
//
// Hook errors are logged and never propagated to the job pipeline.
package ext
