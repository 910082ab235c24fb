// Package job defines the job entity, its state machine, typed
// definitions, error classification and the store interface.
//
// # Job Entity
//
// A [Job] is one unit of work on a named queue. It embeds
// [socialq.Entity] for timestamps, carries a JSON payload, and moves
// through the following states:
//
//	pending → running → completed
//	pending → running → retrying → running → ...
//	pending → running → failed
//
// Attempts counts executions, including the first. Once Attempts reaches
// MaxAttempts (3 by default) a failing job is terminally failed and never
// dequeued again.
//
// # Defining a Job
//
// Use [Definition] with a typed handler. The payload is JSON-serialized
// at enqueue time and decoded before the handler runs:
//
//	var ResetPassword = job.NewDefinition("resetPasswordEmail",
//	    func(ctx context.Context, in email.Job) error {
//	        return sender.Send(ctx, in.ReceiverEmail, in.Subject, in.Template)
//	    },
//	    job.WithQueue("email"),
//	    job.WithConcurrency(5),
//	)
//
// # Classifying Failures
//
// Handlers wrap errors with [Terminal] when retrying cannot help, such as
// an update of a record that no longer exists. Every other error is
// retried until the attempt budget is spent.
//
// # Registry
//
// [Registry] maps (queue, name) pairs to type-erased [HandlerFunc] values
// and the payload validator derived from the definition's type parameter.
// The engine package provides the higher-level engine.Register and
// Queue.Enqueue wrappers.
package job
