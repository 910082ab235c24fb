// Package email is the email queue: its job payload, the worker that
// delivers it, the Mailgun and logging senders, and the HTML templates
// producers render into the payload.
package email

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/socialq/engine"
	"github.com/xraph/socialq/job"
)

// Queue and job names.
const (
	Queue              = "email"
	ResetPasswordEmail = "resetPasswordEmail"
	SendEmail          = "sendEmail"
)

// Concurrency is how many sends of each job name may run at once.
const Concurrency = 5

// DefaultSendTimeout bounds one delivery attempt.
const DefaultSendTimeout = 30 * time.Second

// Job is the payload of every email job. Template holds the rendered HTML
// body.
type Job struct {
	ReceiverEmail string `json:"receiverEmail" validate:"required,email"`
	Subject       string `json:"subject" validate:"required"`
	Template      string `json:"template" validate:"required"`
}

// Sender delivers one HTML message.
type Sender interface {
	Send(ctx context.Context, to, subject, html string) error
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSendTimeout sets the per-attempt delivery timeout.
func WithSendTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithWorkerLogger sets the worker's logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// Worker sends queued emails.
type Worker struct {
	sender  Sender
	timeout time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker delivering through sender.
func NewWorker(sender Sender, opts ...WorkerOption) *Worker {
	w := &Worker{
		sender:  sender,
		timeout: DefaultSendTimeout,
		logger:  slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	w.logger = w.logger.With("component", "email.worker")
	return w
}

// Handle delivers j. Sender failures are returned as retryable.
func (w *Worker) Handle(ctx context.Context, j Job) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	if err := w.sender.Send(ctx, j.ReceiverEmail, j.Subject, j.Template); err != nil {
		w.logger.Error("send failed",
			slog.String("to", j.ReceiverEmail),
			slog.String("subject", j.Subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("socialq/email: send to %s: %w", j.ReceiverEmail, err)
	}
	return nil
}

// Register binds w to every email job name on q.
func Register(q *engine.Queue, w *Worker, opts ...job.Option) {
	opts = append([]job.Option{job.WithConcurrency(Concurrency)}, opts...)
	for _, name := range []string{ResetPasswordEmail, SendEmail} {
		engine.Register(q, job.NewDefinition(name, w.Handle, opts...))
	}
}
