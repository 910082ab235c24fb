// Package comment is the comment queue: persisting comments and keeping
// each post's comment count in step.
package comment

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xraph/socialq/docstore"
	"github.com/xraph/socialq/engine"
	"github.com/xraph/socialq/job"
)

// Queue and job names.
const (
	Queue          = "comment"
	AddCommentToDB = "addCommentToDB"
)

// Concurrency is how many inserts may run at once.
const Concurrency = 5

// Job carries one comment.
type Job struct {
	Value docstore.Comment `json:"value"`
}

// NewJob builds a Job for c, assigning a fresh ID when c has none.
func NewJob(c docstore.Comment) Job {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return Job{Value: c}
}

// Worker inserts comments.
type Worker struct {
	comments docstore.Comments
	logger   *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(comments docstore.Comments, logger *slog.Logger) *Worker {
	return &Worker{comments: comments, logger: logger.With("component", "comment.worker")}
}

// Add inserts the comment. A redelivered job whose comment is already
// stored succeeds without counting it twice.
func (w *Worker) Add(ctx context.Context, j Job) error {
	inserted, err := w.comments.AddComment(ctx, &j.Value)
	if err != nil {
		return fmt.Errorf("socialq/comment: add %s: %w", j.Value.ID, err)
	}
	if !inserted {
		w.logger.Debug("comment already stored",
			slog.String("comment_id", j.Value.ID),
			slog.String("post_id", j.Value.PostID),
		)
	}
	return nil
}

// Register binds w to the comment job on q.
func Register(q *engine.Queue, w *Worker, opts ...job.Option) {
	opts = append([]job.Option{job.WithConcurrency(Concurrency)}, opts...)
	engine.Register(q, job.NewDefinition(AddCommentToDB, w.Add, opts...))
}
