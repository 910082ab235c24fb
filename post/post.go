// Package post is the post queue: persisting, updating and deleting post
// documents off the request path.
package post

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xraph/socialq/docstore"
	"github.com/xraph/socialq/engine"
	"github.com/xraph/socialq/job"
)

// Queue and job names.
const (
	Queue            = "post"
	AddPostToDB      = "addPostToDB"
	UpdatePostFromDB = "updatePostFromDB"
	DeletePostFromDB = "deletePostFromDB"
)

// Concurrency is how many jobs of each name may run at once.
const Concurrency = 5

// SaveJob carries a post to insert or update. Key is the post ID.
type SaveJob struct {
	Key   string        `json:"key" validate:"required"`
	Value docstore.Post `json:"value"`
}

// NewSaveJob builds a SaveJob for p, assigning a fresh ID when p has
// none. The ID is fixed here, so retries upsert the same post.
func NewSaveJob(p docstore.Post) SaveJob {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return SaveJob{Key: p.ID, Value: p}
}

// DeleteJob identifies a post and its author.
type DeleteJob struct {
	PostID string `json:"postId" validate:"required"`
	UserID string `json:"userId" validate:"required"`
}

// Worker writes post jobs to the document store.
type Worker struct {
	posts  docstore.Posts
	logger *slog.Logger
}

// NewWorker creates a Worker.
func NewWorker(posts docstore.Posts, logger *slog.Logger) *Worker {
	return &Worker{posts: posts, logger: logger.With("component", "post.worker")}
}

// Save upserts the post.
func (w *Worker) Save(ctx context.Context, j SaveJob) error {
	p := j.Value
	p.ID = j.Key
	if err := w.posts.SavePost(ctx, &p); err != nil {
		return fmt.Errorf("socialq/post: save %s: %w", j.Key, err)
	}
	return nil
}

// Update replaces an existing post. A missing post is terminal.
func (w *Worker) Update(ctx context.Context, j SaveJob) error {
	p := j.Value
	p.ID = j.Key
	if err := w.posts.UpdatePost(ctx, &p); err != nil {
		return w.classify("update", j.Key, err)
	}
	return nil
}

// Delete removes the post and decrements its author's post count. A
// missing post is terminal.
func (w *Worker) Delete(ctx context.Context, j DeleteJob) error {
	if err := w.posts.DeletePost(ctx, j.PostID, j.UserID); err != nil {
		return w.classify("delete", j.PostID, err)
	}
	return nil
}

func (w *Worker) classify(op, postID string, err error) error {
	err = fmt.Errorf("socialq/post: %s %s: %w", op, postID, err)
	if errors.Is(err, docstore.ErrNotFound) {
		w.logger.Warn("post not found",
			slog.String("op", op),
			slog.String("post_id", postID),
		)
		return job.Terminal(err)
	}
	return err
}

// Register binds w to every post job name on q.
func Register(q *engine.Queue, w *Worker, opts ...job.Option) {
	opts = append([]job.Option{job.WithConcurrency(Concurrency)}, opts...)
	engine.Register(q, job.NewDefinition(AddPostToDB, w.Save, opts...))
	engine.Register(q, job.NewDefinition(UpdatePostFromDB, w.Update, opts...))
	engine.Register(q, job.NewDefinition(DeletePostFromDB, w.Delete, opts...))
}
