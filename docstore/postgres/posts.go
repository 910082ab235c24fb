package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/socialq/docstore"
)

// SavePost upserts p. An existing post keeps its comments_count.
func (s *Store) SavePost(ctx context.Context, p *docstore.Post) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: encode post: %w", err)
	}
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO socialq_posts (id, user_id, doc, comments_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			doc = EXCLUDED.doc,
			updated_at = NOW()`,
		p.ID, p.UserID, doc, p.CommentsCount, createdAt,
	)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: save post: %w", err)
	}
	return nil
}

// UpdatePost replaces the document of an existing post.
func (s *Store) UpdatePost(ctx context.Context, p *docstore.Post) error {
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: encode post: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE socialq_posts SET doc = $2, updated_at = NOW() WHERE id = $1`,
		p.ID, doc,
	)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: update post: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s: %w", p.ID, docstore.ErrNotFound)
	}
	return nil
}

// DeletePost removes a post and decrements the author's posts_count in
// one transaction.
func (s *Store) DeletePost(ctx context.Context, postID, userID string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM socialq_posts WHERE id = $1`, postID)
		if err != nil {
			return fmt.Errorf("socialq/docstore/postgres: delete post: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("post %s: %w", postID, docstore.ErrNotFound)
		}
		if _, err := tx.Exec(ctx,
			`UPDATE socialq_users SET posts_count = posts_count - 1 WHERE id = $1`,
			userID,
		); err != nil {
			return fmt.Errorf("socialq/docstore/postgres: decrement posts_count: %w", err)
		}
		return nil
	})
}

// GetPost returns a post with its current comments_count.
func (s *Store) GetPost(ctx context.Context, postID string) (*docstore.Post, error) {
	var (
		doc   []byte
		count int
	)
	err := s.pool.QueryRow(ctx,
		`SELECT doc, comments_count FROM socialq_posts WHERE id = $1`, postID,
	).Scan(&doc, &count)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("post %s: %w", postID, docstore.ErrNotFound)
		}
		return nil, fmt.Errorf("socialq/docstore/postgres: get post: %w", err)
	}
	var p docstore.Post
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("socialq/docstore/postgres: decode post: %w", err)
	}
	p.CommentsCount = count
	return &p, nil
}

// AddComment inserts c if its ID is new and bumps the post's
// comments_count only in that case.
func (s *Store) AddComment(ctx context.Context, c *docstore.Comment) (bool, error) {
	doc, err := json.Marshal(c)
	if err != nil {
		return false, fmt.Errorf("socialq/docstore/postgres: encode comment: %w", err)
	}
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var inserted bool
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO socialq_comments (id, post_id, doc, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING`,
			c.ID, c.PostID, doc, createdAt,
		)
		if err != nil {
			return fmt.Errorf("socialq/docstore/postgres: insert comment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		inserted = true
		if _, err := tx.Exec(ctx,
			`UPDATE socialq_posts SET comments_count = comments_count + 1 WHERE id = $1`,
			c.PostID,
		); err != nil {
			return fmt.Errorf("socialq/docstore/postgres: increment comments_count: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return inserted, nil
}
