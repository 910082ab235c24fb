// Package memory is an in-memory docstore.Store for tests and local
// development. Reads return copies.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xraph/socialq/docstore"
)

var _ docstore.Store = (*Store)(nil)

// Store is an in-memory docstore.Store.
type Store struct {
	mu       sync.RWMutex
	posts    map[string]docstore.Post
	comments map[string]docstore.Comment
	users    map[string]docstore.UserSummary
	auths    map[string]docstore.Auth
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		posts:    make(map[string]docstore.Post),
		comments: make(map[string]docstore.Comment),
		users:    make(map[string]docstore.UserSummary),
		auths:    make(map[string]docstore.Auth),
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Posts
// ──────────────────────────────────────────────────

// SavePost upserts p.
func (s *Store) SavePost(_ context.Context, p *docstore.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts[p.ID] = clonePost(*p)
	return nil
}

// UpdatePost replaces an existing post.
func (s *Store) UpdatePost(_ context.Context, p *docstore.Post) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.posts[p.ID]
	if !ok {
		return fmt.Errorf("post %s: %w", p.ID, docstore.ErrNotFound)
	}
	cp := clonePost(*p)
	cp.CommentsCount = old.CommentsCount
	s.posts[p.ID] = cp
	return nil
}

// DeletePost removes a post and decrements its author's postsCount.
func (s *Store) DeletePost(_ context.Context, postID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return fmt.Errorf("post %s: %w", postID, docstore.ErrNotFound)
	}
	delete(s.posts, postID)
	if u, ok := s.users[userID]; ok {
		u.PostsCount--
		s.users[userID] = u
	}
	return nil
}

// Post returns a stored post.
func (s *Store) Post(postID string) (docstore.Post, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.posts[postID]
	return clonePost(p), ok
}

// ──────────────────────────────────────────────────
// Comments
// ──────────────────────────────────────────────────

// AddComment inserts c once and bumps the post's commentsCount.
func (s *Store) AddComment(_ context.Context, c *docstore.Comment) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.comments[c.ID]; ok {
		return false, nil
	}
	s.comments[c.ID] = *c
	if p, ok := s.posts[c.PostID]; ok {
		p.CommentsCount++
		s.posts[c.PostID] = p
	}
	return true, nil
}

// CommentCount returns how many comments are stored.
func (s *Store) CommentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.comments)
}

// ──────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────

// PutUser stores a user profile.
func (s *Store) PutUser(u docstore.UserSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutAuth stores a credential record.
func (s *Store) PutAuth(a docstore.Auth) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auths[a.ID] = a
}

// Auth returns a stored credential record.
func (s *Store) Auth(authID string) (docstore.Auth, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.auths[authID]
	return a, ok
}

// GetUserSummary returns the profile for userID.
func (s *Store) GetUserSummary(_ context.Context, userID string) (*docstore.UserSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", userID, docstore.ErrNotFound)
	}
	return &u, nil
}

// GetAuthByEmail looks a credential up by email.
func (s *Store) GetAuthByEmail(_ context.Context, email string) (*docstore.Auth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.auths {
		if a.Email == email {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("auth %s: %w", email, docstore.ErrNotFound)
}

// GetAuthByResetToken looks a credential up by an unexpired reset token.
func (s *Store) GetAuthByResetToken(_ context.Context, token string, now time.Time) (*docstore.Auth, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if token == "" {
		return nil, docstore.ErrNotFound
	}
	for _, a := range s.auths {
		if a.ResetToken == token && a.ResetExpires.After(now) {
			return &a, nil
		}
	}
	return nil, fmt.Errorf("reset token: %w", docstore.ErrNotFound)
}

// SetResetToken records a reset token and its expiry.
func (s *Store) SetResetToken(_ context.Context, authID, token string, expires time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[authID]
	if !ok {
		return fmt.Errorf("auth %s: %w", authID, docstore.ErrNotFound)
	}
	a.ResetToken = token
	a.ResetExpires = expires
	s.auths[authID] = a
	return nil
}

// UpdatePassword stores a new hash and clears the reset token.
func (s *Store) UpdatePassword(_ context.Context, authID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auths[authID]
	if !ok {
		return fmt.Errorf("auth %s: %w", authID, docstore.ErrNotFound)
	}
	a.PasswordHash = passwordHash
	a.ResetToken = ""
	a.ResetExpires = time.Time{}
	s.auths[authID] = a
	return nil
}

func clonePost(p docstore.Post) docstore.Post {
	if p.Reactions != nil {
		r := make(map[string]int, len(p.Reactions))
		for k, v := range p.Reactions {
			r[k] = v
		}
		p.Reactions = r
	}
	return p
}
