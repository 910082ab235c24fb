// Package docstore defines the system-of-record collaborators the queue
// workers and the social cache write to and read from: posts, comments
// and users.
//
// Implementations live in docstore/postgres and docstore/memory.
package docstore

import (
	"context"
	"time"

	"github.com/xraph/socialq"
)

// ErrNotFound is returned when the addressed record does not exist.
var ErrNotFound = socialq.ErrNotFound

// Post is a user's post document.
type Post struct {
	ID             string         `json:"_id"`
	UserID         string         `json:"userId" validate:"required"`
	Username       string         `json:"username" validate:"required"`
	Email          string         `json:"email"`
	AvatarColor    string         `json:"avatarColor"`
	ProfilePicture string         `json:"profilePicture"`
	Post           string         `json:"post"`
	BgColor        string         `json:"bgColor"`
	Feelings       string         `json:"feelings"`
	Privacy        string         `json:"privacy"`
	GifURL         string         `json:"gifUrl"`
	ImgVersion     string         `json:"imgVersion"`
	ImgID          string         `json:"imgId"`
	CommentsCount  int            `json:"commentsCount"`
	Reactions      map[string]int `json:"reactions,omitempty"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// Comment is a comment on a post.
type Comment struct {
	ID             string    `json:"_id" validate:"required"`
	PostID         string    `json:"postId" validate:"required"`
	UserTo         string    `json:"userTo"`
	Username       string    `json:"username" validate:"required"`
	AvatarColor    string    `json:"avatarColor"`
	ProfilePicture string    `json:"profilePicture"`
	Comment        string    `json:"comment" validate:"required"`
	CreatedAt      time.Time `json:"createdAt"`
}

// UserSummary is the public projection of a user shown in follower lists.
type UserSummary struct {
	ID             string `json:"_id"`
	UID            string `json:"uId"`
	Username       string `json:"username"`
	ProfilePicture string `json:"profilePicture"`
	AvatarColor    string `json:"avatarColor"`
	FollowersCount int    `json:"followersCount"`
	FollowingCount int    `json:"followingCount"`
	PostsCount     int    `json:"postCount"`
}

// Auth is a user's credential record.
type Auth struct {
	ID           string
	UserID       string
	Username     string
	Email        string
	PasswordHash string
	ResetToken   string
	ResetExpires time.Time
}

// Posts persists post documents.
type Posts interface {
	// SavePost inserts the post or replaces the one with the same ID.
	SavePost(ctx context.Context, p *Post) error
	// UpdatePost replaces an existing post. Returns ErrNotFound when absent.
	UpdatePost(ctx context.Context, p *Post) error
	// DeletePost removes a post and decrements its author's postsCount in
	// the same transaction. Returns ErrNotFound when absent.
	DeletePost(ctx context.Context, postID, userID string) error
}

// Comments persists comments.
type Comments interface {
	// AddComment inserts c unless a comment with its ID already exists,
	// incrementing the post's commentsCount only when it inserted.
	AddComment(ctx context.Context, c *Comment) (inserted bool, err error)
}

// Users reads user profiles and manages credentials.
type Users interface {
	GetUserSummary(ctx context.Context, userID string) (*UserSummary, error)
	GetAuthByEmail(ctx context.Context, email string) (*Auth, error)
	// GetAuthByResetToken returns the credential holding token whose
	// expiry is after now. Returns ErrNotFound otherwise.
	GetAuthByResetToken(ctx context.Context, token string, now time.Time) (*Auth, error)
	SetResetToken(ctx context.Context, authID, token string, expires time.Time) error
	// UpdatePassword stores a new hash and clears any reset token.
	UpdatePassword(ctx context.Context, authID, passwordHash string) error
}

// Store is the full system of record.
type Store interface {
	Posts
	Comments
	Users
	Ping(ctx context.Context) error
	Close() error
}
