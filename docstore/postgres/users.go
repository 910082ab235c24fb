package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/socialq/docstore"
)

// CreateUser inserts a profile and its credential together.
func (s *Store) CreateUser(ctx context.Context, u *docstore.UserSummary, a *docstore.Auth) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO socialq_users (
				id, uid, username, profile_picture, avatar_color,
				followers_count, following_count, posts_count
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			u.ID, u.UID, u.Username, u.ProfilePicture, u.AvatarColor,
			u.FollowersCount, u.FollowingCount, u.PostsCount,
		)
		if err != nil {
			return fmt.Errorf("socialq/docstore/postgres: insert user: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO socialq_auth (id, user_id, username, email, password_hash)
			VALUES ($1, $2, $3, $4, $5)`,
			a.ID, u.ID, a.Username, a.Email, a.PasswordHash,
		)
		if err != nil {
			if isDuplicateKey(err) {
				return fmt.Errorf("socialq/docstore/postgres: email %s already registered", a.Email)
			}
			return fmt.Errorf("socialq/docstore/postgres: insert auth: %w", err)
		}
		return nil
	})
}

// GetUserSummary returns the profile for userID.
func (s *Store) GetUserSummary(ctx context.Context, userID string) (*docstore.UserSummary, error) {
	var u docstore.UserSummary
	err := s.pool.QueryRow(ctx, `
		SELECT id, uid, username, profile_picture, avatar_color,
			followers_count, following_count, posts_count
		FROM socialq_users WHERE id = $1`,
		userID,
	).Scan(
		&u.ID, &u.UID, &u.Username, &u.ProfilePicture, &u.AvatarColor,
		&u.FollowersCount, &u.FollowingCount, &u.PostsCount,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("user %s: %w", userID, docstore.ErrNotFound)
		}
		return nil, fmt.Errorf("socialq/docstore/postgres: get user: %w", err)
	}
	return &u, nil
}

const authColumns = `id, user_id, username, email, password_hash, reset_token, reset_expires`

func scanAuth(row pgx.Row) (*docstore.Auth, error) {
	var (
		a       docstore.Auth
		token   *string
		expires *time.Time
	)
	if err := row.Scan(&a.ID, &a.UserID, &a.Username, &a.Email, &a.PasswordHash, &token, &expires); err != nil {
		return nil, err
	}
	if token != nil {
		a.ResetToken = *token
	}
	if expires != nil {
		a.ResetExpires = *expires
	}
	return &a, nil
}

// GetAuthByEmail looks a credential up by email.
func (s *Store) GetAuthByEmail(ctx context.Context, email string) (*docstore.Auth, error) {
	a, err := scanAuth(s.pool.QueryRow(ctx,
		`SELECT `+authColumns+` FROM socialq_auth WHERE email = $1`, email,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("auth %s: %w", email, docstore.ErrNotFound)
		}
		return nil, fmt.Errorf("socialq/docstore/postgres: get auth by email: %w", err)
	}
	return a, nil
}

// GetAuthByResetToken looks a credential up by an unexpired reset token.
func (s *Store) GetAuthByResetToken(ctx context.Context, token string, now time.Time) (*docstore.Auth, error) {
	a, err := scanAuth(s.pool.QueryRow(ctx,
		`SELECT `+authColumns+` FROM socialq_auth WHERE reset_token = $1 AND reset_expires > $2`,
		token, now,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("reset token: %w", docstore.ErrNotFound)
		}
		return nil, fmt.Errorf("socialq/docstore/postgres: get auth by token: %w", err)
	}
	return a, nil
}

// SetResetToken records a reset token and its expiry.
func (s *Store) SetResetToken(ctx context.Context, authID, token string, expires time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE socialq_auth SET reset_token = $2, reset_expires = $3 WHERE id = $1`,
		authID, nilIfEmpty(token), expires,
	)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: set reset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auth %s: %w", authID, docstore.ErrNotFound)
	}
	return nil
}

// UpdatePassword stores a new hash and clears the reset token.
func (s *Store) UpdatePassword(ctx context.Context, authID, passwordHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE socialq_auth
		SET password_hash = $2, reset_token = NULL, reset_expires = NULL
		WHERE id = $1`,
		authID, passwordHash,
	)
	if err != nil {
		return fmt.Errorf("socialq/docstore/postgres: update password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("auth %s: %w", authID, docstore.ErrNotFound)
	}
	return nil
}
