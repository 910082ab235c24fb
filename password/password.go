// Package password issues and redeems password-reset tokens. Both steps
// notify the user by enqueueing an email job; neither waits for delivery.
package password

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/xraph/socialq/docstore"
	"github.com/xraph/socialq/email"
	"github.com/xraph/socialq/job"
)

var (
	// ErrInvalidCredentials is returned when no account has the email.
	ErrInvalidCredentials = errors.New("socialq: invalid credentials")
	// ErrTokenExpired is returned for unknown, used or expired tokens.
	ErrTokenExpired = errors.New("socialq: reset token expired")
	// ErrInvalidPassword is returned when the new password is unusable.
	ErrInvalidPassword = errors.New("socialq: invalid password")
)

// DefaultTTL is how long a reset token stays valid.
const DefaultTTL = time.Hour

// Password length bounds. bcrypt ignores input past 72 bytes.
const (
	MinLength = 4
	MaxLength = 72
)

const tokenBytes = 20

// Email subjects.
const (
	ResetSubject        = "Reset Your Password"
	ConfirmationSubject = "Password Reset Confirmation"
)

// Enqueuer accepts email jobs. *engine.Queue implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, payload any, opts ...job.Option) (*job.Job, error)
}

// ExpiryFunc returns when a token issued at now expires.
type ExpiryFunc func(now time.Time) time.Time

// TTL returns an ExpiryFunc that adds d to the issue time.
func TTL(d time.Duration) ExpiryFunc {
	return func(now time.Time) time.Time { return now.Add(d) }
}

// Option configures a Service.
type Option func(*Service)

// WithExpiry sets how token expiry is computed.
func WithExpiry(f ExpiryFunc) Option {
	return func(s *Service) { s.expiry = f }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithBcryptCost sets the bcrypt work factor.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// Service runs the password-reset flow.
type Service struct {
	users     docstore.Users
	emails    Enqueuer
	templates *email.Templates
	clientURL string

	expiry ExpiryFunc
	now    func() time.Time
	cost   int
	logger *slog.Logger
}

// New creates a Service. Reset links point at clientURL.
func New(users docstore.Users, emails Enqueuer, templates *email.Templates, clientURL string, opts ...Option) *Service {
	s := &Service{
		users:     users,
		emails:    emails,
		templates: templates,
		clientURL: strings.TrimRight(clientURL, "/"),
		expiry:    TTL(DefaultTTL),
		now:       time.Now,
		cost:      bcrypt.DefaultCost,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "password")
	return s
}

// RequestReset issues a token for the account registered to addr and
// queues the reset-link email. It returns the token.
func (s *Service) RequestReset(ctx context.Context, addr string) (string, error) {
	auth, err := s.users.GetAuthByEmail(ctx, addr)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("socialq/password: lookup: %w", err)
	}

	token, err := newToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	if err := s.users.SetResetToken(ctx, auth.ID, token, s.expiry(now)); err != nil {
		return "", fmt.Errorf("socialq/password: store token: %w", err)
	}

	link := s.clientURL + "/reset-password?token=" + url.QueryEscape(token)
	html, err := s.templates.ForgotPassword(auth.Username, link)
	if err != nil {
		return "", err
	}
	if err := s.send(ctx, auth.Email, ResetSubject, html); err != nil {
		return "", err
	}
	return token, nil
}

// Reset sets a new password for the account holding token, clears the
// token and queues a confirmation email. ip is the requester's address.
func (s *Service) Reset(ctx context.Context, token, newPassword, ip string) error {
	if n := len(newPassword); n < MinLength || n > MaxLength {
		return fmt.Errorf("%w: length must be %d to %d", ErrInvalidPassword, MinLength, MaxLength)
	}

	now := s.now().UTC()
	auth, err := s.users.GetAuthByResetToken(ctx, token, now)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return ErrTokenExpired
		}
		return fmt.Errorf("socialq/password: lookup token: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.cost)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPassword, err)
	}
	if err := s.users.UpdatePassword(ctx, auth.ID, string(hash)); err != nil {
		return fmt.Errorf("socialq/password: update: %w", err)
	}

	html, err := s.templates.ResetConfirmation(email.ResetParams{
		Username:  auth.Username,
		Email:     auth.Email,
		IPAddress: ip,
		Date:      now.Format("02/01/2006 15:04"),
	})
	if err != nil {
		return err
	}
	return s.send(ctx, auth.Email, ConfirmationSubject, html)
}

func (s *Service) send(ctx context.Context, to, subject, html string) error {
	_, err := s.emails.Enqueue(ctx, email.ResetPasswordEmail, email.Job{
		ReceiverEmail: to,
		Subject:       subject,
		Template:      html,
	})
	if err != nil {
		s.logger.Error("enqueue email failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("socialq/password: queue email, try again: %w", err)
	}
	return nil
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("socialq/password: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
