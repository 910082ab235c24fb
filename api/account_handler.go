package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xraph/socialq/docstore"
	"github.com/xraph/socialq/password"
)

// PasswordResetter runs the reset flow. *password.Service implements it.
type PasswordResetter interface {
	RequestReset(ctx context.Context, addr string) (string, error)
	Reset(ctx context.Context, token, newPassword, ip string) error
}

// FollowerLister reads follower lists. *social.Cache implements it.
type FollowerLister interface {
	ListFollowers(ctx context.Context, userID string) ([]docstore.UserSummary, error)
}

// WithPasswordReset mounts the password-reset routes.
func WithPasswordReset(p PasswordResetter) Option {
	return func(a *API) { a.passwords = p }
}

// WithFollowers mounts the follower list route.
func WithFollowers(f FollowerLister) Option {
	return func(a *API) { a.followers = f }
}

type messageResponse struct {
	Message string `json:"message"`
}

type forgotRequest struct {
	Email string `json:"email"`
}

type resetRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}

	// The token only travels in the email.
	if _, err := a.passwords.RequestReset(r.Context(), req.Email); err != nil {
		if errors.Is(err, password.ErrInvalidCredentials) {
			writeError(w, http.StatusBadRequest, "Invalid Credentials")
			return
		}
		a.fail(w, r, "request password reset", err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Reset Password Link Sent"})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.Password {
		writeError(w, http.StatusBadRequest, "Passwords do not match")
		return
	}

	err := a.passwords.Reset(r.Context(), chi.URLParam(r, "token"), req.Password, clientIP(r))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, messageResponse{Message: "Password successfully updated"})
	case errors.Is(err, password.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "Reset token expired")
	case errors.Is(err, password.ErrInvalidPassword):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		a.fail(w, r, "reset password", err)
	}
}

type followersResponse struct {
	Followers []docstore.UserSummary `json:"followers"`
}

func (a *API) listFollowers(w http.ResponseWriter, r *http.Request) {
	list, err := a.followers.ListFollowers(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		a.fail(w, r, "list followers", err)
		return
	}
	writeJSON(w, http.StatusOK, followersResponse{Followers: list})
}

// clientIP strips the port RealIP leaves on direct connections.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
