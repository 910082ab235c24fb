// Package api exposes the read-mostly monitoring surface: queue counts,
// job lookups, the dead letter queue and a health check. When configured
// it also serves the password-reset flow and follower lists.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/socialq"
	"github.com/xraph/socialq/engine"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Pinger is anything the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Option configures an API.
type Option func(*API)

// WithLogger sets the logger used for handler errors.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithCache adds the cache to the health check.
func WithCache(p Pinger) Option {
	return func(a *API) { a.cache = p }
}

// API wires the monitoring handlers to an Engine.
type API struct {
	eng       *engine.Engine
	cache     Pinger
	passwords PasswordResetter
	followers FollowerLister
	logger    *slog.Logger
}

// New creates an API reading from eng.
func New(eng *engine.Engine, opts ...Option) *API {
	a := &API{eng: eng, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With("component", "api")
	return a
}

// Handler returns a chi router with every route mounted.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the routes on an existing router.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", a.health)

	r.Route("/queues", func(r chi.Router) {
		r.Get("/", a.listQueues)
		r.Get("/{name}", a.getQueue)
	})

	r.Get("/jobs/{jobId}", a.getJob)

	r.Route("/dlq", func(r chi.Router) {
		r.Get("/", a.listDLQ)
		r.Get("/count", a.dlqCount)
		r.Post("/purge", a.purgeDLQ)
		r.Get("/{entryId}", a.getDLQ)
		r.Post("/{entryId}/replay", a.replayDLQ)
	})

	if a.passwords != nil {
		r.Route("/password", func(r chi.Router) {
			r.Post("/forgot", a.forgotPassword)
			r.Post("/reset/{token}", a.resetPassword)
		})
	}
	if a.followers != nil {
		r.Get("/users/{userId}/followers", a.listFollowers)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// fail maps store errors to a status. Anything unexpected is logged and
// answered with the generic server error.
func (a *API) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case isNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, socialq.ErrBrokerUnavailable):
		writeError(w, http.StatusServiceUnavailable, socialq.ErrBrokerUnavailable.Error())
	default:
		a.logger.ErrorContext(r.Context(), "request failed",
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, socialq.ErrServer.Error())
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, socialq.ErrJobNotFound) ||
		errors.Is(err, socialq.ErrDLQNotFound) ||
		errors.Is(err, socialq.ErrQueueNotFound)
}

// page reads limit and offset from the query string.
func page(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if s := r.URL.Query().Get("limit"); s != "" {
		if limit, err = strconv.Atoi(s); err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		limit = min(limit, maxPageSize)
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if offset, err = strconv.Atoi(s); err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
