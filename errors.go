package socialq

import "errors"

var (
	// Store errors.
	ErrNoStore = errors.New("socialq: no store configured")

	// Queue errors.
	ErrBrokerUnavailable = errors.New("socialq: broker unavailable")
	ErrJobFailedTerminal = errors.New("socialq: job failed terminally")
	ErrUnknownJob        = errors.New("socialq: no worker registered for job")
	ErrInvalidPayload    = errors.New("socialq: invalid job payload")

	// Not found errors.
	ErrJobNotFound   = errors.New("socialq: job not found")
	ErrDLQNotFound   = errors.New("socialq: dlq entry not found")
	ErrNotFound      = errors.New("socialq: record not found")
	ErrQueueNotFound = errors.New("socialq: queue not monitored")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("socialq: job already exists")

	// Cache errors.
	ErrCacheUnavailable = errors.New("socialq: cache unavailable")
	ErrCacheOperation   = errors.New("socialq: cache operation failed")

	// ErrServer is the single category callers of the social cache see.
	ErrServer = errors.New("Server Error. Please Try Again") //nolint:staticcheck // user-facing message
)
