package social

import (
	"errors"

	"github.com/xraph/socialq"
)

// ServerError is the only error the social cache returns. Its message is
// the fixed user-facing text; the cause is logged, never carried.
//
// It matches socialq.ErrServer and, when the cause was a cache failure,
// its category: socialq.ErrCacheUnavailable or socialq.ErrCacheOperation.
type ServerError struct {
	Op       string
	category error
}

func (e *ServerError) Error() string { return socialq.ErrServer.Error() }

// Is reports whether target is ErrServer or the error's category.
func (e *ServerError) Is(target error) bool {
	return target == socialq.ErrServer || (e.category != nil && target == e.category)
}

// Category returns socialq.ErrCacheUnavailable, socialq.ErrCacheOperation
// or nil when the cause was outside the cache.
func (e *ServerError) Category() error { return e.category }

func categorize(err error) error {
	switch {
	case errors.Is(err, socialq.ErrCacheUnavailable):
		return socialq.ErrCacheUnavailable
	case errors.Is(err, socialq.ErrCacheOperation):
		return socialq.ErrCacheOperation
	default:
		return nil
	}
}
