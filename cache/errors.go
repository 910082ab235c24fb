package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/socialq"
)

// OpError reports a command the server rejected. It matches
// socialq.ErrCacheOperation and unwraps to the client error.
type OpError struct {
	Op  string
	Key string
	Err error
}

func (e *OpError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("socialq/cache: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("socialq/cache: %s %s: %v", e.Op, e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Is reports whether target is socialq.ErrCacheOperation.
func (e *OpError) Is(target error) bool { return target == socialq.ErrCacheOperation }

// classify maps a client error onto the cache error categories.
func classify(op, key string, err error) error {
	if unavailable(err) {
		return fmt.Errorf("%w: %s %s: %v", socialq.ErrCacheUnavailable, op, key, err)
	}
	return &OpError{Op: op, Key: key, Err: err}
}

func unavailable(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	if errors.Is(err, goredis.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
