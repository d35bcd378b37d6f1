package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Sentinel errors for the backend adapter. Callers classify failures with
// errors.Is; the concrete cause stays wrapped underneath.
var (
	// ErrBackendUnavailable covers pool exhaustion, an open circuit breaker
	// and transport-level failures. The call may not have reached the server.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrBackendTimeout means the per-operation deadline elapsed.
	ErrBackendTimeout = errors.New("backend operation timed out")

	// ErrNotFound is returned by point reads when the key does not exist.
	ErrNotFound = errors.New("key not found")
)

// classify wraps a raw go-redis error into the adapter's taxonomy. redis.Nil
// is not an error at this layer; callers that care receive ErrNotFound from
// the point-read helpers instead.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%s: %w: %v", op, ErrBackendTimeout, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, redis.ErrClosed):
		return fmt.Errorf("%s: %w: client closed", op, ErrBackendUnavailable)
	default:
		return fmt.Errorf("%s: %w: %v", op, ErrBackendUnavailable, err)
	}
}
