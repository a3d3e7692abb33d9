package errx

import (
	"context"
	"errors"
	"net/http"

	"github.com/redis/go-redis/v9"
)

// WrapRedis classifies a session-store error. A missing key is internal
// (callers treat it as a new session), a cancelled or expired context is
// returned untouched, and everything else is an external service failure.
func WrapRedis(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return NewKind(KindInternal, err, http.StatusNotFound, RedisNotFoundMessage)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, redis.ErrClosed):
		return NewKind(KindExternalService, err, http.StatusServiceUnavailable, RedisErrorMessage)
	default:
		return NewKind(KindExternalService, err, http.StatusBadGateway, RedisErrorMessage)
	}
}
