package errx

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Run("Should find kind through fmt wrapping", func(t *testing.T) {
		base := errors.New("dial tcp: refused")
		err := fmt.Errorf("route: %w", ExternalService("llm", base))

		assert.Equal(t, KindExternalService, KindOf(err))
		assert.True(t, IsKind(err, KindExternalService))
		assert.ErrorIs(t, err, base)
	})

	t.Run("Should default to internal for plain errors", func(t *testing.T) {
		assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
		assert.False(t, IsKind(nil, KindInternal))
	})

	t.Run("Should expose AppError via errors.As", func(t *testing.T) {
		err := fmt.Errorf("load: %w", StateCorruption("s-1", errors.New("bad json")))

		var appErr *AppError
		require.ErrorAs(t, err, &appErr)
		assert.Equal(t, KindStateCorruption, appErr.Kind)
		assert.Contains(t, appErr.Error(), "s-1")
	})
}

func TestHelpersIgnoreNil(t *testing.T) {
	assert.NoError(t, ExternalService("search", nil))
	assert.NoError(t, ToolExecution("python_repl", nil))
	assert.NoError(t, WrapRedis(nil))
}

func TestRetryExhaustedDefaultCause(t *testing.T) {
	err := RetryExhausted("web_search", 3, nil)

	assert.True(t, IsKind(err, KindRetryExhausted))
	assert.Contains(t, err.Error(), "3 attempts")
}

func TestWrapRedis(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(WrapRedis(redis.Nil)))
	assert.Equal(t, KindExternalService, KindOf(WrapRedis(errors.New("i/o timeout"))))
	assert.Equal(t, KindExternalService, KindOf(WrapRedis(redis.ErrClosed)))

	err := WrapRedis(context.DeadlineExceeded)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var appErr *AppError
	assert.False(t, errors.As(err, &appErr))
}

func TestUserMessageHidesDetails(t *testing.T) {
	err := ExternalService("llm", errors.New("401 invalid api key sk-secret"))

	msg := UserMessage(err)
	assert.NotContains(t, msg, "sk-secret")
	assert.Contains(t, msg, "Sorry")
}
