package nodes

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	"github.com/tanpawarit/chative-router/internal/agent/testutil"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

func fastInvoker(retries uint64) *Invoker {
	return NewInvoker(model.LLMCallConfig{Timeout: time.Second, Retries: retries, Backoff: time.Millisecond})
}

func TestInvokerGenerate(t *testing.T) {
	call := Call{Node: NodeRoute, Model: "gemini-2.5-flash-lite"}
	msgs := []*schema.Message{schema.UserMessage("hi")}

	t.Run("Should retry transient failures", func(t *testing.T) {
		attempts := 0
		cm := testutil.NewChatModel(func(context.Context, []*schema.Message) (*schema.Message, error) {
			attempts++
			if attempts < 2 {
				return nil, errors.New("503 unavailable")
			}
			return schema.AssistantMessage("ok", nil), nil
		})

		out, err := fastInvoker(2).Generate(context.Background(), cm, call, msgs)

		require.NoError(t, err)
		assert.Equal(t, "ok", out.Content)
		assert.Equal(t, 2, attempts)
	})

	t.Run("Should surface an external service error when retries run out", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Fail(errors.New("429 rate limited")))

		_, err := fastInvoker(1).Generate(context.Background(), cm, call, msgs)

		require.Error(t, err)
		assert.True(t, errx.IsKind(err, errx.KindExternalService))
		assert.Equal(t, 2, cm.CallCount())
	})

	t.Run("Should record usage on the turn tracker", func(t *testing.T) {
		reply := schema.AssistantMessage("ok", nil)
		reply.ResponseMeta = &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens: 1_000_000, CompletionTokens: 0, TotalTokens: 1_000_000,
		}}
		cm := testutil.NewChatModel(testutil.Sequence(reply))
		ctx, tracker := model.WithCostTracker(context.Background())

		out, err := fastInvoker(0).Generate(ctx, cm, call, msgs)

		require.NoError(t, err)
		assert.InDelta(t, 0.10, tracker.Total(), 1e-9)
		assert.Contains(t, out.Extra, "usage_cost")
	})
}

func TestToolLimitHelpers(t *testing.T) {
	state := &model.ToolLoopState{}

	assert.False(t, addToolCallsAndCheck(state, 2, 3))
	assert.False(t, checkAndMarkToolLimit(state, 3))
	assert.True(t, addToolCallsAndCheck(state, 2, 3))
	assert.True(t, state.ToolCallLimitReached)
	assert.False(t, checkAndMarkToolLimit(state, 3))
	assert.Equal(t, DefaultMaxToolCalls, normalizeMaxToolCalls(0))
}

func TestParseToolError(t *testing.T) {
	msg, ok := ParseToolError(ToolErrorResult("tool_execution", "python_repl", "exit status 1"))
	assert.True(t, ok)
	assert.Equal(t, "tool_execution: exit status 1", msg)

	_, ok = ParseToolError(`{"datetime":"2024-05-01T10:00:00Z"}`)
	assert.False(t, ok)

	_, ok = ParseToolError("plain text")
	assert.False(t, ok)
}
