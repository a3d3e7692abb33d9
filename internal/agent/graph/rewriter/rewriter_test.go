package rewriter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	"github.com/tanpawarit/chative-router/internal/agent/testutil"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

func invoker() *nodes.Invoker {
	return nodes.NewInvoker(model.LLMCallConfig{Timeout: time.Second, Backoff: time.Millisecond})
}

func TestReformulate(t *testing.T) {
	t.Run("Should return a normalized new query", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Text("Query: \"seoul weather today\"\n"))
		r := New(cm, invoker(), "m", VariantWebSearch, Config{})

		q, err := r.Reformulate(context.Background(), nil, "", "What is the current weather today?")

		require.NoError(t, err)
		assert.Equal(t, "seoul weather today", q)
	})

	t.Run("Should retry once after a repeat", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			schema.AssistantMessage("Seoul  Weather today", nil),
			schema.AssistantMessage("seoul weather site:kma.go.kr", nil),
		))
		r := New(cm, invoker(), "m", VariantWebSearch, Config{})

		q, err := r.Reformulate(context.Background(), []string{"seoul weather today"}, "", "weather?")

		require.NoError(t, err)
		assert.Equal(t, "seoul weather site:kma.go.kr", q)
		calls := cm.Calls()
		require.Len(t, calls, 2)
		assert.Contains(t, testutil.SystemPrompt(calls[1]), "repeats a query")
	})

	t.Run("Should fail closed when the model keeps repeating", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Text("seoul weather today"))
		r := New(cm, invoker(), "m", VariantWebSearch, Config{})

		_, err := r.Reformulate(context.Background(), []string{"seoul weather today"}, "", "weather?")

		assert.ErrorIs(t, err, ErrRepeatedQuery)
		assert.True(t, errx.IsKind(err, errx.KindRetryExhausted))
		assert.Equal(t, 2, cm.CallCount())
	})

	t.Run("Should ask for the corpus language in the vectorstore variant", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Text("부가가치세 세율"))
		r := New(cm, invoker(), "m", VariantVectorstore, Config{CorpusLanguage: "Korean", CorpusDescription: "Korean tax law"})

		q, err := r.Reformulate(context.Background(), nil, "", "What is the VAT rate?")

		require.NoError(t, err)
		assert.Equal(t, "부가가치세 세율", q)
		assert.Contains(t, testutil.SystemPrompt(cm.Calls()[0]), "written in Korean")
	})

	t.Run("Should propagate model outages", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Fail(errors.New("timeout")))
		r := New(cm, invoker(), "m", VariantWebSearch, Config{})

		_, err := r.Reformulate(context.Background(), nil, "", "q")

		assert.True(t, errx.IsKind(err, errx.KindExternalService))
	})
}

func TestNoConsecutiveDuplicates(t *testing.T) {
	cm := testutil.NewChatModel(testutil.Sequence(
		schema.AssistantMessage("a", nil),
		schema.AssistantMessage("a", nil),
		schema.AssistantMessage("b", nil),
		schema.AssistantMessage("B ", nil),
		schema.AssistantMessage("c", nil),
	))
	r := New(cm, invoker(), "m", VariantWebSearch, Config{})

	var history []string
	for i := 0; i < 3; i++ {
		q, err := r.Reformulate(context.Background(), history, "", "q")
		require.NoError(t, err)
		history = append(history, q)
	}

	assert.Equal(t, []string{"a", "b", "c"}, history)
	for i := 1; i < len(history); i++ {
		assert.NotEqual(t, queryKey(history[i-1]), queryKey(history[i]))
	}
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "cats -dogs", Normalize("```\ncats -dogs\n```"))
	assert.Equal(t, "", Normalize("  \n "))
}
