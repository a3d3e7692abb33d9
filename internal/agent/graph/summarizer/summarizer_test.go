package summarizer

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

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

func session(n int) *model.ConversationState {
	st := model.NewConversationState("s1")
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		st.Append(role, fmt.Sprintf("message %d", i))
	}
	return st
}

func TestSummarize(t *testing.T) {
	t.Run("Should keep the last two turns and a non-empty summary", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Text("  사용자는 날씨와 세금에 대해 물었다.  "))
		s := New(cm, invoker(), "m", Config{Language: "Korean"})
		st := session(7)

		summary, drop, err := s.Summarize(context.Background(), "", st.Messages)
		require.NoError(t, err)
		st.Summary = summary
		st.Prune(drop)

		assert.Equal(t, "사용자는 날씨와 세금에 대해 물었다.", st.Summary)
		require.Len(t, st.Messages, 2)
		assert.Equal(t, "message 5", st.Messages[0].Content)
		assert.Equal(t, "message 6", st.Messages[1].Content)

		prompt := testutil.AllText(cm.Calls()[0])
		assert.Contains(t, prompt, "Create a summary of the conversation above")
		assert.Contains(t, prompt, "Korean")
		assert.Contains(t, prompt, "message 0")
	})

	t.Run("Should extend an existing summary", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Text("longer summary"))
		s := New(cm, invoker(), "m", Config{})

		summary, _, err := s.Summarize(context.Background(), "old summary", session(7).Messages)

		require.NoError(t, err)
		assert.Equal(t, "longer summary", summary)
		prompt := testutil.AllText(cm.Calls()[0])
		assert.Contains(t, prompt, "This is summary of the conversation to date: old summary")
		assert.Contains(t, prompt, "Extend the summary")
	})

	t.Run("Should refuse an empty summary", func(t *testing.T) {
		s := New(testutil.NewChatModel(testutil.Text("   ")), invoker(), "m", Config{})

		_, drop, err := s.Summarize(context.Background(), "", session(7).Messages)

		assert.ErrorIs(t, err, ErrEmptySummary)
		assert.Nil(t, drop)
	})

	t.Run("Should surface model outages", func(t *testing.T) {
		s := New(testutil.NewChatModel(testutil.Fail(errors.New("503"))), invoker(), "m", Config{})

		_, drop, err := s.Summarize(context.Background(), "", session(7).Messages)

		assert.True(t, errx.IsKind(err, errx.KindExternalService))
		assert.Nil(t, drop)
	})

	t.Run("Should drop nothing when history is short", func(t *testing.T) {
		s := New(testutil.NewChatModel(testutil.Text("x")), invoker(), "m", Config{})

		_, drop, err := s.Summarize(context.Background(), "", session(2).Messages)

		require.NoError(t, err)
		assert.Empty(t, drop)
	})
}

func TestDue(t *testing.T) {
	s := New(nil, nil, "m", Config{})
	assert.False(t, s.Due(6))
	assert.True(t, s.Due(7))
}
