package model

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationState(t *testing.T) {
	t.Run("Should keep turns in order with unique ids", func(t *testing.T) {
		s := NewConversationState("s-1")
		q := s.Append(RoleUser, "hello")
		a := s.Append(RoleAssistant, "hi there")

		require.Len(t, s.Messages, 2)
		assert.NotEqual(t, q.ID, a.ID)
		assert.Equal(t, RoleUser, s.Messages[0].Role)
		assert.Equal(t, a.CreatedAt, s.UpdatedAt)
	})

	t.Run("Should prune only the listed ids", func(t *testing.T) {
		s := NewConversationState("s-1")
		var ids []string
		for i := 0; i < 5; i++ {
			ids = append(ids, s.Append(RoleUser, "q").ID)
		}

		removed := s.Prune(ids[:3])

		assert.Equal(t, 3, removed)
		require.Len(t, s.Messages, 2)
		assert.Equal(t, ids[3], s.Messages[0].ID)
		assert.Equal(t, ids[4], s.Messages[1].ID)
	})

	t.Run("Should skip empty turns when converting to messages", func(t *testing.T) {
		s := NewConversationState("s-1")
		s.Append(RoleUser, "question")
		s.Append(RoleAssistant, "  ")

		msgs := s.ToSchemaMessages()
		require.Len(t, msgs, 1)
		assert.Equal(t, schema.User, msgs[0].Role)
	})
}

func TestParseRoute(t *testing.T) {
	cases := map[string]Route{
		"":             RouteChat,
		"web_search":   RouteWebSearch,
		" VECTORSTORE": RouteVectorstore,
		"tools":        RouteTools,
	}
	for in, want := range cases {
		got, ok := ParseRoute(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}

	got, ok := ParseRoute("additional_tools")
	assert.False(t, ok)
	assert.Equal(t, RouteChat, got)
	assert.Equal(t, "chat", got.Label())
}

func TestFormatDocuments(t *testing.T) {
	out := FormatDocuments([]Document{
		{Content: "tax rate", Source: "law.pdf", Page: 0},
		{Content: "deduction", Source: "law.pdf", Page: 4},
	})

	assert.Contains(t, out, "<document><content>tax rate</content><source>law.pdf</source><page>1</page></document>")
	assert.Contains(t, out, "<page>5</page>")
}

func TestFormatSearchResults(t *testing.T) {
	out := FormatSearchResults([]SearchHit{{Title: "Seoul weather", URL: "https://w.example", Snippet: "sunny"}})

	assert.Equal(t, "<document><content>Seoul weather: sunny</content><source>https://w.example</source></document>", out)
}

func TestFormatToolRecords(t *testing.T) {
	records := []ToolRecord{
		{Type: ToolCall, Name: "now_datetime", Args: "{}"},
		{Type: ToolResult, Name: "now_datetime", Content: "2024-05-01T10:00:00Z"},
		{Type: ToolResult, Name: "python_repl", Content: "exit status 1", IsError: true},
	}

	out := FormatToolRecords(records)
	assert.Contains(t, out, "called now_datetime with {}")
	assert.Contains(t, out, "now_datetime returned: 2024-05-01T10:00:00Z")
	assert.Contains(t, out, "python_repl failed: exit status 1")
	assert.Equal(t, 1, CountCalls(records, "now_datetime"))
}

func TestCostTracker(t *testing.T) {
	ctx, tracker := WithCostTracker(context.Background())
	require.Same(t, tracker, CostTrackerFrom(ctx))
	assert.Nil(t, CostTrackerFrom(context.Background()))

	total := tracker.Add(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000, TotalTokens: 2_000_000},
		ResolvePricing("gemini-2.5-flash-lite"))

	assert.InDelta(t, 0.50, total, 1e-9)
	assert.Equal(t, 1, tracker.Calls())
	assert.Equal(t, Pricing{}, ResolvePricing("unknown-model"))
}
