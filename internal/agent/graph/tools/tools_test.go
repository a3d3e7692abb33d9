package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	"github.com/tanpawarit/chative-router/internal/agent/testutil"
	"github.com/tanpawarit/chative-router/internal/sandbox"
)

var fixedNow = time.Date(2026, 10, 19, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

type fakeExecutor struct {
	out sandbox.Output
	err error
}

func (f fakeExecutor) Execute(context.Context, string) (sandbox.Output, error) { return f.out, f.err }

func newSubsystem(t *testing.T, cm *testutil.ChatModel, maxCalls int, deps Deps) *Subsystem {
	t.Helper()
	if deps.Now == nil {
		deps.Now = fixedClock
	}
	registry := NewRegistry(model.ToolsConfig{CodeExecEnabled: true, WikipediaURL: "http://127.0.0.1:1"}, deps)
	s, err := New(context.Background(), Config{Chat: cm, ModelName: "gemini-2.5-flash", Tools: registry, MaxCalls: maxCalls})
	require.NoError(t, err)
	return s
}

func history(q string) []*schema.Message {
	return []*schema.Message{schema.UserMessage(q)}
}

func TestSubsystemRun(t *testing.T) {
	t.Run("Should call the datetime tool exactly once", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls([3]string{"c1", ToolNowDatetime, `{}`}),
			schema.AssistantMessage("It is Monday 19 October 2026.", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{})

		run, err := s.Run(context.Background(), history("What's the date today?"))

		require.NoError(t, err)
		assert.Equal(t, 1, model.CountCalls(run.Records, ToolNowDatetime))
		require.Len(t, run.Records, 2)
		assert.Equal(t, model.ToolCall, run.Records[0].Type)
		assert.Equal(t, model.ToolResult, run.Records[1].Type)
		assert.Equal(t, ToolNowDatetime, run.Records[1].Name)
		assert.Contains(t, run.Records[1].Content, "2026-10-19T09:30:00Z")
		assert.Contains(t, run.Records[1].Content, "Monday")
		assert.False(t, run.Records[1].IsError)
		assert.Equal(t, 1, run.Calls)
		assert.Equal(t, "It is Monday 19 October 2026.", run.Final)
		assert.Len(t, cm.BoundTools(), 5)
	})

	t.Run("Should record every call of a multi-call message in order", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls(
				[3]string{"c1", ToolWhoAreYou, `{}`},
				[3]string{"c2", ToolNowDatetime, `{"timezone":"Asia/Seoul"}`},
			),
			schema.AssistantMessage("done", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{})

		run, err := s.Run(context.Background(), history("who are you and what time is it in Seoul?"))

		require.NoError(t, err)
		require.Len(t, run.Records, 4)
		assert.Equal(t, ToolWhoAreYou, run.Records[0].Name)
		assert.Equal(t, ToolNowDatetime, run.Records[1].Name)
		assert.Equal(t, `{"timezone":"Asia/Seoul"}`, run.Records[1].Args)
		assert.Equal(t, "c1", run.Records[2].CallID)
		assert.Contains(t, run.Records[2].Content, "Okestro")
		assert.Contains(t, run.Records[3].Content, "18:30:00+09:00")
	})

	t.Run("Should capture tool failures as error results", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls([3]string{"c1", ToolGetRemoteIP, `{}`}),
			schema.AssistantMessage("I could not find your IP.", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{})

		run, err := s.Run(context.Background(), history("what is my ip?"))

		require.NoError(t, err)
		require.Len(t, run.Records, 2)
		assert.True(t, run.Records[1].IsError)
		assert.Contains(t, run.Records[1].Content, "client address is not available")
		assert.Equal(t, 2, cm.CallCount())
	})

	t.Run("Should read the client address from the context", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls([3]string{"c1", ToolGetRemoteIP, `{}`}),
			schema.AssistantMessage("ok", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{})
		ctx := WithClientInfo(context.Background(), ClientInfo{RemoteAddr: "203.0.113.7"})

		run, err := s.Run(ctx, history("what is my ip?"))

		require.NoError(t, err)
		assert.Contains(t, run.Records[1].Content, "203.0.113.7")
	})

	t.Run("Should answer unknown tools with an error record", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls([3]string{"c1", "launch_rocket", `{}`}),
			schema.AssistantMessage("cannot", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{})

		run, err := s.Run(context.Background(), history("launch"))

		require.NoError(t, err)
		require.Len(t, run.Records, 2)
		assert.Equal(t, "launch_rocket", run.Records[1].Name)
		assert.True(t, run.Records[1].IsError)
		assert.Contains(t, run.Records[1].Content, "unknown_tool")
	})

	t.Run("Should stop at the call limit", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(testutil.ToolCalls([3]string{"c", ToolNowDatetime, `{}`})))
		s := newSubsystem(t, cm, 2, Deps{})

		run, err := s.Run(context.Background(), history("loop"))

		require.NoError(t, err)
		assert.True(t, run.LimitReached)
		assert.Equal(t, 2, run.Calls)
		assert.Equal(t, 2, model.CountCalls(run.Records, ToolNowDatetime))
		assert.Contains(t, testutil.AllText(cm.Calls()[2]), "maximum tool call limit (2)")

		var calls, results int
		for _, r := range run.Records {
			switch r.Type {
			case model.ToolCall:
				calls++
			case model.ToolResult:
				results++
			}
		}
		assert.Equal(t, calls, results)
		assert.Len(t, run.Records, 4)
	})

	t.Run("Should run code through the executor", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Sequence(
			testutil.ToolCalls([3]string{"c1", ToolPythonREPL, `{"code":"  print(2**10)  "}`}),
			schema.AssistantMessage("1024", nil),
		))
		s := newSubsystem(t, cm, 10, Deps{Executor: fakeExecutor{out: sandbox.Output{Stdout: "1024\n"}}})

		run, err := s.Run(context.Background(), history("2^10?"))

		require.NoError(t, err)
		assert.Contains(t, run.Records[1].Content, `1024\n`)
		assert.Equal(t, `{"code":"  print(2**10)  "}`, run.Records[0].Args)
	})

	t.Run("Should fail as an external service error when the model is down", func(t *testing.T) {
		cm := testutil.NewChatModel(testutil.Fail(errors.New("503")))
		s := newSubsystem(t, cm, 10, Deps{})

		_, err := s.Run(context.Background(), history("q"))

		assert.Error(t, err)
	})
}

func TestNewRegistry(t *testing.T) {
	t.Run("Should leave python out without an executor", func(t *testing.T) {
		infos, err := GetToolInfos(context.Background(), NewRegistry(model.ToolsConfig{CodeExecEnabled: true}, Deps{}))
		require.NoError(t, err)

		names := make([]string, 0, len(infos))
		for _, info := range infos {
			names = append(names, info.Name)
		}
		assert.ElementsMatch(t, []string{ToolWikipedia, ToolWhoAreYou, ToolGetRemoteIP, ToolNowDatetime}, names)
	})

	t.Run("Should use the configured identity", func(t *testing.T) {
		reg := NewRegistry(model.ToolsConfig{Identity: "I am Chative."}, Deps{})
		for _, bt := range reg {
			info, _ := bt.Info(context.Background())
			if info.Name != ToolWhoAreYou {
				continue
			}
			out, err := bt.(tool.InvokableTool).InvokableRun(context.Background(), `{}`)
			require.NoError(t, err)
			assert.Contains(t, out, "I am Chative.")
		}
	})
}

func TestSafeTool(t *testing.T) {
	panicky := utils.NewTool(&schema.ToolInfo{Name: "panicky", Desc: "panics"},
		func(context.Context, *struct{}) (string, error) { panic("kaboom") })
	st := &safeTool{InvokableTool: panicky}

	out, err := st.InvokableRun(context.Background(), `{}`)

	require.NoError(t, err)
	assert.Contains(t, out, "kaboom")
	assert.Contains(t, out, "tool_execution")
}

func TestSanitizeArguments(t *testing.T) {
	out, err := sanitizeArguments(context.Background(), "wikipedia", `{"query":"  Seoul  ","n":3}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"query":"Seoul","n":3}`, out)

	out, _ = sanitizeArguments(context.Background(), "x", "")
	assert.Equal(t, "{}", out)

	out, _ = sanitizeArguments(context.Background(), "x", "not json")
	assert.Equal(t, "not json", out)
}

func TestWikipedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		q := r.URL.Query()
		switch {
		case q.Get("list") == "search":
			assert.Equal(t, "Seoul", q.Get("srsearch"))
			_, _ = w.Write([]byte(`{"query":{"search":[{"title":"Seoul"},{"title":"Seoul Metropolitan Subway"}]}}`))
		case q.Get("prop") == "extracts":
			assert.Equal(t, "Seoul|Seoul Metropolitan Subway", q.Get("titles"))
			_, _ = w.Write([]byte(`{"query":{"pages":{"2":{"title":"Seoul Metropolitan Subway","extract":"A subway."},"1":{"title":"Seoul","extract":"Capital of Korea."}}}}`))
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	client := newWikipediaClient(model.ToolsConfig{WikipediaURL: srv.URL, Timeout: time.Second})
	out, err := lookupWikipedia(context.Background(), client, "Seoul")

	require.NoError(t, err)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, WikipediaPage{Title: "Seoul", Summary: "Capital of Korea."}, out.Pages[0])
	assert.Equal(t, "Seoul Metropolitan Subway", out.Pages[1].Title)
}
