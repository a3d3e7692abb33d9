// Package testutil provides scripted Eino components for package tests.
package testutil

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// RespondFunc produces the reply for one call.
type RespondFunc func(ctx context.Context, msgs []*schema.Message) (*schema.Message, error)

// ChatModel is a scripted chat model. It implements model.ChatModel.
type ChatModel struct {
	Respond RespondFunc
	// ChunkDelay slows streaming so tests can cancel mid-answer.
	ChunkDelay time.Duration

	mu    sync.Mutex
	calls [][]*schema.Message
	tools []*schema.ToolInfo
}

var _ einomodel.ChatModel = (*ChatModel)(nil)

// NewChatModel returns a model answered by fn.
func NewChatModel(fn RespondFunc) *ChatModel {
	return &ChatModel{Respond: fn}
}

// Sequence replies with the given messages in order and repeats the last one.
func Sequence(replies ...*schema.Message) RespondFunc {
	var mu sync.Mutex
	i := 0
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(replies) == 0 {
			return nil, errors.New("no scripted reply")
		}
		r := replies[min(i, len(replies)-1)]
		i++
		cp := *r
		return &cp, nil
	}
}

// Text replies with the same content on every call.
func Text(content string) RespondFunc {
	return Sequence(schema.AssistantMessage(content, nil))
}

// Fail makes every call return err.
func Fail(err error) RespondFunc {
	return func(context.Context, []*schema.Message) (*schema.Message, error) {
		return nil, err
	}
}

func (m *ChatModel) GetType() string { return "Scripted" }

func (m *ChatModel) IsCallbacksEnabled() bool { return true }

// Generate reports to the callbacks in ctx the way provider models do.
func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]*schema.Message(nil), input...))
	m.mu.Unlock()

	ctx = callbacks.EnsureRunInfo(ctx, m.GetType(), components.ComponentOfChatModel)
	ctx = callbacks.OnStart(ctx, &einomodel.CallbackInput{Messages: input})

	if err := ctx.Err(); err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	out, err := m.Respond(ctx, input)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	callbacks.OnEnd(ctx, &einomodel.CallbackOutput{Message: out})
	return out, nil
}

// Stream splits the reply into word chunks. Usage rides on the last chunk.
func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	chunks := splitChunks(msg.Content)

	if m.ChunkDelay <= 0 {
		out := make([]*schema.Message, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, schema.AssistantMessage(c, nil))
		}
		if len(out) > 0 {
			out[len(out)-1].ResponseMeta = msg.ResponseMeta
		}
		return schema.StreamReaderFromArray(out), nil
	}

	sr, sw := schema.Pipe[*schema.Message](1)
	go func() {
		defer sw.Close()
		for i, c := range chunks {
			select {
			case <-ctx.Done():
				sw.Send(nil, ctx.Err())
				return
			case <-time.After(m.ChunkDelay):
			}
			chunk := schema.AssistantMessage(c, nil)
			if i == len(chunks)-1 {
				chunk.ResponseMeta = msg.ResponseMeta
			}
			if closed := sw.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (m *ChatModel) BindTools(tools []*schema.ToolInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tools = tools
	return nil
}

// Calls returns the inputs of every call so far.
func (m *ChatModel) Calls() [][]*schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]*schema.Message(nil), m.calls...)
}

func (m *ChatModel) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *ChatModel) BoundTools() []*schema.ToolInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tools
}

// SystemPrompt returns the content of the first system message, if any.
func SystemPrompt(msgs []*schema.Message) string {
	for _, m := range msgs {
		if m != nil && m.Role == schema.System {
			return m.Content
		}
	}
	return ""
}

// AllText joins every message content, for prompt assertions.
func AllText(msgs []*schema.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m != nil {
			parts = append(parts, m.Content)
		}
	}
	return strings.Join(parts, "\n")
}

func splitChunks(s string) []string {
	words := strings.SplitAfter(s, " ")
	out := words[:0]
	for _, w := range words {
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// ToolCalls builds an assistant message requesting the given calls.
// Each call is a {id, name, arguments} triple.
func ToolCalls(calls ...[3]string) *schema.Message {
	tcs := make([]schema.ToolCall, 0, len(calls))
	for _, c := range calls {
		tcs = append(tcs, schema.ToolCall{
			ID:       c[0],
			Type:     "function",
			Function: schema.FunctionCall{Name: c[1], Arguments: c[2]},
		})
	}
	return schema.AssistantMessage("", tcs)
}
