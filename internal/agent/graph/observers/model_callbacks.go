package observers

import (
	"context"
	"strings"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	agentmodel "github.com/tanpawarit/chative-router/internal/agent/model"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const maxLoggedContent = 500

// newModelHandler logs the latest user message and the reply around model calls.
func newModelHandler() *callbackHelper.ModelCallbackHandler {
	return &callbackHelper.ModelCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *model.CallbackInput) context.Context {
			ev := logx.Debug().
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("component", string(info.Component)).
				Str("name", info.Name)
			if input != nil {
				ev = ev.Int("messages", len(input.Messages)).
					Str("user", clip(lastUserContent(input.Messages), maxLoggedContent))
			}
			ev.Msg("model start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *model.CallbackOutput) context.Context {
			ev := logx.Debug().
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("name", info.Name)
			if output != nil && output.Message != nil {
				ev = ev.Str("assistant", clip(strings.TrimSpace(output.Message.Content), maxLoggedContent)).
					Int("tool_calls", len(output.Message.ToolCalls))
			}
			ev.Msg("model end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().
				Err(err).
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("name", info.Name).
				Msg("model error")
			return ctx
		},
	}
}

func lastUserContent(msgs []*schema.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m == nil {
			continue
		}
		if m.Role == schema.User {
			return strings.TrimSpace(m.Content)
		}
	}
	return ""
}
