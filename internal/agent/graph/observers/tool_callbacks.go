package observers

import (
	"context"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/tool"
	callbackHelper "github.com/cloudwego/eino/utils/callbacks"

	agentmodel "github.com/tanpawarit/chative-router/internal/agent/model"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

func newToolHandler() *callbackHelper.ToolCallbackHandler {
	return &callbackHelper.ToolCallbackHandler{
		OnStart: func(ctx context.Context, info *einocb.RunInfo, input *tool.CallbackInput) context.Context {
			ev := logx.Info().
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("tool", info.Name)
			if input != nil {
				ev = ev.Str("args", clip(input.ArgumentsInJSON, maxLoggedContent))
			}
			ev.Msg("tool start")
			return ctx
		},
		OnEnd: func(ctx context.Context, info *einocb.RunInfo, output *tool.CallbackOutput) context.Context {
			ev := logx.Debug().
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("tool", info.Name)
			if output != nil {
				ev = ev.Str("response", clip(output.Response, maxLoggedContent))
			}
			ev.Msg("tool end")
			return ctx
		},
		OnError: func(ctx context.Context, info *einocb.RunInfo, err error) context.Context {
			logx.Warn().
				Err(err).
				Str("conversation_id", agentmodel.SessionIDFrom(ctx)).
				Str("tool", info.Name).
				Msg("tool error")
			return ctx
		},
	}
}
