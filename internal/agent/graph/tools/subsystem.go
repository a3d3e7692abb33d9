package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/prompts"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

type Config struct {
	Chat      einomodel.ChatModel
	ModelName string
	Tools     []tool.BaseTool
	MaxCalls  int
	// Timeout bounds one whole Run.
	Timeout time.Duration
}

// Subsystem lets the tool model call tools until it stops asking or hits the call limit.
type Subsystem struct {
	runnable compose.Runnable[[]*schema.Message, model.ToolRun]
	timeout  time.Duration
}

func New(ctx context.Context, cfg Config) (*Subsystem, error) {
	if cfg.Chat == nil {
		return nil, fmt.Errorf("tool chat model is nil")
	}

	infos, err := GetToolInfos(ctx, cfg.Tools)
	if err != nil {
		logx.Error().Err(err).Msg("Failed to get tool infos")
		return nil, err
	}
	if err := cfg.Chat.BindTools(infos); err != nil {
		logx.Error().Err(err).Msg("Failed to bind tools to tool model")
		return nil, fmt.Errorf("failed to bind tools to tool model: %w", err)
	}

	toolsNode, err := compose.NewToolNode(ctx, &compose.ToolsNodeConfig{
		Tools:                cfg.Tools,
		ExecuteSequentially:  true,
		UnknownToolsHandler:  unknownTool,
		ToolArgumentsHandler: sanitizeArguments,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Failed to create tools node")
		return nil, fmt.Errorf("failed to create tools node: %w", err)
	}

	g := compose.NewGraph[[]*schema.Message, model.ToolRun](
		compose.WithGenLocalState(func(ctx context.Context) *model.ToolLoopState {
			return &model.ToolLoopState{SessionID: model.SessionIDFrom(ctx)}
		}),
	)

	call := nodes.Call{Node: nodes.NodeToolChat, Model: cfg.ModelName}
	if err := g.AddChatModelNode(nodes.NodeToolChat, cfg.Chat,
		compose.WithStatePreHandler(nodes.NewToolChatPreHandler(cfg.MaxCalls)),
		compose.WithStatePostHandler(nodes.NewToolChatPostHandler(call)),
	); err != nil {
		return nil, fmt.Errorf("add tool chat node: %w", err)
	}
	if err := g.AddToolsNode(nodes.NodeToolExec, toolsNode,
		compose.WithStatePreHandler(nodes.NewToolExecPreHandler(cfg.MaxCalls)),
		compose.WithStatePostHandler(nodes.NewToolExecPostHandler()),
	); err != nil {
		return nil, fmt.Errorf("add tool exec node: %w", err)
	}
	if err := g.AddLambdaNode(nodes.NodeToolCollect, nodes.NewToolCollectNode()); err != nil {
		return nil, fmt.Errorf("add tool collect node: %w", err)
	}

	edges := [][2]string{
		{compose.START, nodes.NodeToolChat},
		{nodes.NodeToolExec, nodes.NodeToolChat},
		{nodes.NodeToolCollect, compose.END},
	}
	for _, edge := range edges {
		if err := g.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}

	branch := compose.NewGraphBranch(
		nodes.NewToolExecCondition(),
		map[string]bool{
			nodes.NodeToolExec:    true,
			nodes.NodeToolCollect: true,
		},
	)
	if err := g.AddBranch(nodes.NodeToolChat, branch); err != nil {
		logx.Error().Err(err).Msg("Error adding tool branch")
		return nil, fmt.Errorf("error adding tool branch: %w", err)
	}

	// Every round is a chat step plus an exec step; the limit notice needs one more chat.
	maxSteps := 2*nodes.DefaultMaxToolCalls + 4
	if cfg.MaxCalls > 0 {
		maxSteps = 2*cfg.MaxCalls + 4
	}
	runnable, err := g.Compile(ctx, compose.WithGraphName("tools"), compose.WithMaxRunSteps(maxSteps))
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling tool graph")
		return nil, fmt.Errorf("error compiling tool graph: %w", err)
	}

	return &Subsystem{
		runnable: runnable,
		timeout:  cfg.Timeout,
	}, nil
}

// Run renders the tool prompt over history and returns every call and result in order.
func (s *Subsystem) Run(ctx context.Context, history []*schema.Message) (model.ToolRun, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	msgs, err := prompts.RenderTools(ctx, history)
	if err != nil {
		return model.ToolRun{}, err
	}

	// Handlers of the calling graph node are inherited through ctx.
	run, err := s.runnable.Invoke(ctx, msgs)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return model.ToolRun{}, ctx.Err()
		}
		return model.ToolRun{}, errx.ExternalService("llm "+nodes.NodeToolChat, err)
	}

	logx.Debug().
		Str("conversation_id", model.SessionIDFrom(ctx)).
		Int("tool_calls", run.Calls).
		Int("records", len(run.Records)).
		Bool("limit_reached", run.LimitReached).
		Msg("tool run finished")
	return run, nil
}
