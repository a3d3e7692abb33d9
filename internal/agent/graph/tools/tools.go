// Package tools holds the tool registry and the tool-calling subsystem.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	"github.com/tanpawarit/chative-router/internal/sandbox"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const (
	ToolWikipedia   = "wikipedia"
	ToolWhoAreYou   = "who_are_you"
	ToolPythonREPL  = "python_repl"
	ToolGetRemoteIP = "get_remote_ip"
	ToolNowDatetime = "now_datetime"
)

// Deps are the capabilities the tools run against.
type Deps struct {
	// Now defaults to time.Now.
	Now func() time.Time
	// Executor runs python_repl code. A nil executor leaves the tool out.
	Executor sandbox.Executor
	// HTTP is the Wikipedia client; built from config when nil.
	HTTP *resty.Client
}

// NewRegistry builds every enabled tool, each wrapped so failures come back
// to the model as error results instead of aborting the loop.
func NewRegistry(cfg model.ToolsConfig, deps Deps) []tool.BaseTool {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.HTTP == nil {
		deps.HTTP = newWikipediaClient(cfg)
	}

	built := []tool.InvokableTool{
		createWikipediaTool(deps.HTTP),
		createWhoAreYouTool(cfg.Identity),
		createGetRemoteIPTool(),
		createNowDatetimeTool(deps.Now),
	}
	if cfg.CodeExecEnabled && deps.Executor != nil {
		built = append(built, createPythonREPLTool(deps.Executor))
	}

	out := make([]tool.BaseTool, 0, len(built))
	for _, t := range built {
		out = append(out, &safeTool{InvokableTool: t})
	}
	return out
}

// GetToolInfos collects tool infos for binding to the tool model.
func GetToolInfos(ctx context.Context, tools []tool.BaseTool) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(tools))
	for _, t := range tools {
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get tool info: %w", err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// ===================================
// Error capture
// ===================================

type safeTool struct {
	tool.InvokableTool
}

func (s *safeTool) InvokableRun(ctx context.Context, args string, opts ...tool.Option) (out string, err error) {
	name := s.name(ctx)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out, err = s.fail(ctx, name, args, fmt.Errorf("panic: %v", r))
		}
	}()

	out, err = s.InvokableTool.InvokableRun(ctx, args, opts...)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return s.fail(ctx, name, args, err)
	}

	metrics.ToolCallsTotal.WithLabelValues(name, "ok").Inc()
	logx.Debug().
		Str("tool", name).
		Dur("elapsed", time.Since(started)).
		Msg("tool finished")
	return out, nil
}

func (s *safeTool) fail(ctx context.Context, name, args string, cause error) (string, error) {
	err := errx.ToolExecution(name, cause)
	metrics.ToolCallsTotal.WithLabelValues(name, "error").Inc()
	logx.Warn().
		Err(err).
		Str("conversation_id", model.SessionIDFrom(ctx)).
		Str("tool", name).
		Str("arguments", args).
		Msg("tool failed, returning error result to the model")
	return nodes.ToolErrorResult(string(errx.KindToolExecution), name, cause.Error()), nil
}

func (s *safeTool) name(ctx context.Context) string {
	info, err := s.Info(ctx)
	if err != nil || info == nil {
		return "unknown"
	}
	return info.Name
}

// unknownTool answers calls to tools the model made up.
func unknownTool(ctx context.Context, name, input string) (string, error) {
	metrics.ToolCallsTotal.WithLabelValues("unknown", "error").Inc()
	logx.Warn().
		Str("conversation_id", model.SessionIDFrom(ctx)).
		Str("tool_name", name).
		Str("arguments", input).
		Msg("Unknown or invalid tool call; returning error result")
	return nodes.ToolErrorResult("unknown_tool", name, fmt.Sprintf("no tool named %q is available", name)), nil
}

// sanitizeArguments trims string arguments and turns empty input into {}.
// Malformed JSON passes through so the tool reports it.
func sanitizeArguments(_ context.Context, _ string, arguments string) (string, error) {
	if strings.TrimSpace(arguments) == "" {
		return "{}", nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(arguments), &m); err != nil {
		return arguments, nil
	}
	for k, v := range m {
		if s, ok := v.(string); ok {
			m[k] = strings.TrimSpace(s)
		}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return arguments, nil
	}
	return string(b), nil
}
