package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// Node names shared by the router, loop and tool graphs, logs and metrics.
const (
	NodeRoute            = "route"
	NodeChat             = "chat"
	NodeWebSearch        = "web_search"
	NodeVectorstore      = "vectorstore"
	NodeTools            = "tools"
	NodeSummarizeHistory = "summarize_history"

	NodeTransformQuery = "transform_query"
	NodeRetrieve       = "retrieve"
	NodeRelevantCheck  = "relevant_check"
	NodeGradeDocuments = "grade_documents"

	NodeToolChat    = "tool_chat"
	NodeToolExec    = "tool_exec"
	NodeToolCollect = "tool_collect"
)

// RecordUsage computes the cost of a completion, stores it in out.Extra and
// adds it to the turn's cost tracker.
func RecordUsage(ctx context.Context, call Call, out *schema.Message) {
	if out == nil || out.ResponseMeta == nil || out.ResponseMeta.Usage == nil {
		return
	}
	usage := out.ResponseMeta.Usage
	pricing := model.ResolvePricing(call.Model)
	inC, outC, totalC := model.ComputeCost(usage, pricing)

	if out.Extra == nil {
		out.Extra = map[string]any{}
	}
	out.Extra["usage_cost"] = map[string]any{
		"currency":          "USD",
		"model":             call.Model,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"input_cost":        inC,
		"output_cost":       outC,
		"total_cost":        totalC,
	}

	running := totalC
	if tracker := model.CostTrackerFrom(ctx); tracker != nil {
		running = tracker.Add(usage, pricing)
		out.Extra["usage_cost_total_usd"] = running
	}

	logx.Debug().
		Str("node", call.Node).
		Str("model", call.Model).
		Int("prompt_tokens", usage.PromptTokens).
		Int("completion_tokens", usage.CompletionTokens).
		Int("total_tokens", usage.TotalTokens).
		Float64("total_cost_usd", totalC).
		Float64("turn_cost_usd", running).
		Msg("LLM usage")
}

// ================ Tool graph handlers ================

// NewToolChatPreHandler appends the node input to the loop history and feeds
// the whole history to the tool model.
func NewToolChatPreHandler(maxToolCalls int) func(context.Context, []*schema.Message, *model.ToolLoopState) ([]*schema.Message, error) {
	return func(ctx context.Context, in []*schema.Message, state *model.ToolLoopState) ([]*schema.Message, error) {
		// Some providers drop tool_call_id on tool results; borrow it from the last call.
		if len(in) > 0 {
			last := in[len(in)-1]
			if last != nil && last.Role == schema.Tool && strings.TrimSpace(last.ToolCallID) == "" {
				if id := lastToolCallID(state.History); id != "" {
					last.ToolCallID = id
				}
			}
		}

		state.History = append(state.History, in...)

		if checkAndMarkToolLimit(state, maxToolCalls) {
			maxToolCalls = normalizeMaxToolCalls(maxToolCalls)
			state.History = append(state.History, schema.SystemMessage(fmt.Sprintf(
				"SYSTEM NOTICE: You have reached the maximum tool call limit (%d). "+
					"Answer with the information already gathered and do not call more tools.",
				maxToolCalls,
			)))
		}
		return state.History, nil
	}
}

// NewToolChatPostHandler records every tool call of the model message, in order.
// Calls requested after the limit was reached are stripped from the message.
func NewToolChatPostHandler(call Call) func(context.Context, *schema.Message, *model.ToolLoopState) (*schema.Message, error) {
	return func(ctx context.Context, out *schema.Message, state *model.ToolLoopState) (*schema.Message, error) {
		if out == nil {
			return nil, fmt.Errorf("tool model returned no message")
		}
		metrics.LLMCallsTotal.WithLabelValues(call.Node, call.Model, "ok").Inc()
		RecordUsage(ctx, call, out)

		// Past the limit nothing is executed, so the calls are dropped
		// rather than recorded without a result.
		if state.ToolCallLimitReached && len(out.ToolCalls) > 0 {
			logx.Debug().
				Str("conversation_id", state.SessionID).
				Int("dropped_calls", len(out.ToolCalls)).
				Msg("Tool limit reached - ignoring further tool calls")
			out.ToolCalls = nil
		}

		for i := range out.ToolCalls {
			if strings.TrimSpace(out.ToolCalls[i].ID) == "" {
				state.ToolCallIDSeq++
				out.ToolCalls[i].ID = fmt.Sprintf("call_%d", state.ToolCallIDSeq)
			}
			tc := out.ToolCalls[i]
			state.Records = append(state.Records, model.ToolRecord{
				Type:   model.ToolCall,
				CallID: tc.ID,
				Name:   tc.Function.Name,
				Args:   tc.Function.Arguments,
			})
		}
		state.History = append(state.History, out)

		if len(out.ToolCalls) > 0 {
			logx.Debug().Str("conversation_id", state.SessionID).Int("tool_count", len(out.ToolCalls)).Msg("Calling tools")
		}
		return out, nil
	}
}

// NewToolExecCondition routes to tool execution while the model asks for tools
// and the call limit has not been hit.
func NewToolExecCondition() func(context.Context, *schema.Message) (string, error) {
	return func(ctx context.Context, input *schema.Message) (string, error) {
		var limitReached bool
		_ = compose.ProcessState(ctx, func(_ context.Context, state *model.ToolLoopState) error {
			limitReached = state.ToolCallLimitReached
			return nil
		})

		if limitReached {
			logx.Debug().Msg("Tool limit reached previously - collecting results")
			return NodeToolCollect, nil
		}
		if input != nil && len(input.ToolCalls) > 0 {
			return NodeToolExec, nil
		}
		return NodeToolCollect, nil
	}
}

// NewToolExecPreHandler counts tool calls against the limit.
func NewToolExecPreHandler(maxToolCalls int) func(context.Context, *schema.Message, *model.ToolLoopState) (*schema.Message, error) {
	return func(ctx context.Context, in *schema.Message, state *model.ToolLoopState) (*schema.Message, error) {
		if exceeded := addToolCallsAndCheck(state, len(in.ToolCalls), maxToolCalls); exceeded {
			logx.Warn().
				Int("tool_call_count", state.ToolCallCount).
				Int("max_tool_calls", normalizeMaxToolCalls(maxToolCalls)).
				Str("conversation_id", state.SessionID).
				Msg("Tool call limit exceeded - flagging and continuing")
		}
		return in, nil
	}
}

// NewToolExecPostHandler records every tool result, in call order.
func NewToolExecPostHandler() func(context.Context, []*schema.Message, *model.ToolLoopState) ([]*schema.Message, error) {
	return func(ctx context.Context, out []*schema.Message, state *model.ToolLoopState) ([]*schema.Message, error) {
		names := make(map[string]string, len(state.Records))
		for _, r := range state.Records {
			if r.Type == model.ToolCall {
				names[r.CallID] = r.Name
			}
		}

		for _, m := range out {
			if m == nil {
				continue
			}
			name := names[m.ToolCallID]
			if name == "" {
				name = m.ToolName
			}
			msg, isErr := ParseToolError(m.Content)
			content := m.Content
			if isErr {
				content = msg
			}
			state.Records = append(state.Records, model.ToolRecord{
				Type:    model.ToolResult,
				CallID:  m.ToolCallID,
				Name:    name,
				Content: content,
				IsError: isErr,
			})
		}
		return out, nil
	}
}

// NewToolCollectNode turns the loop state into the subsystem result.
func NewToolCollectNode() *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, final *schema.Message) (model.ToolRun, error) {
		var run model.ToolRun
		err := compose.ProcessState(ctx, func(_ context.Context, state *model.ToolLoopState) error {
			run = model.ToolRun{
				Records:      append([]model.ToolRecord(nil), state.Records...),
				Calls:        state.ToolCallCount,
				LimitReached: state.ToolCallLimitReached,
			}
			return nil
		})
		if err != nil {
			return model.ToolRun{}, fmt.Errorf("failed to access state: %w", err)
		}
		if final != nil {
			run.Final = final.Content
		}
		return run, nil
	})
}

func lastToolCallID(history []*schema.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg == nil || msg.Role != schema.Assistant || len(msg.ToolCalls) == 0 {
			continue
		}
		return strings.TrimSpace(msg.ToolCalls[len(msg.ToolCalls)-1].ID)
	}
	return ""
}
