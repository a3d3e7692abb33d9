package nodes

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/tanpawarit/chative-router/internal/agent/model"
)

const DefaultMaxToolCalls = 10

// normalizeMaxToolCalls returns a sane default when the provided value is invalid.
func normalizeMaxToolCalls(n int) int {
	if n <= 0 {
		return DefaultMaxToolCalls
	}
	return n
}

// checkAndMarkToolLimit marks the state once the count reached the limit.
// Returns true when marked now.
func checkAndMarkToolLimit(state *model.ToolLoopState, max int) bool {
	max = normalizeMaxToolCalls(max)
	if !state.ToolCallLimitReached && state.ToolCallCount >= max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// addToolCallsAndCheck adds n calls and marks the state if the limit is now exceeded.
func addToolCallsAndCheck(state *model.ToolLoopState, n, max int) bool {
	max = normalizeMaxToolCalls(max)
	state.ToolCallCount += n
	if state.ToolCallCount > max {
		state.ToolCallLimitReached = true
		return true
	}
	return false
}

// ToolErrorResult is the payload handed back to the model when a tool fails.
func ToolErrorResult(kind, tool, message string) string {
	b, err := json.Marshal(map[string]string{"error": kind, "name": tool, "message": message})
	if err != nil {
		return `{"error":"` + kind + `"}`
	}
	return string(b)
}

// ParseToolError reports whether content is a ToolErrorResult payload and
// returns a readable description of it.
func ParseToolError(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "{") || !gjson.Valid(trimmed) {
		return "", false
	}
	kind := gjson.Get(trimmed, "error")
	if !kind.Exists() || kind.String() == "" {
		return "", false
	}
	if msg := gjson.Get(trimmed, "message").String(); msg != "" {
		return kind.String() + ": " + msg, true
	}
	return kind.String(), true
}
