package model

import (
	"fmt"
	"strings"
)

type ToolRecordType string

const (
	ToolCall   ToolRecordType = "tool_call"
	ToolResult ToolRecordType = "tool_result"
)

// ToolRecord is either an invocation (Name + Args) or a result (Name + Content).
type ToolRecord struct {
	Type    ToolRecordType `json:"type"`
	CallID  string         `json:"call_id,omitempty"`
	Name    string         `json:"name"`
	Args    string         `json:"args,omitempty"`
	Content string         `json:"content,omitempty"`
	IsError bool           `json:"is_error,omitempty"`
}

// ToolRun is the outcome of one tool subsystem invocation.
type ToolRun struct {
	Records      []ToolRecord
	Calls        int
	LimitReached bool
	// Final is the tool model's closing message, if it wrote one.
	Final string
}

// FormatToolRecords renders the ordered records for the answer prompt.
func FormatToolRecords(records []ToolRecord) string {
	var b strings.Builder
	for _, r := range records {
		switch r.Type {
		case ToolCall:
			fmt.Fprintf(&b, "- called %s with %s\n", r.Name, r.Args)
		case ToolResult:
			if r.IsError {
				fmt.Fprintf(&b, "- %s failed: %s\n", r.Name, r.Content)
			} else {
				fmt.Fprintf(&b, "- %s returned: %s\n", r.Name, r.Content)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// CountCalls returns the number of invocation records for the named tool.
func CountCalls(records []ToolRecord, name string) int {
	n := 0
	for _, r := range records {
		if r.Type == ToolCall && r.Name == name {
			n++
		}
	}
	return n
}
