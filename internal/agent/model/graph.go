package model

import (
	"strings"

	"github.com/cloudwego/eino/schema"
)

// Route is the destination chosen by the router. The empty route means direct chat.
type Route string

const (
	RouteChat        Route = ""
	RouteWebSearch   Route = "web_search"
	RouteVectorstore Route = "vectorstore"
	RouteTools       Route = "tools"
)

// Routes lists every valid classifier output.
var Routes = []Route{RouteChat, RouteWebSearch, RouteVectorstore, RouteTools}

// Label is the name used in logs and metrics.
func (r Route) Label() string {
	if r == RouteChat {
		return "chat"
	}
	return string(r)
}

func ParseRoute(s string) (Route, bool) {
	v := Route(strings.ToLower(strings.TrimSpace(s)))
	for _, r := range Routes {
		if v == r {
			return r, true
		}
	}
	return RouteChat, false
}

// TurnState is the transient state of a single turn. It is never persisted.
// The orchestrator owns it and only touches it from the turn goroutine.
type TurnState struct {
	SessionID string
	Question  string
	Summary   string
	History   []Turn

	Route            Route
	Context          string
	Documents        []Document
	ToolsInformation []ToolRecord
	// Exhausted is set when a search loop hit its iteration cap without approval.
	Exhausted bool

	Answer       string
	Summarized   bool
	SessionReset bool
}

// ToolLoopState is the Eino graph local state of the tool subsystem.
// It is only read or written inside Eino state handlers or compose.ProcessState,
// which serialize access, so it carries no lock.
type ToolLoopState struct {
	SessionID            string
	History              []*schema.Message
	Records              []ToolRecord
	ToolCallCount        int
	ToolCallLimitReached bool
	// ToolCallIDSeq synthesizes call ids when the provider omits them.
	ToolCallIDSeq int
}

// QueryInput represents the input for processing user queries.
type QueryInput struct {
	ConversationID string `json:"conversation_id"`
	Query          string `json:"query"`
	// ClientAddr is the caller's network address, if the front-end knows it.
	ClientAddr string `json:"-"`
}

// TurnResult is what the front-end gets back once a turn completed.
type TurnResult struct {
	ConversationID string  `json:"conversation_id"`
	Answer         string  `json:"answer"`
	Route          string  `json:"route"`
	Exhausted      bool    `json:"exhausted,omitempty"`
	Summarized     bool    `json:"summarized,omitempty"`
	SessionReset   bool    `json:"session_reset,omitempty"`
	CostUSD        float64 `json:"cost_usd"`
}
