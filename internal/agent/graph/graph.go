package graph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/agent/graph/conversations"
	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/parsers"
	"github.com/tanpawarit/chative-router/internal/agent/graph/prompts"
	"github.com/tanpawarit/chative-router/internal/agent/graph/retrieval"
	"github.com/tanpawarit/chative-router/internal/agent/graph/tools"
	"github.com/tanpawarit/chative-router/internal/agent/graph/websearch"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// maxRouterSteps covers route, one subsystem, chat and summarize_history.
const maxRouterSteps = 6

var (
	// ErrEmptyQuery rejects a blank question.
	ErrEmptyQuery = errx.New(errors.New("empty query"), http.StatusBadRequest, "query must not be empty")
	// ErrMissingSession rejects a turn without a conversation id.
	ErrMissingSession = errx.New(errors.New("missing conversation id"), http.StatusBadRequest, "conversation_id is required")

	// errStreamClosed aborts a turn whose consumer stopped reading.
	errStreamClosed = errors.New("answer stream closed by consumer")
)

// Runner executes one conversation turn.
type Runner interface {
	Invoke(ctx context.Context, in model.QueryInput) (string, error)
	Stream(ctx context.Context, in model.QueryInput) (*schema.StreamReader[string], error)
}

// WebSearcher grounds a question in graded web results.
type WebSearcher interface {
	Run(ctx context.Context, question, summary string) (websearch.Result, error)
}

// DocumentRetriever grounds a question in graded corpus documents.
type DocumentRetriever interface {
	Run(ctx context.Context, question, summary string) (retrieval.Result, error)
}

// ToolRunner lets the tool model call tools over the conversation so far.
type ToolRunner interface {
	Run(ctx context.Context, history []*schema.Message) (model.ToolRun, error)
}

// HistorySummarizer folds old turns into the running summary once Due.
type HistorySummarizer interface {
	Due(n int) bool
	Summarize(ctx context.Context, existing string, turns []model.Turn) (string, []string, error)
}

// Config wires the router to its models and subsystems. A nil subsystem
// makes its route answer from chat alone.
type Config struct {
	Router        einomodel.BaseChatModel
	RouterModel   string
	Response      einomodel.BaseChatModel
	ResponseModel string
	Invoker       *nodes.Invoker
	Sessions      *conversations.Manager

	WebSearch  WebSearcher
	Retrieval  DocumentRetriever
	Tools      ToolRunner
	Summarizer HistorySummarizer

	// Callbacks observe every node, prompt and model call of a turn,
	// including the nested subsystem graphs.
	Callbacks []callbacks.Handler

	CorpusDescription string
	ResponseLanguage  string
	// TurnTimeout bounds a whole turn including streaming; zero disables it.
	TurnTimeout time.Duration
}

// Assistant is the main router. It is safe for concurrent use; turns of
// the same session are serialized by the session manager.
type Assistant struct {
	cfg      Config
	runnable compose.Runnable[*turn, string]
}

// turn carries one conversation turn through the router graph.
type turn struct {
	*model.TurnState
	conv *model.ConversationState
	emit func(chunk string) bool
	path []string
}

// routerState is the router graph's local state. The route node binds the
// caller's turn into it, so runTurn reads the outcome from its own turn.
type routerState struct {
	*turn
}

// evidence is what a subsystem hands to chat. Its post handler merges it
// into the turn.
type evidence struct {
	Route     model.Route
	Context   string
	Documents []model.Document
	Tools     []model.ToolRecord
	Exhausted bool
}

var _ Runner = (*Assistant)(nil)

// BuildAssistant validates the wiring and compiles the router graph.
func BuildAssistant(ctx context.Context, cfg Config) (*Assistant, error) {
	if cfg.Router == nil || cfg.Response == nil {
		return nil, fmt.Errorf("chat models are not properly initialized")
	}
	if cfg.Invoker == nil {
		return nil, fmt.Errorf("llm invoker is nil")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session manager is nil")
	}
	if cfg.ResponseLanguage == "" {
		cfg.ResponseLanguage = "the same language as the user's question"
	}

	a := &Assistant{cfg: cfg}
	runnable, err := a.compile(ctx)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling router graph")
		return nil, fmt.Errorf("error compiling router graph: %w", err)
	}
	a.runnable = runnable

	logx.Debug().
		Bool("web_search", cfg.WebSearch != nil).
		Bool("vectorstore", cfg.Retrieval != nil).
		Bool("tools", cfg.Tools != nil).
		Msg("Assistant built successfully")
	return a, nil
}

// compile builds route -> {chat, web_search, vectorstore, tools} -> chat
// -> {summarize_history, END}.
func (a *Assistant) compile(ctx context.Context) (compose.Runnable[*turn, string], error) {
	g := compose.NewGraph[*turn, string](
		compose.WithGenLocalState(func(ctx context.Context) *routerState {
			return &routerState{}
		}),
	)

	if err := g.AddLambdaNode(nodes.NodeRoute, compose.InvokableLambda(a.route),
		compose.WithNodeName(nodes.NodeRoute),
		compose.WithStatePreHandler[*turn, *routerState](bindTurn),
		compose.WithStatePostHandler[evidence, *routerState](recordRoute),
	); err != nil {
		return nil, err
	}
	for key, fn := range map[string]func(context.Context, evidence) (evidence, error){
		nodes.NodeWebSearch:   a.webSearch,
		nodes.NodeVectorstore: a.vectorstore,
		nodes.NodeTools:       a.tools,
	} {
		if err := g.AddLambdaNode(key, compose.InvokableLambda(fn),
			compose.WithNodeName(key),
			compose.WithStatePostHandler(newMergeEvidence(key)),
		); err != nil {
			return nil, err
		}
	}
	if err := g.AddLambdaNode(nodes.NodeChat, compose.InvokableLambda(a.chat),
		compose.WithNodeName(nodes.NodeChat),
		compose.WithStatePostHandler[string, *routerState](recordAnswer),
	); err != nil {
		return nil, err
	}
	if err := g.AddLambdaNode(nodes.NodeSummarizeHistory, compose.InvokableLambda(a.summarizeHistory),
		compose.WithNodeName(nodes.NodeSummarizeHistory),
	); err != nil {
		return nil, err
	}

	edges := [][2]string{
		{compose.START, nodes.NodeRoute},
		{nodes.NodeWebSearch, nodes.NodeChat},
		{nodes.NodeVectorstore, nodes.NodeChat},
		{nodes.NodeTools, nodes.NodeChat},
		{nodes.NodeSummarizeHistory, compose.END},
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	if err := g.AddBranch(nodes.NodeRoute, compose.NewGraphBranch(routeCondition, map[string]bool{
		nodes.NodeChat:        true,
		nodes.NodeWebSearch:   true,
		nodes.NodeVectorstore: true,
		nodes.NodeTools:       true,
	})); err != nil {
		return nil, err
	}
	if err := g.AddBranch(nodes.NodeChat, compose.NewGraphBranch(a.summarizeCondition, map[string]bool{
		nodes.NodeSummarizeHistory: true,
		compose.END:                true,
	})); err != nil {
		return nil, err
	}

	return g.Compile(ctx,
		compose.WithGraphName("assistant"),
		compose.WithMaxRunSteps(maxRouterSteps),
	)
}

// Invoke runs a turn and returns the whole answer.
func (a *Assistant) Invoke(ctx context.Context, in model.QueryInput) (string, error) {
	res, err := a.Run(ctx, in, nil)
	if err != nil {
		return "", err
	}
	return res.Answer, nil
}

// Stream runs the turn in the background and yields answer fragments.
// Closing the reader aborts the turn; nothing is checkpointed then.
func (a *Assistant) Stream(ctx context.Context, in model.QueryInput) (*schema.StreamReader[string], error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	sr, sw := schema.Pipe[string](16)
	go func() {
		defer sw.Close()
		_, err := a.Run(ctx, in, func(chunk string) bool {
			return !sw.Send(chunk, nil)
		})
		if err != nil && !errors.Is(err, errStreamClosed) {
			sw.Send("", err)
		}
	}()
	return sr, nil
}

// Run executes one turn. emit receives answer fragments as they are
// generated and returns false to abort; it may be nil.
func (a *Assistant) Run(ctx context.Context, in model.QueryInput, emit func(chunk string) bool) (model.TurnResult, error) {
	ctx, tracker := model.WithCostTracker(ctx)
	t, err := a.runTurn(ctx, in, emit)
	if err != nil {
		return model.TurnResult{}, err
	}
	return model.TurnResult{
		ConversationID: in.ConversationID,
		Answer:         t.Answer,
		Route:          t.Route.Label(),
		Exhausted:      t.Exhausted,
		Summarized:     t.Summarized,
		SessionReset:   t.SessionReset,
		CostUSD:        tracker.Total(),
	}, nil
}

func (a *Assistant) runTurn(ctx context.Context, in model.QueryInput, emit func(string) bool) (*turn, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	if emit == nil {
		emit = func(string) bool { return true }
	}

	metrics.ActiveTurns.Inc()
	defer metrics.ActiveTurns.Dec()
	started := time.Now()

	if a.cfg.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.TurnTimeout)
		defer cancel()
	}
	ctx = model.WithSessionID(ctx, in.ConversationID)
	if in.ClientAddr != "" {
		ctx = tools.WithClientInfo(ctx, tools.ClientInfo{RemoteAddr: in.ClientAddr})
	}

	release, err := a.cfg.Sessions.Acquire(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}
	defer release()

	conv, reset, err := a.cfg.Sessions.Load(ctx, in.ConversationID)
	if err != nil {
		return nil, err
	}

	question := strings.TrimSpace(in.Query)
	t := &turn{
		TurnState: &model.TurnState{
			SessionID:    in.ConversationID,
			Question:     question,
			Summary:      conv.Summary,
			History:      append([]model.Turn(nil), conv.Messages...),
			SessionReset: reset,
		},
		conv: conv,
		emit: emit,
	}
	conv.Append(model.RoleUser, question)

	_, err = a.runnable.Invoke(ctx, t, compose.WithCallbacks(a.cfg.Callbacks...))
	metrics.TurnDuration.WithLabelValues(t.Route.Label()).Observe(time.Since(started).Seconds())
	if err != nil {
		logx.Warn().
			Err(err).
			Str("conversation_id", in.ConversationID).
			Strs("path", t.path).
			Msg("turn aborted")
		return nil, err
	}

	if err := a.cfg.Sessions.Save(ctx, conv); err != nil {
		logx.Error().Err(err).Str("conversation_id", in.ConversationID).Msg("failed to checkpoint session")
		return nil, err
	}

	logx.Info().
		Str("conversation_id", in.ConversationID).
		Str("route", t.Route.Label()).
		Strs("path", t.path).
		Bool("exhausted", t.Exhausted).
		Bool("summarized", t.Summarized).
		Int("messages", len(conv.Messages)).
		Dur("elapsed", time.Since(started)).
		Msg("turn completed")
	return t, nil
}

func validateInput(in model.QueryInput) error {
	if strings.TrimSpace(in.ConversationID) == "" {
		return ErrMissingSession
	}
	if strings.TrimSpace(in.Query) == "" {
		return ErrEmptyQuery
	}
	return nil
}

// ================ State handlers ================

func bindTurn(_ context.Context, in *turn, st *routerState) (*turn, error) {
	st.turn = in
	st.path = append(st.path, nodes.NodeRoute)
	return in, nil
}

func recordRoute(_ context.Context, out evidence, st *routerState) (evidence, error) {
	st.Route = out.Route
	return out, nil
}

func newMergeEvidence(node string) compose.StatePostHandler[evidence, *routerState] {
	return func(_ context.Context, out evidence, st *routerState) (evidence, error) {
		st.path = append(st.path, node)
		st.Context = out.Context
		st.Documents = out.Documents
		st.ToolsInformation = out.Tools
		st.Exhausted = out.Exhausted
		return out, nil
	}
}

func recordAnswer(_ context.Context, answer string, st *routerState) (string, error) {
	st.path = append(st.path, nodes.NodeChat)
	st.Answer = answer
	st.conv.Append(model.RoleAssistant, answer)
	return answer, nil
}

// currentTurn returns the turn bound to the running graph. Nodes run one
// at a time, so the returned pointer is only touched by the calling node.
func currentTurn(ctx context.Context) (*turn, error) {
	var t *turn
	err := compose.ProcessState(ctx, func(_ context.Context, st *routerState) error {
		t = st.turn
		return nil
	})
	return t, err
}

// ================ Branches ================

func routeCondition(_ context.Context, in evidence) (string, error) {
	switch in.Route {
	case model.RouteWebSearch:
		return nodes.NodeWebSearch, nil
	case model.RouteVectorstore:
		return nodes.NodeVectorstore, nil
	case model.RouteTools:
		return nodes.NodeTools, nil
	default:
		return nodes.NodeChat, nil
	}
}

func (a *Assistant) summarizeCondition(ctx context.Context, _ string) (string, error) {
	next := compose.END
	err := compose.ProcessState(ctx, func(_ context.Context, st *routerState) error {
		if a.cfg.Summarizer != nil && a.cfg.Summarizer.Due(len(st.conv.Messages)) {
			next = nodes.NodeSummarizeHistory
		}
		return nil
	})
	return next, err
}

// ================ Steps ================

func (a *Assistant) route(ctx context.Context, t *turn) (evidence, error) {
	r, reason := a.classify(ctx, t.Question)
	if err := ctx.Err(); err != nil {
		return evidence{}, err
	}
	metrics.RoutesTotal.WithLabelValues(r.Label(), reason).Inc()
	return evidence{Route: r}, nil
}

// classify never fails: ambiguous output and router errors both fall back to chat.
func (a *Assistant) classify(ctx context.Context, question string) (model.Route, string) {
	msgs, err := prompts.RenderRoute(ctx, prompts.RouteVars{
		Question:          question,
		CorpusDescription: a.cfg.CorpusDescription,
	})
	if err != nil {
		logx.Error().Err(err).Msg("failed to render route prompt")
		return model.RouteChat, "router_error"
	}

	out, err := a.cfg.Invoker.Generate(ctx, a.cfg.Router, nodes.Call{Node: nodes.NodeRoute, Model: a.cfg.RouterModel}, msgs)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", model.SessionIDFrom(ctx)).Msg("router failed, answering directly")
		return model.RouteChat, "router_error"
	}

	r, err := parsers.ParseRoute(out.Content)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", model.SessionIDFrom(ctx)).Msg("ambiguous route, answering directly")
		return model.RouteChat, "ambiguous"
	}
	return r, "classified"
}

func (a *Assistant) webSearch(ctx context.Context, in evidence) (evidence, error) {
	if a.cfg.WebSearch == nil {
		logx.Warn().Msg("web search is not configured, answering directly")
		return evidence{Route: in.Route, Exhausted: true}, nil
	}
	t, err := currentTurn(ctx)
	if err != nil {
		return evidence{}, err
	}
	res, err := a.cfg.WebSearch.Run(ctx, t.Question, t.Summary)
	if err != nil {
		return evidence{}, err
	}
	return evidence{Route: in.Route, Context: res.Context, Exhausted: res.Exhausted}, nil
}

func (a *Assistant) vectorstore(ctx context.Context, in evidence) (evidence, error) {
	if a.cfg.Retrieval == nil {
		logx.Warn().Msg("vectorstore is not configured, answering directly")
		return evidence{Route: in.Route, Exhausted: true}, nil
	}
	t, err := currentTurn(ctx)
	if err != nil {
		return evidence{}, err
	}
	res, err := a.cfg.Retrieval.Run(ctx, t.Question, t.Summary)
	if err != nil {
		return evidence{}, err
	}
	return evidence{
		Route:     in.Route,
		Context:   res.Context,
		Documents: res.Documents,
		Exhausted: res.Exhausted,
	}, nil
}

func (a *Assistant) tools(ctx context.Context, in evidence) (evidence, error) {
	if a.cfg.Tools == nil {
		logx.Warn().Msg("tools are not configured, answering directly")
		return evidence{Route: in.Route}, nil
	}
	t, err := currentTurn(ctx)
	if err != nil {
		return evidence{}, err
	}
	run, err := a.cfg.Tools.Run(ctx, t.conv.ToSchemaMessages())
	if err != nil {
		if ctx.Err() != nil {
			return evidence{}, ctx.Err()
		}
		// The tool model being down degrades the turn to a plain answer.
		logx.Warn().Err(err).Str("conversation_id", t.SessionID).Msg("tool subsystem failed, answering directly")
		return evidence{Route: in.Route}, nil
	}
	return evidence{Route: in.Route, Tools: run.Records}, nil
}

// chat reads the grounding merged into the turn, not its input.
func (a *Assistant) chat(ctx context.Context, _ evidence) (string, error) {
	t, err := currentTurn(ctx)
	if err != nil {
		return "", err
	}
	msgs, err := prompts.RenderChat(ctx, prompts.ChatVars{
		Question:         t.Question,
		Summary:          t.Summary,
		Context:          t.Context,
		ToolsInformation: model.FormatToolRecords(t.ToolsInformation),
		ResponseLanguage: a.cfg.ResponseLanguage,
		Exhausted:        t.Exhausted,
		History:          model.TurnsToMessages(t.History),
	})
	if err != nil {
		return "", err
	}
	return a.streamAnswer(ctx, msgs, t.emit)
}

func (a *Assistant) streamAnswer(ctx context.Context, msgs []*schema.Message, emit func(string) bool) (string, error) {
	call := nodes.Call{Node: nodes.NodeChat, Model: a.cfg.ResponseModel}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Invoker.Timeout())
	defer cancel()

	sr, err := a.cfg.Invoker.Stream(ctx, a.cfg.Response, call, msgs)
	if err != nil {
		return "", err
	}
	defer sr.Close()

	var (
		b      strings.Builder
		chunks []*schema.Message
	)
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil && errors.Is(err, context.Canceled) {
				return "", err
			}
			return "", errx.ExternalService("llm "+nodes.NodeChat, err)
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if chunk.Content == "" {
			continue
		}
		b.WriteString(chunk.Content)
		if !emit(chunk.Content) {
			return "", errStreamClosed
		}
	}

	if full, err := schema.ConcatMessages(chunks); err == nil {
		nodes.RecordUsage(ctx, call, full)
	}

	answer := strings.TrimSpace(b.String())
	if answer == "" {
		return "", errx.ExternalService("llm "+nodes.NodeChat, errors.New("empty answer"))
	}
	return answer, nil
}

func (a *Assistant) summarizeHistory(ctx context.Context, answer string) (string, error) {
	t, err := currentTurn(ctx)
	if err != nil {
		return "", err
	}
	summary, drop, err := a.cfg.Summarizer.Summarize(ctx, t.conv.Summary, t.conv.Messages)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		// History stays intact; the next turn tries again.
		logx.Warn().Err(err).Str("conversation_id", t.SessionID).Msg("summarization failed")
		return answer, nil
	}
	return answer, compose.ProcessState(ctx, func(_ context.Context, st *routerState) error {
		st.path = append(st.path, nodes.NodeSummarizeHistory)
		st.conv.Summary = summary
		st.conv.Prune(drop)
		st.Summary = summary
		st.Summarized = true
		return nil
	})
}
