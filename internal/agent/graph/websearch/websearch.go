// Package websearch answers a question from the web through a bounded
// reformulate, search and grade loop.
package websearch

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"

	"github.com/tanpawarit/chative-router/internal/agent/graph/grader"
	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	"github.com/tanpawarit/chative-router/internal/search"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const subsystem = "web_search"

// nodeFinish builds the result once the loop stops.
const nodeFinish = "finish"

const DefaultMaxIterations = 3

type Reformulator interface {
	Reformulate(ctx context.Context, prior []string, summary, question string) (string, error)
}

type Grader interface {
	Grade(ctx context.Context, query, candidate string) grader.Verdict
}

type Config struct {
	MaxIterations int
}

// Round flows between the loop nodes. Query and Content belong to the
// current round and are reset on every reformulation.
type Round struct {
	Question string
	Summary  string
	Query    string
	Content  string
}

// State is the graph-local state of one Run.
type State struct {
	Queries    []string
	Iterations int
	Approved   bool
	Exhausted  bool
	// Reason says why the loop ended without an approved result.
	Reason string
}

func (st *State) exhaust(reason string) {
	st.Exhausted = true
	st.Approved = false
	st.Reason = reason
}

type Result struct {
	Context    string
	Queries    []string
	Iterations int
	Exhausted  bool
	Reason     string
}

type Subsystem struct {
	rewriter Reformulator
	provider search.Provider
	grader   Grader
	cfg      Config
	runnable compose.Runnable[Round, Result]
}

// New compiles the loop graph:
// transform_query -> web_search -> relevant_check, each falling back to
// transform_query until a result is approved or the cap is hit.
func New(ctx context.Context, rewriter Reformulator, provider search.Provider, g Grader, cfg Config) (*Subsystem, error) {
	if rewriter == nil || provider == nil || g == nil {
		return nil, fmt.Errorf("web search needs a reformulator, a provider and a grader")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	s := &Subsystem{rewriter: rewriter, provider: provider, grader: g, cfg: cfg}

	graph := compose.NewGraph[Round, Result](
		compose.WithGenLocalState(func(ctx context.Context) *State {
			return &State{}
		}),
	)

	if err := graph.AddLambdaNode(nodes.NodeTransformQuery, compose.InvokableLambda(s.transformQuery),
		compose.WithStatePostHandler[Round, *State](recordQuery),
	); err != nil {
		return nil, fmt.Errorf("add %s node: %w", nodes.NodeTransformQuery, err)
	}
	if err := graph.AddLambdaNode(nodes.NodeWebSearch, compose.InvokableLambda(s.webSearch)); err != nil {
		return nil, fmt.Errorf("add %s node: %w", nodes.NodeWebSearch, err)
	}
	if err := graph.AddLambdaNode(nodes.NodeRelevantCheck, compose.InvokableLambda(s.relevantCheck)); err != nil {
		return nil, fmt.Errorf("add %s node: %w", nodes.NodeRelevantCheck, err)
	}
	if err := graph.AddLambdaNode(nodeFinish, compose.InvokableLambda(finish)); err != nil {
		return nil, fmt.Errorf("add %s node: %w", nodeFinish, err)
	}

	if err := graph.AddEdge(compose.START, nodes.NodeTransformQuery); err != nil {
		return nil, err
	}
	if err := graph.AddEdge(nodeFinish, compose.END); err != nil {
		return nil, err
	}

	branches := []struct {
		from string
		cond func(context.Context, Round) (string, error)
		to   []string
	}{
		{nodes.NodeTransformQuery, afterTransform, []string{nodes.NodeWebSearch, nodeFinish}},
		{nodes.NodeWebSearch, s.afterSearch, []string{nodes.NodeRelevantCheck, nodes.NodeTransformQuery, nodeFinish}},
		{nodes.NodeRelevantCheck, s.afterCheck, []string{nodes.NodeTransformQuery, nodeFinish}},
	}
	for _, b := range branches {
		ends := make(map[string]bool, len(b.to))
		for _, to := range b.to {
			ends[to] = true
		}
		if err := graph.AddBranch(b.from, compose.NewGraphBranch(b.cond, ends)); err != nil {
			return nil, fmt.Errorf("add %s branch: %w", b.from, err)
		}
	}

	// Three nodes per round plus finish; the branch caps the rounds first.
	runnable, err := graph.Compile(ctx,
		compose.WithGraphName(subsystem),
		compose.WithMaxRunSteps(3*cfg.MaxIterations+4),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling web search graph")
		return nil, fmt.Errorf("error compiling web search graph: %w", err)
	}
	s.runnable = runnable
	return s, nil
}

// Run never fails on a search or model outage: the result comes back
// Exhausted with an empty context instead. Only cancellation is returned.
func (s *Subsystem) Run(ctx context.Context, question, summary string) (Result, error) {
	res, err := s.runnable.Invoke(ctx, Round{Question: question, Summary: summary})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		logx.Error().Err(err).Msg("web search loop aborted")
		res = Result{Iterations: s.cfg.MaxIterations, Exhausted: true, Reason: "step_limit"}
	}
	metrics.LoopIterations.WithLabelValues(subsystem).Observe(float64(res.Iterations))

	if res.Exhausted {
		metrics.LoopExhaustedTotal.WithLabelValues(subsystem, res.Reason).Inc()
		logx.Warn().
			Err(errx.RetryExhausted(subsystem, res.Iterations, errors.New(res.Reason))).
			Strs("queries", res.Queries).
			Msg("web search ended without a relevant result")
		res.Context = ""
	}
	return res, nil
}

func (s *Subsystem) transformQuery(ctx context.Context, in Round) (Round, error) {
	var prior []string
	_ = compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		prior = append([]string(nil), st.Queries...)
		return nil
	})

	out := Round{Question: in.Question, Summary: in.Summary}
	query, err := s.rewriter.Reformulate(ctx, prior, in.Summary, in.Question)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		reason := "reformulator"
		if errx.IsKind(err, errx.KindExternalService) {
			reason = "external_service"
		}
		logx.Warn().Err(err).Int("iteration", len(prior)).Msg("web search reformulation failed")
		return out, compose.ProcessState(ctx, func(_ context.Context, st *State) error {
			st.exhaust(reason)
			return nil
		})
	}
	out.Query = query
	return out, nil
}

// recordQuery counts a round once its query exists.
func recordQuery(_ context.Context, out Round, st *State) (Round, error) {
	if out.Query != "" {
		st.Queries = append(st.Queries, out.Query)
		st.Iterations++
	}
	return out, nil
}

func (s *Subsystem) webSearch(ctx context.Context, in Round) (Round, error) {
	hits, err := s.provider.Search(ctx, in.Query)
	if err != nil {
		if ctx.Err() != nil {
			return in, ctx.Err()
		}
		logx.Warn().Err(err).Str("provider", s.provider.Name()).Str("query", in.Query).Msg("web search failed, trying another query")
		in.Content = ""
		return in, nil
	}
	if len(hits) == 0 {
		logx.Debug().Str("query", in.Query).Msg("web search returned nothing")
		in.Content = ""
		return in, nil
	}
	in.Content = model.FormatSearchResults(hits)
	return in, nil
}

func (s *Subsystem) relevantCheck(ctx context.Context, in Round) (Round, error) {
	verdict := s.grader.Grade(ctx, in.Query, in.Content)
	if err := ctx.Err(); err != nil {
		return in, err
	}
	if !verdict.Relevant {
		in.Content = ""
		return in, nil
	}
	return in, compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		st.Approved = true
		return nil
	})
}

func finish(ctx context.Context, in Round) (Result, error) {
	var res Result
	err := compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		if !st.Approved && !st.Exhausted {
			st.exhaust("max_iterations")
		}
		res = Result{
			Queries:    st.Queries,
			Iterations: st.Iterations,
			Exhausted:  st.Exhausted,
			Reason:     st.Reason,
		}
		if st.Approved {
			res.Context = in.Content
		}
		return nil
	})
	return res, err
}

// ================ Branches ================

func afterTransform(ctx context.Context, _ Round) (string, error) {
	next := nodes.NodeWebSearch
	err := compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		if st.Exhausted {
			next = nodeFinish
		}
		return nil
	})
	return next, err
}

func (s *Subsystem) afterSearch(ctx context.Context, in Round) (string, error) {
	if in.Content != "" {
		return nodes.NodeRelevantCheck, nil
	}
	return s.nextRound(ctx)
}

func (s *Subsystem) afterCheck(ctx context.Context, in Round) (string, error) {
	if in.Content != "" {
		return nodeFinish, nil
	}
	return s.nextRound(ctx)
}

// nextRound reformulates again unless the iteration cap is reached.
func (s *Subsystem) nextRound(ctx context.Context) (string, error) {
	next := nodes.NodeTransformQuery
	err := compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		if st.Iterations >= s.cfg.MaxIterations {
			next = nodeFinish
		}
		return nil
	})
	return next, err
}
