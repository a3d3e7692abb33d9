// Package retrieval answers a question from the document corpus through a
// bounded reformulate, retrieve and grade loop.
package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/compose"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/chative-router/internal/agent/graph/grader"
	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const subsystem = "vectorstore"

const nodeFinish = "finish"

const (
	DefaultMaxIterations    = 3
	DefaultTopK             = 10
	DefaultGradeConcurrency = 4
)

type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]model.Document, error)
}

type Reformulator interface {
	Reformulate(ctx context.Context, prior []string, summary, question string) (string, error)
}

type Grader interface {
	Grade(ctx context.Context, query, candidate string) grader.Verdict
}

type Config struct {
	MaxIterations    int
	TopK             int
	GradeConcurrency int
}

// Round is passed between the loop nodes. Documents holds what was
// retrieved until grading, then only the approved ones.
type Round struct {
	Question  string
	Summary   string
	Query     string
	Documents []model.Document
}

// State lives for one Run.
type State struct {
	Queries    []string
	Iterations int
	Approved   bool
	Exhausted  bool
	Reason     string
}

type Result struct {
	Documents  []model.Document
	Context    string
	Queries    []string
	Iterations int
	Exhausted  bool
	Reason     string
}

type Subsystem struct {
	rewriter  Reformulator
	retriever Retriever
	grader    Grader
	cfg       Config
	runnable  compose.Runnable[Round, Result]
}

func New(ctx context.Context, rewriter Reformulator, retriever Retriever, g Grader, cfg Config) (*Subsystem, error) {
	if rewriter == nil || retriever == nil || g == nil {
		return nil, fmt.Errorf("retrieval needs a reformulator, a retriever and a grader")
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.GradeConcurrency <= 0 {
		cfg.GradeConcurrency = DefaultGradeConcurrency
	}
	s := &Subsystem{rewriter: rewriter, retriever: retriever, grader: g, cfg: cfg}

	graph := compose.NewGraph[Round, Result](
		compose.WithGenLocalState(func(ctx context.Context) *State {
			return &State{}
		}),
	)

	lambdas := []struct {
		key  string
		node *compose.Lambda
		opts []compose.GraphAddNodeOpt
	}{
		{nodes.NodeTransformQuery, compose.InvokableLambda(s.transformQuery), []compose.GraphAddNodeOpt{
			compose.WithStatePostHandler[Round, *State](countRound),
		}},
		{nodes.NodeRetrieve, compose.InvokableLambda(s.retrieve), nil},
		{nodes.NodeGradeDocuments, compose.InvokableLambda(s.gradeDocuments), nil},
		{nodeFinish, compose.InvokableLambda(finish), nil},
	}
	for _, l := range lambdas {
		if err := graph.AddLambdaNode(l.key, l.node, l.opts...); err != nil {
			return nil, fmt.Errorf("add %s node: %w", l.key, err)
		}
	}

	edges := [][2]string{
		{compose.START, nodes.NodeTransformQuery},
		{nodeFinish, compose.END},
	}
	for _, e := range edges {
		if err := graph.AddEdge(e[0], e[1]); err != nil {
			return nil, fmt.Errorf("add edge %s -> %s: %w", e[0], e[1], err)
		}
	}

	if err := graph.AddBranch(nodes.NodeTransformQuery, compose.NewGraphBranch(afterTransform, map[string]bool{
		nodes.NodeRetrieve: true,
		nodeFinish:         true,
	})); err != nil {
		return nil, err
	}
	if err := graph.AddBranch(nodes.NodeRetrieve, compose.NewGraphBranch(s.afterRetrieve, map[string]bool{
		nodes.NodeGradeDocuments: true,
		nodes.NodeTransformQuery: true,
		nodeFinish:               true,
	})); err != nil {
		return nil, err
	}
	if err := graph.AddBranch(nodes.NodeGradeDocuments, compose.NewGraphBranch(s.afterGrade, map[string]bool{
		nodes.NodeTransformQuery: true,
		nodeFinish:               true,
	})); err != nil {
		return nil, err
	}

	runnable, err := graph.Compile(ctx,
		compose.WithGraphName(subsystem),
		compose.WithMaxRunSteps(3*cfg.MaxIterations+4),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling retrieval graph")
		return nil, fmt.Errorf("error compiling retrieval graph: %w", err)
	}
	s.runnable = runnable
	return s, nil
}

// Run returns the approved documents of the first round that kept any.
// Outages end the loop as Exhausted; only cancellation is returned as an error.
func (s *Subsystem) Run(ctx context.Context, question, summary string) (Result, error) {
	res, err := s.runnable.Invoke(ctx, Round{Question: question, Summary: summary})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		logx.Error().Err(err).Msg("retrieval loop aborted")
		res = Result{Iterations: s.cfg.MaxIterations, Exhausted: true, Reason: "step_limit"}
	}
	metrics.LoopIterations.WithLabelValues(subsystem).Observe(float64(res.Iterations))

	if res.Exhausted {
		metrics.LoopExhaustedTotal.WithLabelValues(subsystem, res.Reason).Inc()
		logx.Warn().
			Err(errx.RetryExhausted(subsystem, res.Iterations, errors.New(res.Reason))).
			Strs("queries", res.Queries).
			Msg("retrieval ended without a relevant document")
		res.Documents = nil
		return res, nil
	}
	res.Context = model.FormatDocuments(res.Documents)
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
	if err == nil {
		out.Query = query
		return out, nil
	}
	if ctx.Err() != nil {
		return out, ctx.Err()
	}
	reason := "reformulator"
	if errx.IsKind(err, errx.KindExternalService) {
		reason = "external_service"
	}
	logx.Warn().Err(err).Int("iteration", len(prior)).Msg("retrieval reformulation failed")
	return out, compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		st.Exhausted, st.Reason = true, reason
		return nil
	})
}

func countRound(_ context.Context, out Round, st *State) (Round, error) {
	if out.Query != "" {
		st.Queries = append(st.Queries, out.Query)
		st.Iterations++
	}
	return out, nil
}

func (s *Subsystem) retrieve(ctx context.Context, in Round) (Round, error) {
	docs, err := s.retriever.Retrieve(ctx, in.Query, s.cfg.TopK)
	if err != nil {
		if ctx.Err() != nil {
			return in, ctx.Err()
		}
		logx.Warn().Err(err).Str("query", in.Query).Msg("retrieval failed, trying another query")
		docs = nil
	}
	in.Documents = docs
	return in, nil
}

// gradeDocuments grades every retrieved document on its own and keeps the
// relevant ones in retrieval order.
func (s *Subsystem) gradeDocuments(ctx context.Context, in Round) (Round, error) {
	keep := make([]bool, len(in.Documents))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.GradeConcurrency)
	for i, doc := range in.Documents {
		g.Go(func() error {
			keep[i] = s.grader.Grade(gctx, in.Query, doc.Content).Relevant
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return in, err
	}

	approved := make([]model.Document, 0, len(in.Documents))
	for i, doc := range in.Documents {
		if keep[i] {
			approved = append(approved, doc)
		}
	}
	logx.Debug().
		Str("query", in.Query).
		Int("retrieved", len(in.Documents)).
		Int("approved", len(approved)).
		Msg("documents graded")

	in.Documents = approved
	if len(approved) == 0 {
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
			st.Exhausted, st.Reason = true, "max_iterations"
		}
		res = Result{Queries: st.Queries, Iterations: st.Iterations, Exhausted: st.Exhausted, Reason: st.Reason}
		if st.Approved {
			res.Documents = in.Documents
		}
		return nil
	})
	return res, err
}

func afterTransform(ctx context.Context, _ Round) (string, error) {
	var exhausted bool
	err := compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		exhausted = st.Exhausted
		return nil
	})
	if exhausted {
		return nodeFinish, err
	}
	return nodes.NodeRetrieve, err
}

func (s *Subsystem) afterRetrieve(ctx context.Context, in Round) (string, error) {
	if len(in.Documents) > 0 {
		return nodes.NodeGradeDocuments, nil
	}
	return s.nextRound(ctx)
}

func (s *Subsystem) afterGrade(ctx context.Context, in Round) (string, error) {
	if len(in.Documents) > 0 {
		return nodeFinish, nil
	}
	return s.nextRound(ctx)
}

// nextRound loops back to transform_query while iterations remain.
func (s *Subsystem) nextRound(ctx context.Context) (string, error) {
	var iterations int
	err := compose.ProcessState(ctx, func(_ context.Context, st *State) error {
		iterations = st.Iterations
		return nil
	})
	if iterations >= s.cfg.MaxIterations {
		return nodeFinish, err
	}
	return nodes.NodeTransformQuery, err
}
