// Package grader labels a search result or a document as relevant or not to a query.
package grader

import (
	"context"
	"fmt"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/parsers"
	"github.com/tanpawarit/chative-router/internal/agent/graph/prompts"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

type Kind string

const (
	KindSearchResult Kind = "search_result"
	KindDocument     Kind = "document"
)

// Verdict is the grading outcome. Degraded marks a verdict forced to
// "not relevant" because the model call or its output failed.
type Verdict struct {
	Relevant bool
	Degraded bool
}

type Grader struct {
	chat      einomodel.BaseChatModel
	invoker   *nodes.Invoker
	modelName string
	kind      Kind
}

func New(chat einomodel.BaseChatModel, invoker *nodes.Invoker, modelName string, kind Kind) *Grader {
	return &Grader{chat: chat, invoker: invoker, modelName: modelName, kind: kind}
}

// Grade never fails: any error yields a degraded "not relevant" verdict.
func (g *Grader) Grade(ctx context.Context, query, candidate string) Verdict {
	relevant, err := g.grade(ctx, query, candidate)
	if err != nil {
		if ctx.Err() == nil {
			logx.Warn().Err(err).Str("kind", string(g.kind)).Msg("grading failed, treating candidate as not relevant")
		}
		metrics.GraderVerdictsTotal.WithLabelValues(string(g.kind), "degraded").Inc()
		return Verdict{Relevant: false, Degraded: true}
	}

	label := "irrelevant"
	if relevant {
		label = "relevant"
	}
	metrics.GraderVerdictsTotal.WithLabelValues(string(g.kind), label).Inc()
	return Verdict{Relevant: relevant}
}

func (g *Grader) grade(ctx context.Context, query, candidate string) (bool, error) {
	vars := prompts.GradeVars{Query: query, Candidate: candidate}

	var (
		msgs []*schema.Message
		err  error
	)
	switch g.kind {
	case KindDocument:
		msgs, err = prompts.RenderGradeDocument(ctx, vars)
	case KindSearchResult:
		msgs, err = prompts.RenderGradeSearch(ctx, vars)
	default:
		return false, fmt.Errorf("unknown grader kind %q", g.kind)
	}
	if err != nil {
		return false, err
	}

	out, err := g.invoker.Generate(ctx, g.chat, nodes.Call{Node: "grade_" + string(g.kind), Model: g.modelName}, msgs)
	if err != nil {
		return false, err
	}
	return parsers.ParseBinaryScore(out.Content)
}
