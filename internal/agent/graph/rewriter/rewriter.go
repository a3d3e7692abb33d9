// Package rewriter reformulates search queries and refuses to repeat one.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/prompts"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

type Variant string

const (
	VariantWebSearch   Variant = "web_search"
	VariantVectorstore Variant = "vectorstore"
)

// ErrRepeatedQuery means the model kept producing a query it already tried.
var ErrRepeatedQuery = errors.New("reformulated query repeats a prior query")

// maxAttempts is the first try plus one corrective retry.
const maxAttempts = 2

type Config struct {
	// CorpusLanguage is the language of vectorstore queries.
	CorpusLanguage    string
	CorpusDescription string
}

type Rewriter struct {
	chat      einomodel.BaseChatModel
	invoker   *nodes.Invoker
	modelName string
	variant   Variant
	cfg       Config
}

func New(chat einomodel.BaseChatModel, invoker *nodes.Invoker, modelName string, variant Variant, cfg Config) *Rewriter {
	return &Rewriter{chat: chat, invoker: invoker, modelName: modelName, variant: variant, cfg: cfg}
}

// Reformulate returns a query distinct from every entry of prior.
func (r *Rewriter) Reformulate(ctx context.Context, prior []string, summary, question string) (string, error) {
	seen := make(map[string]struct{}, len(prior))
	for _, p := range prior {
		seen[queryKey(p)] = struct{}{}
	}

	vars := prompts.RewriteVars{
		Question:          question,
		Summary:           summary,
		PriorQueries:      prior,
		CorpusLanguage:    r.cfg.CorpusLanguage,
		CorpusDescription: r.cfg.CorpusDescription,
	}

	var last string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		msgs, err := r.render(ctx, vars)
		if err != nil {
			return "", err
		}
		out, err := r.invoker.Generate(ctx, r.chat, nodes.Call{Node: nodes.NodeTransformQuery, Model: r.modelName}, msgs)
		if err != nil {
			return "", err
		}

		query := Normalize(out.Content)
		if _, dup := seen[queryKey(query)]; query != "" && !dup {
			return query, nil
		}

		last = query
		logx.Debug().
			Str("variant", string(r.variant)).
			Str("query", query).
			Int("attempt", attempt).
			Msg("reformulator repeated a prior query")
		vars.Feedback = fmt.Sprintf("Your previous answer %q repeats a query that was already tried or is empty. Write a clearly different query.", query)
	}

	return "", errx.RetryExhausted("reformulator", maxAttempts, fmt.Errorf("%w: %q", ErrRepeatedQuery, last))
}

func (r *Rewriter) render(ctx context.Context, vars prompts.RewriteVars) ([]*schema.Message, error) {
	switch r.variant {
	case VariantWebSearch:
		return prompts.RenderRewriteWeb(ctx, vars)
	case VariantVectorstore:
		return prompts.RenderRewriteVectorstore(ctx, vars)
	default:
		return nil, fmt.Errorf("unknown rewriter variant %q", r.variant)
	}
}

// Normalize keeps the first non-empty line and strips labels and wrapping quotes.
func Normalize(s string) string {
	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "```") {
			continue
		}
		for _, prefix := range []string{"Query:", "query:", "Improved query:", "Improved question:"} {
			line = strings.TrimSpace(strings.TrimPrefix(line, prefix))
		}
		return strings.TrimSpace(strings.Trim(line, "\"'`"))
	}
	return ""
}

// queryKey compares queries ignoring case and spacing.
func queryKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
