// Package summarizer folds old conversation turns into the running summary.
package summarizer

import (
	"context"
	"errors"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/tanpawarit/chative-router/internal/agent/graph/nodes"
	"github.com/tanpawarit/chative-router/internal/agent/graph/prompts"
	"github.com/tanpawarit/chative-router/internal/agent/metrics"
	"github.com/tanpawarit/chative-router/internal/agent/model"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const (
	DefaultThreshold = 6
	DefaultKeepLast  = 2
)

// ErrEmptySummary means the model returned nothing usable; no turns are dropped.
var ErrEmptySummary = errors.New("summarizer: model returned an empty summary")

type Config struct {
	Language string
	// Threshold is the message count above which a session gets summarized.
	Threshold int
	KeepLast  int
}

type Summarizer struct {
	chat      einomodel.BaseChatModel
	invoker   *nodes.Invoker
	modelName string
	cfg       Config
}

func New(chat einomodel.BaseChatModel, invoker *nodes.Invoker, modelName string, cfg Config) *Summarizer {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = DefaultKeepLast
	}
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	return &Summarizer{chat: chat, invoker: invoker, modelName: modelName, cfg: cfg}
}

// Due reports whether a history of n messages should be summarized.
func (s *Summarizer) Due(n int) bool {
	return n > s.cfg.Threshold
}

// Summarize extends existing (or creates a summary) from turns and returns
// the ids of every turn except the last KeepLast. On error nothing may be pruned.
func (s *Summarizer) Summarize(ctx context.Context, existing string, turns []model.Turn) (string, []string, error) {
	summary, err := s.summarize(ctx, existing, turns)
	if err != nil {
		metrics.SummarizationsTotal.WithLabelValues("error").Inc()
		return "", nil, err
	}
	metrics.SummarizationsTotal.WithLabelValues("ok").Inc()

	var drop []string
	if n := len(turns) - s.cfg.KeepLast; n > 0 {
		drop = make([]string, 0, n)
		for _, t := range turns[:n] {
			drop = append(drop, t.ID)
		}
	}

	logx.Debug().
		Str("conversation_id", model.SessionIDFrom(ctx)).
		Int("turns", len(turns)).
		Int("dropped", len(drop)).
		Int("summary_len", len(summary)).
		Msg("history summarized")
	return summary, drop, nil
}

func (s *Summarizer) summarize(ctx context.Context, existing string, turns []model.Turn) (string, error) {
	msgs, err := prompts.RenderSummarize(ctx, prompts.SummarizeVars{
		Existing: existing,
		Language: s.cfg.Language,
		History:  model.TurnsToMessages(turns),
	})
	if err != nil {
		return "", err
	}

	out, err := s.invoker.Generate(ctx, s.chat, nodes.Call{Node: nodes.NodeSummarizeHistory, Model: s.modelName}, msgs)
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out.Content)
	if summary == "" {
		return "", ErrEmptySummary
	}
	return summary, nil
}
