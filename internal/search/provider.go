// Package search adapts web search engines to a single query-in, hits-out contract.
package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/tanpawarit/chative-router/internal/agent/model"
)

// Provider runs one web search.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]model.SearchHit, error)
}

// New builds the provider selected by cfg.Provider.
func New(cfg model.WebSearchConfig) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "duckduckgo", "ddg":
		return NewDuckDuckGo(DuckDuckGoOptions{
			MaxResults: cfg.MaxResults,
			Region:     cfg.Region,
			TimeRange:  cfg.TimeRange,
			Timeout:    cfg.Timeout,
		}), nil
	case "searxng":
		return NewSearxng(cfg.SearxngURL, SearxngOptions{
			MaxResults: cfg.MaxResults,
			TimeRange:  cfg.TimeRange,
			Timeout:    cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown search provider %q", cfg.Provider)
	}
}

func limit(hits []model.SearchHit, max int) []model.SearchHit {
	if max > 0 && len(hits) > max {
		return hits[:max]
	}
	return hits
}
