package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

type SearxngOptions struct {
	MaxResults int
	// TimeRange uses the DuckDuckGo letters (d, w, m, y) and is mapped to SearXNG names.
	TimeRange string
	Timeout   time.Duration
}

// Searxng queries a SearXNG instance through its JSON API.
type Searxng struct {
	client *resty.Client
	opts   SearxngOptions
}

type searxngResponse struct {
	Results []struct {
		Title   string  `json:"title"`
		URL     string  `json:"url"`
		Content string  `json:"content"`
		Score   float64 `json:"score"`
	} `json:"results"`
}

func NewSearxng(apiURL string, opts SearxngOptions) (*Searxng, error) {
	if strings.TrimSpace(apiURL) == "" {
		return nil, fmt.Errorf("searxng api url is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	client := resty.New().
		SetBaseURL(strings.TrimRight(apiURL, "/")).
		SetTimeout(opts.Timeout)
	return &Searxng{client: client, opts: opts}, nil
}

func (s *Searxng) Name() string { return "searxng" }

func (s *Searxng) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	params := map[string]string{"q": query, "format": "json"}
	if tr := searxngTimeRange(s.opts.TimeRange); tr != "" {
		params["time_range"] = tr
	}

	var decoded searxngResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(&decoded).
		Get("/search")
	if err != nil {
		return nil, errx.ExternalService("searxng", err)
	}
	if resp.IsError() {
		return nil, errx.ExternalService("searxng", fmt.Errorf("searxng request failed with status %d", resp.StatusCode()))
	}

	hits := make([]model.SearchHit, 0, len(decoded.Results))
	for _, item := range decoded.Results {
		hits = append(hits, model.SearchHit{
			Title:   item.Title,
			URL:     item.URL,
			Snippet: strings.TrimSpace(item.Content),
		})
	}
	return limit(hits, s.opts.MaxResults), nil
}

func searxngTimeRange(df string) string {
	switch df {
	case "d":
		return "day"
	case "w":
		return "week"
	case "m":
		return "month"
	case "y":
		return "year"
	}
	return ""
}
