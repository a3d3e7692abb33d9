package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/tanpawarit/chative-router/internal/agent/model"
)

// ===================================
// Wikipedia Tool
// ===================================

const (
	wikipediaTopK     = 3
	wikipediaMaxChars = 4000
)

type WikipediaInput struct {
	Query string `json:"query"`
}

type WikipediaPage struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type WikipediaOutput struct {
	Pages []WikipediaPage `json:"pages"`
}

func newWikipediaClient(cfg model.ToolsConfig) *resty.Client {
	base := cfg.WikipediaURL
	if base == "" {
		lang := cfg.WikipediaLang
		if lang == "" {
			lang = "en"
		}
		base = fmt.Sprintf("https://%s.wikipedia.org", lang)
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(base, "/")).
		SetHeader("User-Agent", "chative-router/1.0")
	if cfg.Timeout > 0 {
		c.SetTimeout(cfg.Timeout)
	}
	return c
}

func createWikipediaTool(client *resty.Client) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWikipedia,
			Desc: "Look up general knowledge on Wikipedia. Useful for questions about people, places, companies, historical events and other well known subjects. Input should be a search query.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"query": {
					Type:     "string",
					Desc:     "Search query, e.g. a name or topic.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *WikipediaInput) (*WikipediaOutput, error) {
			if strings.TrimSpace(in.Query) == "" {
				return nil, fmt.Errorf("query is required")
			}
			return lookupWikipedia(ctx, client, in.Query)
		},
	)
}

// lookupWikipedia searches titles, then fetches the plain-text intro of each
// hit in one request and returns them in search order.
func lookupWikipedia(ctx context.Context, client *resty.Client, query string) (*WikipediaOutput, error) {
	resp, err := client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action":   "query",
			"list":     "search",
			"srsearch": query,
			"srlimit":  fmt.Sprint(wikipediaTopK),
			"format":   "json",
		}).
		Get("/w/api.php")
	if err != nil {
		return nil, fmt.Errorf("wikipedia search: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wikipedia search: status %d", resp.StatusCode())
	}

	var titles []string
	gjson.GetBytes(resp.Body(), "query.search.#.title").ForEach(func(_, v gjson.Result) bool {
		titles = append(titles, v.String())
		return true
	})
	if len(titles) == 0 {
		return &WikipediaOutput{Pages: []WikipediaPage{}}, nil
	}

	resp, err = client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"action":      "query",
			"prop":        "extracts",
			"exintro":     "1",
			"explaintext": "1",
			"redirects":   "1",
			"titles":      strings.Join(titles, "|"),
			"format":      "json",
		}).
		Get("/w/api.php")
	if err != nil {
		return nil, fmt.Errorf("wikipedia extracts: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wikipedia extracts: status %d", resp.StatusCode())
	}

	extracts := make(map[string]string, len(titles))
	gjson.GetBytes(resp.Body(), "query.pages").ForEach(func(_, page gjson.Result) bool {
		extracts[page.Get("title").String()] = page.Get("extract").String()
		return true
	})

	out := &WikipediaOutput{Pages: make([]WikipediaPage, 0, len(titles))}
	budget := wikipediaMaxChars
	for _, title := range titles {
		summary := strings.TrimSpace(extracts[title])
		if summary == "" || budget <= 0 {
			continue
		}
		if r := []rune(summary); len(r) > budget {
			summary = string(r[:budget])
		}
		budget -= len([]rune(summary))
		out.Pages = append(out.Pages, WikipediaPage{Title: title, Summary: summary})
	}
	return out, nil
}
