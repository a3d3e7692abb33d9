package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/net/html"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

const (
	duckDuckGoLiteURL = "https://lite.duckduckgo.com"
	userAgent         = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

type DuckDuckGoOptions struct {
	BaseURL    string
	MaxResults int
	// Region is the kl parameter, e.g. "wt-wt" for no region.
	Region string
	// TimeRange is the df parameter: d, w, m or y.
	TimeRange string
	Timeout   time.Duration
	// MinInterval spaces consecutive queries; DuckDuckGo throttles bursts.
	MinInterval time.Duration
	RetryWait   time.Duration
}

// DuckDuckGo scrapes the lite HTML interface.
type DuckDuckGo struct {
	client *resty.Client
	opts   DuckDuckGoOptions

	mu   sync.Mutex
	last time.Time
}

func NewDuckDuckGo(opts DuckDuckGoOptions) *DuckDuckGo {
	if opts.BaseURL == "" {
		opts.BaseURL = duckDuckGoLiteURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.MinInterval == 0 {
		opts.MinInterval = time.Second
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = time.Second
	}

	client := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetHeader("User-Agent", userAgent).
		SetRetryCount(3).
		SetRetryWaitTime(opts.RetryWait).
		SetRetryMaxWaitTime(8 * opts.RetryWait).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return r != nil && r.StatusCode() == http.StatusTooManyRequests
		})

	return &DuckDuckGo{client: client, opts: opts}
}

func (d *DuckDuckGo) Name() string { return "duckduckgo" }

func (d *DuckDuckGo) Search(ctx context.Context, query string) ([]model.SearchHit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}
	if err := d.wait(ctx); err != nil {
		return nil, err
	}

	form := map[string]string{"q": query}
	if d.opts.Region != "" {
		form["kl"] = d.opts.Region
	}
	if d.opts.TimeRange != "" {
		form["df"] = d.opts.TimeRange
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post("/lite/")
	if err != nil {
		return nil, errx.ExternalService("duckduckgo", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, errx.ExternalService("duckduckgo", fmt.Errorf("duckduckgo http %d", resp.StatusCode()))
	}

	hits, err := parseLiteResults(resp.Body())
	if err != nil {
		return nil, fmt.Errorf("parse duckduckgo results: %w", err)
	}
	logx.Debug().Str("provider", d.Name()).Str("query", query).Int("hits", len(hits)).Msg("search done")
	return limit(hits, d.opts.MaxResults), nil
}

// wait enforces the minimum interval between queries of this client.
func (d *DuckDuckGo) wait(ctx context.Context) error {
	if d.opts.MinInterval < 0 {
		return nil
	}
	d.mu.Lock()
	wait := time.Until(d.last.Add(d.opts.MinInterval))
	if wait <= 0 {
		d.last = time.Now()
		d.mu.Unlock()
		return nil
	}
	d.last = time.Now().Add(wait)
	d.mu.Unlock()

	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// parseLiteResults walks the lite page: each a.result-link starts a hit and
// the following td.result-snippet fills its snippet.
func parseLiteResults(body []byte) ([]model.SearchHit, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var hits []model.SearchHit
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch {
			case n.Data == "a" && hasClass(n, "result-link"):
				href := resolveRedirect(attr(n, "href"))
				title := collapse(textOf(n))
				if href != "" && title != "" {
					hits = append(hits, model.SearchHit{Title: title, URL: href})
				}
				return
			case n.Data == "td" && hasClass(n, "result-snippet"):
				if len(hits) > 0 && hits[len(hits)-1].Snippet == "" {
					hits[len(hits)-1].Snippet = collapse(textOf(n))
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return hits, nil
}

// resolveRedirect unwraps //duckduckgo.com/l/?uddg=<target> links.
func resolveRedirect(href string) string {
	href = strings.TrimSpace(href)
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if strings.HasSuffix(u.Host, "duckduckgo.com") {
		if target := u.Query().Get("uddg"); target != "" {
			return target
		}
	}
	return href
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
