package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

const litePage = `<html><body><table>
<tr><td>1.&nbsp;</td><td><a rel="nofollow" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fweather.example.com%2Fseoul&amp;rut=x" class='result-link'>Seoul <b>weather</b></a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Sunny, 21&deg;C   today.</td></tr>
<tr><td>2.&nbsp;</td><td><a rel="nofollow" href="https://kma.go.kr/" class='result-link'>KMA</a></td></tr>
<tr><td>&nbsp;</td><td class='result-snippet'>Korea Meteorological Administration</td></tr>
<tr><td>3.&nbsp;</td><td><a rel="nofollow" href="https://third.example.com/" class='result-link'>Third</a></td></tr>
</table></body></html>`

func TestDuckDuckGo(t *testing.T) {
	t.Run("Should parse lite results and send region and time range", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/lite/", r.URL.Path)
			assert.Equal(t, "seoul weather", r.PostForm.Get("q"))
			assert.Equal(t, "wt-wt", r.PostForm.Get("kl"))
			assert.Equal(t, "y", r.PostForm.Get("df"))
			_, _ = w.Write([]byte(litePage))
		}))
		defer srv.Close()

		ddg := NewDuckDuckGo(DuckDuckGoOptions{BaseURL: srv.URL, MaxResults: 2, Region: "wt-wt", TimeRange: "y", MinInterval: -1})
		hits, err := ddg.Search(context.Background(), "seoul weather")

		require.NoError(t, err)
		require.Len(t, hits, 2)
		assert.Equal(t, model.SearchHit{Title: "Seoul weather", URL: "https://weather.example.com/seoul", Snippet: "Sunny, 21°C today."}, hits[0])
		assert.Equal(t, "https://kma.go.kr/", hits[1].URL)
	})

	t.Run("Should retry after a 429", func(t *testing.T) {
		var calls int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			_, _ = w.Write([]byte(litePage))
		}))
		defer srv.Close()

		ddg := NewDuckDuckGo(DuckDuckGoOptions{BaseURL: srv.URL, MinInterval: -1, RetryWait: time.Millisecond})
		hits, err := ddg.Search(context.Background(), "q")

		require.NoError(t, err)
		assert.Len(t, hits, 3)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("Should report outages as external service errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		ddg := NewDuckDuckGo(DuckDuckGoOptions{BaseURL: srv.URL, MinInterval: -1})
		_, err := ddg.Search(context.Background(), "q")

		assert.True(t, errx.IsKind(err, errx.KindExternalService))
	})

	t.Run("Should space consecutive queries", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(litePage))
		}))
		defer srv.Close()

		ddg := NewDuckDuckGo(DuckDuckGoOptions{BaseURL: srv.URL, MinInterval: 50 * time.Millisecond})
		start := time.Now()
		_, err := ddg.Search(context.Background(), "a")
		require.NoError(t, err)
		_, err = ddg.Search(context.Background(), "b")
		require.NoError(t, err)

		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("Should reject an empty query", func(t *testing.T) {
		_, err := NewDuckDuckGo(DuckDuckGoOptions{MinInterval: -1}).Search(context.Background(), "  ")
		assert.Error(t, err)
	})
}

func TestSearxng(t *testing.T) {
	t.Run("Should decode json results", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/search", r.URL.Path)
			assert.Equal(t, "json", r.URL.Query().Get("format"))
			assert.Equal(t, "year", r.URL.Query().Get("time_range"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"results":[{"title":"A","url":"https://a","content":" alpha ","score":1.2},{"title":"B","url":"https://b","content":"beta"}]}`))
		}))
		defer srv.Close()

		s, err := NewSearxng(srv.URL+"/", SearxngOptions{MaxResults: 1, TimeRange: "y"})
		require.NoError(t, err)

		hits, err := s.Search(context.Background(), "alpha")

		require.NoError(t, err)
		assert.Equal(t, []model.SearchHit{{Title: "A", URL: "https://a", Snippet: "alpha"}}, hits)
	})

	t.Run("Should require an api url", func(t *testing.T) {
		_, err := NewSearxng("", SearxngOptions{})
		assert.Error(t, err)
	})
}

func TestNew(t *testing.T) {
	p, err := New(model.WebSearchConfig{Provider: "DuckDuckGo"})
	require.NoError(t, err)
	assert.Equal(t, "duckduckgo", p.Name())

	p, err = New(model.WebSearchConfig{Provider: "searxng", SearxngURL: "http://localhost:8888"})
	require.NoError(t, err)
	assert.Equal(t, "searxng", p.Name())

	_, err = New(model.WebSearchConfig{Provider: "bing"})
	assert.Error(t, err)
}
