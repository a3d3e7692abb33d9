package parsers

import (
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
	logx "github.com/tanpawarit/chative-router/pkg/logger"
)

// basic safety limits to avoid pathological inputs
const (
	maxContentLen = 64 * 1024
	maxErrSnippet = 200
)

// routeAliases maps names models tend to produce onto known routes.
var routeAliases = map[string]model.Route{
	"additional_tools": model.RouteTools,
	"tool":             model.RouteTools,
	"chat":             model.RouteChat,
	"none":             model.RouteChat,
	"websearch":        model.RouteWebSearch,
	"retrieval":        model.RouteVectorstore,
}

// ParseRoute reads {"datasource": "..."} from a router completion. A bare
// route name is accepted too. Anything else is ClassificationAmbiguous.
func ParseRoute(content string) (route model.Route, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "route_parser").Msgf("panic recovered: %v", r)
			route, err = model.RouteChat, errx.New(fmt.Errorf("route parser panic"), http.StatusInternalServerError, errx.SystemErrorMessage)
		}
	}()

	content = guard(content, "route_parser")
	if strings.TrimSpace(content) == "" {
		return model.RouteChat, errx.ClassificationAmbiguous("")
	}

	raw := content
	if obj, ok := extractJSONObject(content); ok {
		ds := gjson.Get(obj, "datasource")
		if !ds.Exists() {
			return model.RouteChat, errx.ClassificationAmbiguous(safeSnippet(obj))
		}
		raw = ds.String()
	} else {
		raw = strings.Trim(strings.TrimSpace(raw), "`\"' .")
	}

	if r, ok := model.ParseRoute(raw); ok {
		return r, nil
	}
	if r, ok := routeAliases[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return r, nil
	}
	return model.RouteChat, errx.ClassificationAmbiguous(safeSnippet(raw))
}

// ParseBinaryScore reads {"binary_score": "yes"|"no"} from a grader
// completion, falling back to a leading yes/no word.
func ParseBinaryScore(content string) (relevant bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("component", "score_parser").Msgf("panic recovered: %v", r)
			relevant, err = false, fmt.Errorf("score parser panic")
		}
	}()

	content = guard(content, "score_parser")
	raw := content
	if obj, ok := extractJSONObject(content); ok {
		score := gjson.Get(obj, "binary_score")
		if !score.Exists() {
			return false, fmt.Errorf("binary_score missing: %s", safeSnippet(obj))
		}
		if score.Type == gjson.True || score.Type == gjson.False {
			return score.Bool(), nil
		}
		raw = score.String()
	}

	word := strings.ToLower(strings.Trim(strings.TrimSpace(raw), "`\"'.!"))
	if i := strings.IndexAny(word, " \n\t,"); i > 0 {
		word = word[:i]
	}
	switch word {
	case "yes", "relevant", "true":
		return true, nil
	case "no", "irrelevant", "not", "false":
		return false, nil
	}
	return false, fmt.Errorf("unrecognised binary score: %s", safeSnippet(raw))
}

// extractJSONObject returns the first balanced {...} block, skipping code fences and prose.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				obj := s[start : i+1]
				if gjson.Valid(obj) {
					return obj, true
				}
				return "", false
			}
		}
	}
	return "", false
}

func guard(content, component string) string {
	if len(content) > maxContentLen {
		logx.Warn().
			Str("component", component).
			Int("max_len", maxContentLen).
			Int("orig_len", len(content)).
			Msg("content truncated due to size limit")
		content = content[:maxContentLen]
	}
	if !utf8.ValidString(content) {
		content = strings.ToValidUTF8(content, "")
	}
	return content
}

func safeSnippet(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxErrSnippet {
		return s
	}
	return s[:maxErrSnippet]
}
