package prompts

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

var (
	//go:embed template/route.txt
	routeSystemPrompt string
	//go:embed template/chat.txt
	chatSystemPrompt string
	//go:embed template/rewrite_web.txt
	rewriteWebPrompt string
	//go:embed template/rewrite_vectorstore.txt
	rewriteVectorstorePrompt string
	//go:embed template/grade_search.txt
	gradeSearchPrompt string
	//go:embed template/grade_document.txt
	gradeDocumentPrompt string
	//go:embed template/summarize.txt
	summarizePrompt string
	//go:embed template/tools.txt
	toolsSystemPrompt string
)

var (
	routeTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(routeSystemPrompt),
		schema.UserMessage("{{.Question}}"),
	)
	chatTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(chatSystemPrompt),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{{.Question}}"),
	)
	rewriteWebTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(rewriteWebPrompt),
		schema.UserMessage("{{.Question}}"),
	)
	rewriteVectorstoreTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(rewriteVectorstorePrompt),
		schema.UserMessage("Here is the initial question:\n{{.Question}}\nFormulate an improved question."),
	)
	gradeSearchTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(gradeSearchPrompt),
		schema.UserMessage("{{.Query}}"),
	)
	gradeDocumentTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(gradeDocumentPrompt),
		schema.UserMessage("User question:\n{{.Query}}"),
	)
	summarizeTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.MessagesPlaceholder("history", false),
		schema.UserMessage(summarizePrompt),
	)
	toolsTemplate = prompt.FromMessages(schema.GoTemplate,
		schema.SystemMessage(toolsSystemPrompt),
		schema.MessagesPlaceholder("history", false),
	)
)

type RouteVars struct {
	Question          string
	CorpusDescription string
}

type ChatVars struct {
	Question         string
	Summary          string
	Context          string
	ToolsInformation string
	ResponseLanguage string
	Exhausted        bool
	History          []*schema.Message
}

type RewriteVars struct {
	Question          string
	Summary           string
	PriorQueries      []string
	CorpusLanguage    string
	CorpusDescription string
	// Feedback is set on a corrective retry after a repeated query.
	Feedback string
}

type GradeVars struct {
	Query     string
	Candidate string
}

type SummarizeVars struct {
	Existing string
	Language string
	History  []*schema.Message
}

func RenderRoute(ctx context.Context, v RouteVars) ([]*schema.Message, error) {
	return format(ctx, "route", routeTemplate, map[string]any{
		"Question":          v.Question,
		"CorpusDescription": v.CorpusDescription,
	})
}

func RenderChat(ctx context.Context, v ChatVars) ([]*schema.Message, error) {
	return format(ctx, "chat", chatTemplate, map[string]any{
		"Question":         v.Question,
		"Summary":          v.Summary,
		"Context":          v.Context,
		"ToolsInformation": v.ToolsInformation,
		"ResponseLanguage": v.ResponseLanguage,
		"Exhausted":        v.Exhausted,
		"history":          v.History,
	})
}

// RenderRewriteWeb renders the search-engine variant of the reformulator prompt.
func RenderRewriteWeb(ctx context.Context, v RewriteVars) ([]*schema.Message, error) {
	return format(ctx, "rewrite_web", rewriteWebTemplate, rewriteVars(v))
}

// RenderRewriteVectorstore renders the corpus-language variant of the reformulator prompt.
func RenderRewriteVectorstore(ctx context.Context, v RewriteVars) ([]*schema.Message, error) {
	return format(ctx, "rewrite_vectorstore", rewriteVectorstoreTemplate, rewriteVars(v))
}

func RenderGradeSearch(ctx context.Context, v GradeVars) ([]*schema.Message, error) {
	return format(ctx, "grade_search", gradeSearchTemplate, gradeVars(v))
}

func RenderGradeDocument(ctx context.Context, v GradeVars) ([]*schema.Message, error) {
	return format(ctx, "grade_document", gradeDocumentTemplate, gradeVars(v))
}

// RenderSummarize appends the extend-or-create instruction after the history.
func RenderSummarize(ctx context.Context, v SummarizeVars) ([]*schema.Message, error) {
	return format(ctx, "summarize", summarizeTemplate, map[string]any{
		"Existing": v.Existing,
		"Language": v.Language,
		"history":  v.History,
	})
}

func RenderTools(ctx context.Context, history []*schema.Message) ([]*schema.Message, error) {
	return format(ctx, "tools", toolsTemplate, map[string]any{"history": history})
}

func rewriteVars(v RewriteVars) map[string]any {
	return map[string]any{
		"Question":          v.Question,
		"Summary":           v.Summary,
		"PriorQueries":      v.PriorQueries,
		"CorpusLanguage":    v.CorpusLanguage,
		"CorpusDescription": v.CorpusDescription,
		"Feedback":          v.Feedback,
	}
}

func gradeVars(v GradeVars) map[string]any {
	return map[string]any{"Query": v.Query, "Candidate": v.Candidate}
}

// format runs the template under its own run info so prompt callbacks
// registered on the calling graph see it as a ChatTemplate named name.
func format(ctx context.Context, name string, tpl prompt.ChatTemplate, vars map[string]any) ([]*schema.Message, error) {
	typ, _ := components.GetType(tpl)
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      name,
		Type:      typ,
		Component: components.ComponentOfPrompt,
	})

	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("%s prompt render: %w", name, err)
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%s prompt render: empty result", name)
	}
	return msgs, nil
}
