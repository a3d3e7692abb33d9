package model

import (
	"fmt"
	"strings"
)

// Document is a vectorstore hit. Source and Page are kept for citations.
type Document struct {
	Content    string  `json:"content"`
	Source     string  `json:"source"`
	Page       int     `json:"page"`
	Similarity float64 `json:"similarity"`
}

// FormatDocuments renders documents for the answer prompt. Pages are stored
// zero-based and shown one-based.
func FormatDocuments(docs []Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "<document><content>%s</content><source>%s</source><page>%d</page></document>",
			d.Content, d.Source, d.Page+1)
	}
	return b.String()
}

// SearchHit is a single web search result.
type SearchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

func FormatSearchResults(hits []SearchHit) string {
	var b strings.Builder
	for i, h := range hits {
		if i > 0 {
			b.WriteString("\n\n")
		}
		content := h.Snippet
		if h.Title != "" {
			content = h.Title + ": " + h.Snippet
		}
		fmt.Fprintf(&b, "<document><content>%s</content><source>%s</source></document>", content, h.URL)
	}
	return b.String()
}
