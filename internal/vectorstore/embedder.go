package vectorstore

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"
)

type Embedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// GenaiEmbedder embeds queries with a Gemini embedding model.
type GenaiEmbedder struct {
	client     *genai.Client
	model      string
	dimensions int32
}

func NewGenaiEmbedder(client *genai.Client, model string, dimensions int32) *GenaiEmbedder {
	return &GenaiEmbedder{client: client, model: model, dimensions: dimensions}
}

func (e *GenaiEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if e.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(e.dimensions)
	}

	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(query), cfg)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("embed query: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}
