package vectorstore

import (
	"context"
	"time"

	"github.com/tanpawarit/chative-router/internal/agent/model"
	errx "github.com/tanpawarit/chative-router/internal/core/error"
)

type Searcher interface {
	Search(ctx context.Context, embedding []float32, k int) ([]model.Document, error)
}

// Retriever embeds a query and returns its nearest documents.
type Retriever struct {
	embedder Embedder
	store    Searcher
	timeout  time.Duration
}

func NewRetriever(embedder Embedder, store Searcher, timeout time.Duration) *Retriever {
	return &Retriever{embedder: embedder, store: store, timeout: timeout}
}

func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]model.Document, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	embedding, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, errx.ExternalService("embedding", err)
	}
	docs, err := r.store.Search(ctx, embedding, k)
	if err != nil {
		return nil, errx.ExternalService("vectorstore", err)
	}
	return docs, nil
}
