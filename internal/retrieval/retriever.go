// Package retrieval turns a natural-language query into the movie documents
// nearest to it and assembles them into model context.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/moviechat/internal/vectorstore"
)

// DefaultK is the number of documents retrieved when the caller passes k <= 0.
const DefaultK = 3

// Embedder converts query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the nearest stored vectors.
type Searcher interface {
	Search(ctx context.Context, vector []float32, k int) ([]vectorstore.ScoredDocument, error)
}

// Retriever embeds a query and searches the store with it. It performs no
// re-ranking, deduplication or score thresholding.
type Retriever struct {
	embedder Embedder
	store    Searcher
	defaultK int
	logger   *slog.Logger
}

// New creates a Retriever. defaultK <= 0 selects DefaultK.
func New(embedder Embedder, store Searcher, defaultK int, logger *slog.Logger) *Retriever {
	if defaultK <= 0 {
		defaultK = DefaultK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		embedder: embedder,
		store:    store,
		defaultK: defaultK,
		logger:   logger,
	}
}

// DefaultK returns the k used when callers pass k <= 0.
func (r *Retriever) DefaultK() int {
	return r.defaultK
}

// RetrieveScored returns up to k documents with their similarity scores,
// ordered by non-increasing score.
func (r *Retriever) RetrieveScored(ctx context.Context, query string, k int) ([]vectorstore.ScoredDocument, error) {
	if k <= 0 {
		k = r.defaultK
	}

	start := time.Now()
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	docs, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	r.logger.Debug("retrieved documents", "k", k, "count", len(docs), "duration_ms", time.Since(start).Milliseconds())
	return docs, nil
}

// Retrieve returns up to k documents for query with scores dropped.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]vectorstore.Document, error) {
	scored, err := r.RetrieveScored(ctx, query, k)
	if err != nil {
		return nil, err
	}
	docs := make([]vectorstore.Document, len(scored))
	for i, d := range scored {
		docs[i] = d.Document
	}
	return docs, nil
}
