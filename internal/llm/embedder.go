// Package llm provides chat model and embedding services using langchaingo.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/raphaelgruber/moviechat/internal/metrics"
	"github.com/tmc/langchaingo/embeddings"
	bedrockembed "github.com/tmc/langchaingo/embeddings/bedrock"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Embedder wraps langchaingo embeddings with input normalization and
// dimension validation. It is safe for concurrent use.
type Embedder struct {
	model     embeddings.Embedder
	dimension int
	modelName string
	metrics   *metrics.Collector
}

// NewEmbedder creates an embedder based on configuration.
func NewEmbedder(ctx context.Context, cfg config.Config, collector *metrics.Collector) (*Embedder, error) {
	var model embeddings.Embedder
	var err error

	switch cfg.EmbedProvider {
	case config.ProviderOllama:
		llm, ollamaErr := ollama.New(
			ollama.WithModel(cfg.EmbedModel),
			ollama.WithServerURL(cfg.OllamaHost),
		)
		if ollamaErr != nil {
			return nil, fmt.Errorf("create ollama client: %w", ollamaErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create ollama embedder: %w", err)
		}

	case config.ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(cfg.OpenAIAPIKey),
			openai.WithEmbeddingModel(cfg.EmbedModel),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.OpenAIBaseURL))
		}
		llm, openaiErr := openai.New(opts...)
		if openaiErr != nil {
			return nil, fmt.Errorf("create openai client: %w", openaiErr)
		}
		model, err = embeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("create openai embedder: %w", err)
		}

	case config.ProviderBedrock:
		client, clientErr := newBedrockClient(ctx, cfg.AWSRegion)
		if clientErr != nil {
			return nil, clientErr
		}
		model, err = bedrockembed.NewBedrock(
			bedrockembed.WithModel(cfg.EmbedModel),
			bedrockembed.WithClient(client),
		)
		if err != nil {
			return nil, fmt.Errorf("create bedrock embedder: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.EmbedProvider)
	}

	return NewEmbedderFrom(model, cfg.EmbedModel, cfg.VectorDimension, collector), nil
}

// NewEmbedderFrom wraps an existing langchaingo embedder.
func NewEmbedderFrom(model embeddings.Embedder, modelName string, dimension int, collector *metrics.Collector) *Embedder {
	return &Embedder{
		model:     model,
		dimension: dimension,
		modelName: modelName,
		metrics:   collector,
	}
}

// normalizeText replaces line breaks with spaces; the providers embed
// single-line input more consistently.
func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\r\n", " ")
	return strings.ReplaceAll(text, "\n", " ")
}

// Embed generates an embedding vector for text.
// Returns ErrEmptyText for blank input and ErrDimensionMismatch when the
// provider's vector length differs from the configured dimension.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	text = normalizeText(text)
	textLen := len(text)
	slog.Debug("embedding text", "model", e.modelName, "text_len", textLen)

	start := time.Now()
	vector, err := e.model.EmbedQuery(ctx, text)
	duration := time.Since(start)

	if err != nil {
		e.metrics.RecordFailure(metrics.OpEmbedding, duration)
		slog.Warn("embedding failed", "model", e.modelName, "text_len", textLen, "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingService, wrapFatalError(err))
	}
	e.metrics.RecordTiming(metrics.OpEmbedding, duration)

	if len(vector) != e.dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), e.dimension)
	}

	slog.Debug("embedding complete", "model", e.modelName, "text_len", textLen, "duration_ms", duration.Milliseconds())
	return vector, nil
}

// EmbedBatch generates embeddings for multiple texts with the same
// guarantees as Embed.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	normalized := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("text %d: %w", i, ErrEmptyText)
		}
		normalized[i] = normalizeText(text)
	}

	start := time.Now()
	vectors, err := e.model.EmbedDocuments(ctx, normalized)
	duration := time.Since(start)
	if err != nil {
		e.metrics.RecordFailure(metrics.OpEmbedding, duration)
		slog.Warn("batch embedding failed", "model", e.modelName, "count", len(texts), "duration_ms", duration.Milliseconds(), "error", err)
		return nil, fmt.Errorf("%w: embed batch: %w", ErrEmbeddingService, wrapFatalError(err))
	}
	e.metrics.RecordTiming(metrics.OpEmbedding, duration)

	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: count mismatch: got %d, want %d", ErrEmbeddingService, len(vectors), len(texts))
	}

	// Validate dimensions
	for i, v := range vectors {
		if len(v) != e.dimension {
			return nil, fmt.Errorf("%w: embedding %d: got %d, want %d", ErrDimensionMismatch, i, len(v), e.dimension)
		}
	}

	return vectors, nil
}

// Model returns the embedding model name.
func (e *Embedder) Model() string {
	return e.modelName
}

// Dimension returns the expected embedding dimension.
func (e *Embedder) Dimension() int {
	return e.dimension
}
