package openai

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/poiesic/docqa/ai"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// maxBatch is large enough that a whole document's chunks go out in one
// request.
const maxBatch = 2048

// Embedder implements ai.Embedder on an OpenAI-compatible /embeddings
// endpoint.
type Embedder struct {
	embedder embeddings.Embedder
	model    string
	logger   *slog.Logger
}

var _ ai.Embedder = (*Embedder)(nil)

func newEmbedder(config *ai.Config, opts []Option) (*Embedder, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.EmbeddingHost),
		openai.WithToken(config.Token()),
		openai.WithEmbeddingModel(config.EmbeddingModel),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}

	embedder, err := embeddings.NewEmbedder(client,
		embeddings.WithStripNewLines(true),
		embeddings.WithBatchSize(maxBatch),
	)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &Embedder{
		embedder: embedder,
		model:    config.EmbeddingModel,
		logger:   buildOptions(opts).logger.With("component", "openai-embedder"),
	}, nil
}

// NewEmbedder creates a standalone embedder, for tools that never generate.
func NewEmbedder(config *ai.Config, opts ...Option) (ai.Embedder, error) {
	return newEmbedder(config, opts)
}

// EmbedText embeds a query.
func (e *Embedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.embedder.EmbedQuery(ctx, text)
	if err != nil {
		e.logger.Error("embedding query failed", "model", e.model, "err", err)
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vector) == 0 {
		return nil, fmt.Errorf("model %s returned an empty vector", e.model)
	}
	e.logger.Debug("embedded query", "length", len(text), "dimensions", len(vector))
	return vector, nil
}

// EmbedTexts embeds chunk texts in order. An empty batch makes no request.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		e.logger.Error("embedding batch failed", "model", e.model, "count", len(texts), "err", err)
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("model %s returned %d vectors for %d texts", e.model, len(vectors), len(texts))
	}
	e.logger.Debug("embedded batch", "count", len(texts))
	return vectors, nil
}
