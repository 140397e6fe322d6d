package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/retry"
)

// embeddingStep embeds a batch of chunk texts, retrying transient provider failures.
type embeddingStep struct {
	embedder   ai.Embedder
	attempts   int
	retryDelay time.Duration
	logger     *slog.Logger
}

// embed makes one EmbedTexts call per attempt. A result of the wrong length
// is not retried.
func (s *embeddingStep) embed(ctx context.Context, texts []string) ([][]float32, error) {
	s.logger.Debug("generating embeddings for chunks", "chunks", len(texts))

	var embeddings [][]float32
	err := retry.WithBackoff(ctx, func() error {
		result, err := s.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			s.logger.Warn("error generating embeddings", "err", err)
			return err
		}
		if len(result) != len(texts) {
			return retry.Permanent(fmt.Errorf("%w: expected %d, received %d", ErrEmbeddingMismatch, len(texts), len(result)))
		}
		embeddings = result
		return nil
	}, s.attempts, s.retryDelay)
	if err != nil {
		return nil, err
	}
	return embeddings, nil
}
