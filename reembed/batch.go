package reembed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/retry"
	"github.com/poiesic/docqa/storage"
)

// DefaultBatchSize is the default number of chunk texts per embedding call.
const DefaultBatchSize = 100

// BatchProcessor reembeds the chunks of one document.
type BatchProcessor struct {
	chunks         storage.ChunkRepository
	embedder       ai.Embedder
	batchSize      int
	maxRetries     int
	retryBaseDelay time.Duration
}

// NewBatchProcessor creates a new batch processor.
// maxRetries: maximum number of attempts per embedding call
// retryBaseDelay: base delay for exponential backoff
func NewBatchProcessor(chunks storage.ChunkRepository, embedder ai.Embedder, batchSize, maxRetries int, retryBaseDelay time.Duration) *BatchProcessor {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if maxRetries <= 0 {
		maxRetries = 1
	}
	return &BatchProcessor{
		chunks:         chunks,
		embedder:       embedder,
		batchSize:      batchSize,
		maxRetries:     maxRetries,
		retryBaseDelay: retryBaseDelay,
	}
}

// Process embeds the document's chunks batch by batch and stores the
// normalized vectors in one update once every batch has succeeded. The update
// fails with storage.ErrChunksChanged if the document was re-ingested after
// chunks were read.
func (bp *BatchProcessor) Process(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += bp.batchSize {
		end := min(start+bp.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}

		var batch [][]float32
		err := retry.WithBackoff(ctx, func() error {
			var err error
			batch, err = bp.embedder.EmbedTexts(ctx, texts)
			return err
		}, bp.maxRetries, bp.retryBaseDelay)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrEmbeddingFailed, bp.maxRetries, err)
		}
		if len(batch) != len(texts) {
			return fmt.Errorf("%w: embedding count mismatch: expected %d, got %d", ErrEmbeddingFailed, len(texts), len(batch))
		}

		for _, v := range batch {
			embeddings = append(embeddings, NormalizeVector(v))
		}
	}

	updated := make([]*core.Chunk, len(chunks))
	for i, chunk := range chunks {
		updated[i] = &core.Chunk{
			DocumentId: documentID,
			Index:      chunk.Index,
			Text:       chunk.Text,
			Embedding:  embeddings[i],
		}
	}
	err := bp.chunks.UpdateEmbeddings(ctx, documentID, updated)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrChunksChanged):
		return fmt.Errorf("document %d: %w", documentID, err)
	default:
		return fmt.Errorf("failed to update document %d: %w", documentID, storeError(err))
	}
}
