package reembed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrDocumentRepositoryRequired is returned when a document repository is not provided.
	ErrDocumentRepositoryRequired = errors.New("document repository required")

	// ErrChunkRepositoryRequired is returned when a chunk repository is not provided.
	ErrChunkRepositoryRequired = errors.New("chunk repository required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrEmbeddingFailed marks a run stopped by the embedding provider.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrStoreFailed marks a run stopped by the chunk store.
	ErrStoreFailed = errors.New("store failed")
)

// storeError marks err as a store failure. Cancellation passes through.
func storeError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreFailed, err)
}
