// Package retrieval embeds a query and returns the nearest chunks, optionally
// restricted to one document.
package retrieval

import (
	"context"
	"log/slog"
	"strings"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// DefaultK is the number of sources returned when the caller has no preference.
const DefaultK = 5

// Retriever ranks stored chunks against a query.
type Retriever struct {
	chunks   storage.ChunkRepository
	embedder ai.Embedder
	logger   *slog.Logger
}

// Option configures a Retriever.
type Option func(*Retriever) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Retriever) error {
		if logger == nil {
			logger = slog.Default()
		}
		r.logger = logger
		return nil
	}
}

// NewRetriever creates a new retriever.
func NewRetriever(chunks storage.ChunkRepository, embedder ai.Embedder, opts ...Option) (*Retriever, error) {
	if chunks == nil {
		return nil, ErrChunkRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	r := &Retriever{
		chunks:   chunks,
		embedder: embedder,
		logger:   slog.Default().With("component", "retrieval"),
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Retrieve returns up to k chunks nearest to query, ascending by cosine
// distance. A nil scope searches every document.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, scope *core.ID) ([]core.Source, error) {
	return r.RetrieveWithMonitor(ctx, query, k, scope, nil)
}

// RetrieveWithMonitor is Retrieve with progress callbacks.
func (r *Retriever) RetrieveWithMonitor(ctx context.Context, query string, k int, scope *core.ID, monitor Monitor) ([]core.Source, error) {
	const op = "retrieve"
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(query) == "" {
		return nil, core.NewError(core.KindInvalidInput, op, core.ErrEmptyQuestion)
	}
	monitor.Start(query, k, scope)
	if k <= 0 {
		monitor.Finish(nil)
		return []core.Source{}, nil
	}

	vector, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		r.logger.Error("error generating embedding for query", "err", err)
		return nil, core.Wrap(core.KindProviderFailure, op, err)
	}
	monitor.AfterEmbedding(len(vector))

	sources, err := r.chunks.FindNearest(ctx, vector, k, scope)
	if err != nil {
		r.logger.Error("error querying for nearest chunks", "err", err)
		return nil, core.Wrap(core.KindStoreFailure, op, err)
	}

	r.logger.Debug("retrieved sources", "k", k, "found", len(sources), "scoped", scope != nil)
	monitor.Finish(sources)
	return sources, nil
}

// BestDistance returns the distance of the first (closest) source, or nil
// when there are none.
func BestDistance(sources []core.Source) *float64 {
	if len(sources) == 0 {
		return nil
	}
	best := sources[0].Distance
	return &best
}
