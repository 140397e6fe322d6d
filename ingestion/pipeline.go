package ingestion

import (
	"context"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/session"
	"github.com/poiesic/docqa/storage"
)

const (
	// DefaultTitle names documents ingested from raw text without a title.
	DefaultTitle = "Ingested text"

	// DefaultRetries is the number of embedding attempts per document.
	DefaultRetries = 3

	// DefaultRetryDelay is the delay before the first embedding retry.
	DefaultRetryDelay = 500 * time.Millisecond
)

// Result describes one ingested document.
type Result struct {
	DocumentID core.ID
	Title      string
	Source     string
	ChunkCount int
	Status     core.IngestStatus
}

// Pipeline orchestrates chunking, embedding and storage of documents.
type Pipeline struct {
	documents  storage.DocumentRepository
	embedder   ai.Embedder
	extractor  extract.Extractor
	pool       *ants.Pool
	maxChars   int
	overlap    int
	retries    int
	retryDelay time.Duration
	logger     *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size used by IngestFiles.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}

		if p.pool != nil {
			p.pool.Release()
		}

		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithChunking sets the chunk size and overlap in characters.
func WithChunking(maxChars, overlap int) Option {
	return func(p *Pipeline) error {
		if maxChars <= 0 {
			maxChars = chunker.DefaultMaxChars
		}
		if overlap < 0 {
			overlap = 0
		}
		p.maxChars = maxChars
		p.overlap = overlap
		return nil
	}
}

// WithRetry sets how many times an embedding call is attempted and the
// initial backoff between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			attempts = 1
		}
		if delay < 0 {
			delay = 0
		}
		p.retries = attempts
		p.retryDelay = delay
		return nil
	}
}

// WithExtractor replaces the file extractor.
func WithExtractor(extractor extract.Extractor) Option {
	return func(p *Pipeline) error {
		if extractor != nil {
			p.extractor = extractor
		}
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(documents storage.DocumentRepository, embedder ai.Embedder, opts ...Option) (*Pipeline, error) {
	if documents == nil {
		return nil, ErrDocumentRepositoryRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		documents:  documents,
		embedder:   embedder,
		extractor:  extract.FileExtractor{},
		pool:       pool,
		maxChars:   chunker.DefaultMaxChars,
		overlap:    chunker.DefaultOverlap,
		retries:    DefaultRetries,
		retryDelay: DefaultRetryDelay,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// Ingest stores text under identity and selects the document in sess.
func (p *Pipeline) Ingest(ctx context.Context, sess *session.Session, identity core.Identity, text string) (*Result, error) {
	result, err := p.ingest(ctx, identity, text)
	if err != nil {
		return nil, err
	}
	p.selectDocument(ctx, sess, result.DocumentID)
	return result, nil
}

// IngestText stores raw text. An empty title selects DefaultTitle.
func (p *Pipeline) IngestText(ctx context.Context, sess *session.Session, title, text string) (*Result, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	return p.Ingest(ctx, sess, core.Identity{Title: title, Source: core.SourceIngestedText}, text)
}

// ingest does everything but the session update. Embeddings are computed
// before the store is touched.
func (p *Pipeline) ingest(ctx context.Context, identity core.Identity, text string) (*Result, error) {
	const op = "ingest"

	if err := core.ValidateIdentity(identity); err != nil {
		return nil, core.Wrap(core.KindInvalidInput, op, err)
	}

	texts := chunker.Chunk(text, p.maxChars, p.overlap)
	if len(texts) == 0 {
		return nil, core.NewError(core.KindInvalidInput, op, core.ErrEmptyInput)
	}

	step := &embeddingStep{
		embedder:   p.embedder,
		attempts:   p.retries,
		retryDelay: p.retryDelay,
		logger:     p.logger,
	}
	embeddings, err := step.embed(ctx, texts)
	if err != nil {
		p.logger.Error("error embedding document", "title", identity.Title, "err", err)
		return nil, core.Wrap(core.KindProviderFailure, op, err)
	}

	chunks := make([]*core.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &core.Chunk{Index: i, Text: t, Embedding: embeddings[i]}
	}

	replaced, err := p.documents.ReplaceDocument(ctx, identity, chunks)
	if err != nil {
		p.logger.Error("error storing document", "title", identity.Title, "err", err)
		return nil, core.Wrap(core.KindStoreFailure, op, err)
	}

	status := core.IngestUpdated
	if replaced.Created {
		status = core.IngestCreated
	}
	p.logger.Info("ingested document",
		"document_id", replaced.Document.Id, "title", identity.Title, "source", identity.Source,
		"chunks", replaced.ChunkCount, "status", status)

	return &Result{
		DocumentID: replaced.Document.Id,
		Title:      replaced.Document.Title,
		Source:     replaced.Document.Source,
		ChunkCount: replaced.ChunkCount,
		Status:     status,
	}, nil
}

// selectDocument records the selection. The document is already stored, so
// a session failure is logged rather than failing the ingestion.
func (p *Pipeline) selectDocument(ctx context.Context, sess *session.Session, id core.ID) {
	if err := sess.SelectDocument(ctx, id); err != nil {
		p.logger.Warn("error selecting ingested document", "client", sess.ClientID(), "document_id", id, "err", err)
	}
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
