// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package docqa answers questions about ingested documents, grounded in the
// passages retrieved for each question.
//
// An Engine ties together a store, an AI provider, the ingestion pipeline,
// retrieval, the answer guardrail and the audit log. Calls that depend on a
// client's selected document take an explicit *session.Session.
package docqa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/ai/openai"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/audit"
	"github.com/poiesic/docqa/chunker"
	"github.com/poiesic/docqa/config"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/extract"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/reembed"
	"github.com/poiesic/docqa/retrieval"
	"github.com/poiesic/docqa/session"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/poiesic/docqa/storage/postgres"
	"github.com/poiesic/docqa/storage/sqlite"
)

// Engine is the entry point for ingestion and question answering.
type Engine struct {
	store     storage.Store
	provider  ai.AIProvider
	pipeline  *ingestion.Pipeline
	retriever *retrieval.Retriever
	answerer  *answer.Answerer
	recorder  *audit.Recorder
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*engineOptions)

type engineOptions struct {
	provider   ai.AIProvider
	aiConfig   *ai.Config
	policy     answer.Policy
	maxChars   int
	overlap    int
	poolSize   int
	retries    int
	retryDelay time.Duration
	extractor  extract.Extractor
	logger     *slog.Logger
}

// WithAIProvider uses provider instead of an OpenAI-compatible one built
// from the AI config. The Engine closes it on Close.
func WithAIProvider(provider ai.AIProvider) Option {
	return func(o *engineOptions) {
		o.provider = provider
	}
}

// WithAIConfig configures the OpenAI-compatible provider.
func WithAIConfig(cfg *ai.Config) Option {
	return func(o *engineOptions) {
		o.aiConfig = cfg
	}
}

// WithPolicy sets the answer guardrail policy.
func WithPolicy(policy answer.Policy) Option {
	return func(o *engineOptions) {
		o.policy = policy
	}
}

// WithChunking sets chunk size and overlap in characters.
func WithChunking(maxChars, overlap int) Option {
	return func(o *engineOptions) {
		o.maxChars = maxChars
		o.overlap = overlap
	}
}

// WithPoolSize sets the number of files ingested concurrently.
func WithPoolSize(size int) Option {
	return func(o *engineOptions) {
		o.poolSize = size
	}
}

// WithRetry sets the embedding attempts per document and the initial backoff.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *engineOptions) {
		o.retries = attempts
		o.retryDelay = delay
	}
}

// WithExtractor replaces the file text extractor.
func WithExtractor(extractor extract.Extractor) Option {
	return func(o *engineOptions) {
		o.extractor = extractor
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *engineOptions) {
		o.logger = logger
	}
}

// openLogger resolves the logger opts would configure, for components built
// before the Engine exists.
func openLogger(opts []Option) *slog.Logger {
	options := &engineOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(options)
	}
	return options.logger
}

// NewEngine builds an Engine over store. The Engine owns store from here on,
// including on error.
func NewEngine(store storage.Store, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}

	options := &engineOptions{
		aiConfig:   ai.DefaultConfig(),
		policy:     answer.DefaultPolicy(),
		maxChars:   chunker.DefaultMaxChars,
		overlap:    chunker.DefaultOverlap,
		poolSize:   2,
		retries:    ingestion.DefaultRetries,
		retryDelay: ingestion.DefaultRetryDelay,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	e := &Engine{store: store, provider: options.provider, logger: options.logger}
	if err := e.init(options); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) init(options *engineOptions) error {
	if e.provider == nil {
		if err := options.aiConfig.Validate(); err != nil {
			return err
		}
		provider, err := openai.NewProvider(options.aiConfig, openai.WithLogger(options.logger))
		if err != nil {
			return err
		}
		e.provider = provider
	}

	var err error
	pipelineOpts := []ingestion.Option{
		ingestion.WithLogger(options.logger),
		ingestion.WithPoolSize(options.poolSize),
		ingestion.WithChunking(options.maxChars, options.overlap),
		ingestion.WithRetry(options.retries, options.retryDelay),
		ingestion.WithExtractor(options.extractor),
	}
	e.pipeline, err = ingestion.NewPipeline(e.store.Documents(), e.provider.Embedder(), pipelineOpts...)
	if err != nil {
		return err
	}

	e.retriever, err = retrieval.NewRetriever(e.store.Chunks(), e.provider.Embedder(),
		retrieval.WithLogger(options.logger.With("component", "retrieval")))
	if err != nil {
		return err
	}

	e.recorder, err = audit.NewRecorder(e.store.QueryLogs(),
		audit.WithLogger(options.logger.With("component", "audit")))
	if err != nil {
		return err
	}

	e.answerer, err = answer.NewAnswerer(e.store.Documents(), e.retriever, e.provider.Generator(), e.recorder,
		answer.WithPolicy(options.policy),
		answer.WithLogger(options.logger.With("component", "answer")))
	return err
}

// Open opens the store and provider described by cfg. Options are applied
// after the ones derived from cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var store storage.Store
	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pgOpts := []postgres.Option{postgres.WithDebug(cfg.Storage.Debug)}
		if cfg.Storage.Dimensions > 0 {
			pgOpts = append(pgOpts, postgres.WithDimensions(cfg.Storage.Dimensions))
		}
		s, err := postgres.Open(ctx, cfg.Storage.DSN, pgOpts...)
		if err != nil {
			return nil, err
		}
		store = s
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, filepath.Join(cfg.Storage.Path, sqlite.DefaultFileName), sqlite.WithLogger(openLogger(opts)))
		if err != nil {
			return nil, err
		}
		store = s
	default:
		s, err := badger.OpenStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		store = s
	}

	base := []Option{
		WithAIConfig(cfg.AIConfig()),
		WithPolicy(cfg.AnswerPolicy()),
		WithChunking(cfg.Chunking.MaxChars, cfg.Chunking.Overlap),
		WithPoolSize(cfg.Ingestion.Workers),
		WithRetry(cfg.Ingestion.Retries, cfg.Ingestion.RetryDelay),
	}
	return NewEngine(store, append(base, opts...)...)
}

// Close releases the worker pool, the provider and the store.
func (e *Engine) Close() error {
	if e.pipeline != nil {
		e.pipeline.Release()
	}
	var errs []error
	if e.provider != nil {
		if err := e.provider.Close(); err != nil {
			e.logger.Error("error closing AI provider", "err", err)
			errs = append(errs, err)
		}
	}
	if err := e.store.Close(); err != nil {
		e.logger.Error("error closing store", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Store returns the underlying store.
func (e *Engine) Store() storage.Store {
	return e.store
}

// Policy returns the guardrail policy in effect.
func (e *Engine) Policy() answer.Policy {
	return e.answerer.Policy()
}

// Session returns the session of clientID.
func (e *Engine) Session(clientID string) *session.Session {
	return session.New(e.store.Sessions(), clientID)
}

// IngestText stores text and selects it in sess.
func (e *Engine) IngestText(ctx context.Context, sess *session.Session, title, text string) (*ingestion.Result, error) {
	return e.pipeline.IngestText(ctx, sess, title, text)
}

// IngestFile stores a plain text, markdown or PDF file and selects it in sess.
func (e *Engine) IngestFile(ctx context.Context, sess *session.Session, file ingestion.File) (*ingestion.Result, error) {
	return e.pipeline.IngestFile(ctx, sess, file)
}

// IngestTextFile is IngestFile restricted to plain text and markdown.
func (e *Engine) IngestTextFile(ctx context.Context, sess *session.Session, file ingestion.File) (*ingestion.Result, error) {
	return e.pipeline.IngestTextFile(ctx, sess, file)
}

// IngestFiles stores many files concurrently.
func (e *Engine) IngestFiles(ctx context.Context, sess *session.Session, files []ingestion.File) []ingestion.FileResult {
	return e.pipeline.IngestFiles(ctx, sess, files)
}

// Retrieve returns the k chunks nearest to query without the guardrail.
func (e *Engine) Retrieve(ctx context.Context, query string, k int, scope *core.ID) ([]core.Source, error) {
	return e.RetrieveWithMonitor(ctx, query, k, scope, nil)
}

// RetrieveWithMonitor is Retrieve reporting each step to monitor, which may
// be nil.
func (e *Engine) RetrieveWithMonitor(ctx context.Context, query string, k int, scope *core.ID, monitor retrieval.Monitor) ([]core.Source, error) {
	if scope != nil {
		if err := e.checkDocument(ctx, "retrieve", *scope); err != nil {
			return nil, err
		}
	}
	return e.retriever.RetrieveWithMonitor(ctx, query, k, scope, monitor)
}

// Answer answers q, scoped by q.Scope or the session.
func (e *Engine) Answer(ctx context.Context, sess *session.Session, q answer.Question) (*answer.Result, error) {
	return e.answerer.Answer(ctx, sess, q)
}

// IngestRequest is the document half of IngestAndAnswer. File wins over Text.
type IngestRequest struct {
	Title string
	Text  string
	File  *ingestion.File
}

// IngestAnswer is the result of IngestAndAnswer.
type IngestAnswer struct {
	Ingest *ingestion.Result
	Answer *answer.Result
}

// IngestAndAnswer ingests a document and asks q about it. The question is
// always scoped to the new document.
func (e *Engine) IngestAndAnswer(ctx context.Context, sess *session.Session, req IngestRequest, q answer.Question) (*IngestAnswer, error) {
	var (
		ingested *ingestion.Result
		err      error
	)
	if req.File != nil {
		ingested, err = e.pipeline.IngestFile(ctx, sess, *req.File)
	} else {
		ingested, err = e.pipeline.IngestText(ctx, sess, req.Title, req.Text)
	}
	if err != nil {
		return nil, err
	}

	id := ingested.DocumentID
	q.Scope = &id
	result, err := e.answerer.Answer(ctx, sess, q)
	if err != nil {
		return &IngestAnswer{Ingest: ingested}, err
	}
	return &IngestAnswer{Ingest: ingested, Answer: result}, nil
}

// ListDocuments returns every document, newest first.
func (e *Engine) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	docs, err := e.store.Documents().ListDocuments(ctx)
	if err != nil {
		return nil, core.Wrap(core.KindStoreFailure, "list documents", err)
	}
	return docs, nil
}

// SelectDocument makes id the session's selected document.
func (e *Engine) SelectDocument(ctx context.Context, sess *session.Session, id core.ID) error {
	const op = "select document"
	if err := e.checkDocument(ctx, op, id); err != nil {
		return err
	}
	if err := sess.SelectDocument(ctx, id); err != nil {
		return core.Wrap(core.KindStoreFailure, op, err)
	}
	return nil
}

// ClearSelection removes the session's selected document.
func (e *Engine) ClearSelection(ctx context.Context, sess *session.Session) error {
	if err := sess.ClearSelection(ctx); err != nil {
		return core.Wrap(core.KindStoreFailure, "clear selection", err)
	}
	return nil
}

// ListLogs returns up to limit audit records, newest first. A non-positive
// limit means audit.DefaultListLimit and larger ones are capped at
// audit.MaxListLimit.
func (e *Engine) ListLogs(ctx context.Context, limit int) ([]*core.QueryLog, error) {
	logs, err := e.recorder.List(ctx, limit)
	if err != nil {
		return nil, core.Wrap(core.KindStoreFailure, "list logs", err)
	}
	return logs, nil
}

// DeleteDocument removes a document with its chunks and clears it from sess
// if it was selected there.
func (e *Engine) DeleteDocument(ctx context.Context, sess *session.Session, id core.ID) error {
	const op = "delete document"
	if err := e.store.Documents().DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return core.NewError(core.KindNotFound, op, core.ErrDocumentNotFound)
		}
		return core.Wrap(core.KindStoreFailure, op, err)
	}

	selected, err := sess.SelectedDocument(ctx)
	if err == nil && selected != nil && *selected == id {
		err = sess.ClearSelection(ctx)
	}
	if err != nil {
		e.logger.Warn("error clearing selection of deleted document", "document_id", id, "err", err)
	}
	e.logger.Info("deleted document", "document_id", id)
	return nil
}

// Reset deletes every document, chunk and audit record, and clears the
// selection of sess.
func (e *Engine) Reset(ctx context.Context, sess *session.Session) error {
	const op = "reset"
	if err := e.store.Documents().DeleteAllDocuments(ctx); err != nil {
		return core.Wrap(core.KindStoreFailure, op, err)
	}
	if err := e.store.QueryLogs().DeleteAllQueryLogs(ctx); err != nil {
		return core.Wrap(core.KindStoreFailure, op, err)
	}
	if err := sess.ClearSelection(ctx); err != nil {
		return core.Wrap(core.KindStoreFailure, op, err)
	}
	e.logger.Info("reset all data")
	return nil
}

// Reembed recomputes every chunk embedding with the current provider.
// Progress lines go to progress, which may be nil.
func (e *Engine) Reembed(ctx context.Context, cfg *reembed.Config, progress io.Writer) (*reembed.Summary, error) {
	r, err := reembed.NewReembedder(e.store.Documents(), e.store.Chunks(), e.provider.Embedder(), cfg, progress)
	if err != nil {
		return nil, err
	}
	summary, err := r.Run(ctx)
	switch {
	case err == nil:
		return summary, nil
	case errors.Is(err, reembed.ErrStoreFailed):
		return nil, core.Wrap(core.KindStoreFailure, "reembed", err)
	default:
		return nil, core.Wrap(core.KindProviderFailure, "reembed", err)
	}
}

func (e *Engine) checkDocument(ctx context.Context, op string, id core.ID) error {
	_, err := e.store.Documents().GetDocument(ctx, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrNotFound):
		return core.NewError(core.KindNotFound, op, fmt.Errorf("%w: %d", core.ErrDocumentNotFound, id))
	default:
		return core.Wrap(core.KindStoreFailure, op, err)
	}
}
