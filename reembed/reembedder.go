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

package reembed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/docqa/ai"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunk texts per embedding call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of attempts for each embedding call
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// Workers is the number of documents processed concurrently
	Workers int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      DefaultBatchSize,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
		Workers:        2,
	}
}

// Summary describes a finished run.
type Summary struct {
	Documents int
	Chunks    int
	// Skipped counts documents re-ingested during the run. They already
	// carry embeddings from the current provider.
	Skipped int
	Elapsed time.Duration
}

// Reembedder orchestrates the reembedding of every stored chunk.
type Reembedder struct {
	chunks    storage.ChunkRepository
	config    *Config
	progress  io.Writer
	processor *BatchProcessor
	iterator  *DocumentIterator
	logger    *slog.Logger
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(documents storage.DocumentRepository, chunks storage.ChunkRepository, embedder ai.Embedder, config *Config, progress io.Writer) (*Reembedder, error) {
	switch {
	case documents == nil:
		return nil, ErrDocumentRepositoryRequired
	case chunks == nil:
		return nil, ErrChunkRepositoryRequired
	case embedder == nil:
		return nil, ErrEmbedderRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if progress == nil {
		progress = io.Discard
	}

	return &Reembedder{
		chunks:    chunks,
		config:    config,
		progress:  progress,
		processor: NewBatchProcessor(chunks, embedder, config.BatchSize, config.MaxRetries, config.RetryDelay),
		iterator:  NewDocumentIterator(documents, chunks),
		logger:    slog.Default().With("component", "reembed"),
	}, nil
}

// Run reembeds every document. The first failure cancels the documents
// still queued; documents already updated keep their new vectors.
func (r *Reembedder) Run(ctx context.Context) (*Summary, error) {
	total, err := r.chunks.CountChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count chunks: %w", storeError(err))
	}
	if total == 0 {
		fmt.Fprintf(r.progress, "No chunks found in store (0 chunks)\n")
		return &Summary{}, nil
	}

	workers := max(r.config.Workers, 1)
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	fmt.Fprintf(r.progress, "Starting reembedding of %d chunks (batch size: %d, workers: %d)\n",
		total, r.processor.batchSize, workers)

	tracker := NewProgressTracker(r.progress, total, max(r.config.ReportInterval, 1))
	tracker.Start()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		wg      sync.WaitGroup
		skipped atomic.Int32
	)
	err = r.iterator.ForEach(ctx, func(doc *core.Document, chunks []*core.Chunk) error {
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			err := r.processor.Process(ctx, doc.Id, chunks)
			if errors.Is(err, storage.ErrChunksChanged) {
				r.logger.Warn("document changed during reembedding, skipping", "document_id", doc.Id)
				skipped.Add(1)
				return
			}
			if err != nil {
				r.logger.Error("error reembedding document", "document_id", doc.Id, "err", err)
				cancel(fmt.Errorf("failed to process document %q: %w", doc.Title, err))
				return
			}
			tracker.DocumentDone(len(chunks))
		})
		if submitErr != nil {
			wg.Done()
			return submitErr
		}
		return nil
	})
	wg.Wait()

	if ctx.Err() != nil {
		return nil, context.Cause(ctx)
	}
	if err != nil {
		return nil, storeError(err)
	}

	tracker.Finish()
	summary := &Summary{
		Documents: tracker.Documents(),
		Chunks:    tracker.Chunks(),
		Skipped:   int(skipped.Load()),
		Elapsed:   tracker.Elapsed(),
	}
	fmt.Fprintf(r.progress, "Reembedding complete. Processed %d chunks in %d documents in %v (%.1f chunks/sec)\n",
		summary.Chunks, summary.Documents, summary.Elapsed.Round(time.Millisecond),
		float64(summary.Chunks)/summary.Elapsed.Seconds())
	return summary, nil
}
