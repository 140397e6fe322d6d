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

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// DocumentIterator walks every stored document together with its chunks.
type DocumentIterator struct {
	documents storage.DocumentRepository
	chunks    storage.ChunkRepository
}

// NewDocumentIterator creates a new document iterator.
func NewDocumentIterator(documents storage.DocumentRepository, chunks storage.ChunkRepository) *DocumentIterator {
	return &DocumentIterator{documents: documents, chunks: chunks}
}

// ForEach calls fn for each document, newest first. Documents deleted after
// the listing are skipped because they have no chunks left. Iteration stops
// on the first error from fn or when ctx is done.
func (it *DocumentIterator) ForEach(ctx context.Context, fn func(*core.Document, []*core.Chunk) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	docs, err := it.documents.ListDocuments(ctx)
	if err != nil {
		return err
	}

	for _, doc := range docs {
		chunks, err := it.chunks.GetChunks(ctx, doc.Id)
		if err != nil {
			return err
		}
		if len(chunks) > 0 {
			if err := fn(doc, chunks); err != nil {
				return err
			}
		}

		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}
