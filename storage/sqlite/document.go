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

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// DocumentRepository implements storage.DocumentRepository and
// storage.ChunkRepository on the documents and chunks tables.
type DocumentRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ storage.DocumentRepository = (*DocumentRepository)(nil)
	_ storage.ChunkRepository    = (*DocumentRepository)(nil)
)

func (r *DocumentRepository) Close() error {
	return nil
}

// ReplaceDocument finds or creates the document for identity and swaps its
// chunk set in one transaction.
func (r *DocumentRepository) ReplaceDocument(ctx context.Context, identity core.Identity, chunks []*core.Chunk) (*storage.ReplaceResult, error) {
	if err := core.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}

	var result *storage.ReplaceResult
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		doc, err := findDocument(ctx, tx, identity)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		created := doc == nil
		if created {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO documents (title, source, created_at, updated_at) VALUES (?, ?, ?, ?)`,
				identity.Title, identity.Source, now.UnixNano(), now.UnixNano())
			if err != nil {
				return err
			}
			id, err := res.LastInsertId()
			if err != nil {
				return err
			}
			doc = &core.Document{
				Id:        core.ID(id),
				Title:     identity.Title,
				Source:    identity.Source,
				CreatedAt: now,
			}
		} else {
			if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, int64(doc.Id)); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `UPDATE documents SET updated_at = ? WHERE id = ?`, now.UnixNano(), int64(doc.Id)); err != nil {
				return err
			}
		}
		doc.UpdatedAt = now

		stmt, err := tx.PrepareContext(ctx, `INSERT INTO chunks (document_id, idx, text, embedding) VALUES (?, ?, ?, ?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, chunk := range chunks {
			chunk.DocumentId = doc.Id
			if _, err := stmt.ExecContext(ctx, int64(doc.Id), chunk.Index, chunk.Text, encodeVector(chunk.Embedding)); err != nil {
				return err
			}
		}

		result = &storage.ReplaceResult{
			Document:   doc,
			ChunkCount: len(chunks),
			Created:    created,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	return scanDocument(r.db.QueryRowContext(ctx,
		`SELECT id, title, source, created_at, updated_at FROM documents WHERE id = ?`, int64(id)))
}

func (r *DocumentRepository) FindDocument(ctx context.Context, identity core.Identity) (*core.Document, error) {
	return findDocument(ctx, r.db, identity)
}

// ListDocuments returns all documents, newest first. AUTOINCREMENT ids are
// never reused, so id order is creation order.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, source, created_at, updated_at FROM documents ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	docs := []*core.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) LatestDocument(ctx context.Context) (*core.Document, error) {
	return scanDocument(r.db.QueryRowContext(ctx,
		`SELECT id, title, source, created_at, updated_at FROM documents ORDER BY id DESC LIMIT 1`))
}

func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, int64(id)); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, int64(id))
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
}

func (r *DocumentRepository) DeleteAllDocuments(ctx context.Context) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents`)
		return err
	})
}

func (r *DocumentRepository) GetChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT document_id, idx, text, embedding FROM chunks WHERE document_id = ? ORDER BY idx`, int64(documentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chunks := []*core.Chunk{}
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// FindNearest ranks every embedded chunk in scope by cosine distance to
// vector. Chunks whose embedding dimension differs from the query are
// skipped.
func (r *DocumentRepository) FindNearest(ctx context.Context, vector []float32, k int, scope *core.ID) ([]core.Source, error) {
	if k <= 0 {
		return []core.Source{}, nil
	}

	query := `SELECT document_id, idx, text, embedding FROM chunks WHERE embedding IS NOT NULL`
	var args []any
	if scope != nil {
		query += ` AND document_id = ?`
		args = append(args, int64(*scope))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []core.Source
	skipped := 0
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		distance, err := storage.CosineDistance(vector, chunk.Embedding)
		if err != nil {
			skipped++
			continue
		}
		candidates = append(candidates, core.Source{
			DocumentId: chunk.DocumentId,
			ChunkIndex: chunk.Index,
			Text:       chunk.Text,
			Distance:   distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if skipped > 0 {
		r.logger.Warn("skipped chunks with mismatched embedding dimension",
			"skipped", skipped, "query_dimension", len(vector))
	}
	return storage.TopK(candidates, k), nil
}

// UpdateEmbeddings stores the embeddings of chunks after checking, in the
// same transaction, that the document still has exactly these chunk texts.
func (r *DocumentRepository) UpdateEmbeddings(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	if err := core.ValidateChunks(chunks); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE id = ?`, int64(documentID)).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return storage.ErrNotFound
		}
		if err != nil {
			return err
		}

		stored, err := chunkTexts(ctx, tx, documentID)
		if err != nil {
			return err
		}
		if err := storage.CheckChunkSet(stored, chunks); err != nil {
			return err
		}
		for _, chunk := range chunks {
			_, err := tx.ExecContext(ctx, `UPDATE chunks SET embedding = ? WHERE document_id = ? AND idx = ?`,
				encodeVector(chunk.Embedding), int64(documentID), chunk.Index)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *DocumentRepository) CountChunks(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

func chunkTexts(ctx context.Context, q querier, documentID core.ID) ([]*core.Chunk, error) {
	rows, err := q.QueryContext(ctx, `SELECT idx, text FROM chunks WHERE document_id = ? ORDER BY idx`, int64(documentID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		chunk := &core.Chunk{DocumentId: documentID}
		if err := rows.Scan(&chunk.Index, &chunk.Text); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func findDocument(ctx context.Context, q querier, identity core.Identity) (*core.Document, error) {
	return scanDocument(q.QueryRowContext(ctx,
		`SELECT id, title, source, created_at, updated_at FROM documents WHERE title = ? AND source = ?`,
		identity.Title, identity.Source))
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*core.Document, error) {
	var (
		id               int64
		doc              core.Document
		created, updated int64
	)
	if err := row.Scan(&id, &doc.Title, &doc.Source, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	doc.Id = core.ID(id)
	doc.CreatedAt = time.Unix(0, created).UTC()
	doc.UpdatedAt = time.Unix(0, updated).UTC()
	return &doc, nil
}

func scanChunk(row scanner) (*core.Chunk, error) {
	var (
		documentID int64
		chunk      core.Chunk
		embedding  []byte
	)
	if err := row.Scan(&documentID, &chunk.Index, &chunk.Text, &embedding); err != nil {
		return nil, err
	}
	vector, err := decodeVector(embedding)
	if err != nil {
		return nil, fmt.Errorf("chunk %d/%d: %w", documentID, chunk.Index, err)
	}
	chunk.DocumentId = core.ID(documentID)
	chunk.Embedding = vector
	return &chunk, nil
}
