package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/uptrace/bun"
)

// DocumentRepository implements storage.DocumentRepository and
// storage.ChunkRepository on the documents and chunks tables.
type DocumentRepository struct {
	db     *bun.DB
	logger *slog.Logger
}

var (
	_ storage.DocumentRepository = (*DocumentRepository)(nil)
	_ storage.ChunkRepository    = (*DocumentRepository)(nil)
)

// Close is a no-op; the Store owns the connection pool.
func (r *DocumentRepository) Close() error {
	return nil
}

// ReplaceDocument upserts the identity row, locks it, and swaps the chunk set
// in one transaction. A concurrent writer for the same identity blocks on the
// unique constraint or the row lock until the first one commits.
func (r *DocumentRepository) ReplaceDocument(ctx context.Context, identity core.Identity, chunks []*core.Chunk) (*storage.ReplaceResult, error) {
	if err := core.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}

	var result *storage.ReplaceResult
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		now := time.Now().UTC()
		row := &documentRow{
			Title:     identity.Title,
			Source:    identity.Source,
			CreatedAt: now,
			UpdatedAt: now,
		}
		res, err := tx.NewInsert().
			Model(row).
			On("CONFLICT (title, source) DO NOTHING").
			Returning("").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		inserted, err := res.RowsAffected()
		if err != nil {
			return err
		}

		row = new(documentRow)
		err = tx.NewSelect().
			Model(row).
			Where("title = ?", identity.Title).
			Where("source = ?", identity.Source).
			For("UPDATE").
			Scan(ctx)
		if err != nil {
			return fmt.Errorf("locking document: %w", err)
		}

		if _, err := tx.NewDelete().
			Model((*chunkRow)(nil)).
			Where("document_id = ?", row.ID).
			Exec(ctx); err != nil {
			return fmt.Errorf("deleting chunks: %w", err)
		}

		if len(chunks) > 0 {
			rows := make([]chunkRow, len(chunks))
			for i, chunk := range chunks {
				chunk.DocumentId = core.ID(row.ID)
				rows[i] = newChunkRow(chunk.DocumentId, chunk)
			}
			if _, err := tx.NewInsert().Model(&rows).Returning("").Exec(ctx); err != nil {
				return fmt.Errorf("inserting chunks: %w", err)
			}
		}

		row.UpdatedAt = now
		if _, err := tx.NewUpdate().
			Model(row).
			Column("updated_at").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("touching document: %w", err)
		}

		result = &storage.ReplaceResult{
			Document:   row.toCore(),
			ChunkCount: len(chunks),
			Created:    inserted > 0,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("replaced document",
		"document_id", result.Document.Id, "chunks", result.ChunkCount, "created", result.Created)
	return result, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	row := new(documentRow)
	if err := r.db.NewSelect().Model(row).Where("id = ?", int64(id)).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore(), nil
}

// FindDocument retrieves a document by its (title, source) identity.
func (r *DocumentRepository) FindDocument(ctx context.Context, identity core.Identity) (*core.Document, error) {
	row := new(documentRow)
	err := r.db.NewSelect().
		Model(row).
		Where("title = ?", identity.Title).
		Where("source = ?", identity.Source).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err)
	}
	return row.toCore(), nil
}

// ListDocuments returns all documents, newest first.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	var rows []documentRow
	if err := r.db.NewSelect().Model(&rows).OrderExpr("created_at DESC, id DESC").Scan(ctx); err != nil {
		return nil, err
	}
	docs := make([]*core.Document, 0, len(rows))
	for i := range rows {
		docs = append(docs, rows[i].toCore())
	}
	return docs, nil
}

// LatestDocument returns the most recently created document.
func (r *DocumentRepository) LatestDocument(ctx context.Context) (*core.Document, error) {
	row := new(documentRow)
	if err := r.db.NewSelect().Model(row).OrderExpr("created_at DESC, id DESC").Limit(1).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore(), nil
}

// DeleteDocument removes a document; chunks go with it through the foreign key.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	res, err := r.db.NewDelete().Model((*documentRow)(nil)).Where("id = ?", int64(id)).Exec(ctx)
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
}

// DeleteAllDocuments truncates documents and, by cascade, chunks.
func (r *DocumentRepository) DeleteAllDocuments(ctx context.Context) error {
	_, err := r.db.NewTruncateTable().Model((*documentRow)(nil)).Cascade().Exec(ctx)
	return err
}

// GetChunks returns the chunks of a document ordered by index.
func (r *DocumentRepository) GetChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	var rows []chunkRow
	err := r.db.NewSelect().
		Model(&rows).
		Where("document_id = ?", int64(documentID)).
		OrderExpr("chunk_index ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	chunks := make([]*core.Chunk, 0, len(rows))
	for i := range rows {
		chunks = append(chunks, rows[i].toCore())
	}
	return chunks, nil
}

// FindNearest orders embedded chunks by the <=> cosine distance operator.
// Embeddings of another dimension are filtered out rather than erroring, and
// the NaN produced for a zero vector is reported as distance 1.
func (r *DocumentRepository) FindNearest(ctx context.Context, vector []float32, k int, scope *core.ID) ([]core.Source, error) {
	if k <= 0 || len(vector) == 0 {
		return []core.Source{}, nil
	}

	var rows []nearestRow
	q := r.db.NewSelect().
		TableExpr("chunks AS c").
		ColumnExpr("c.document_id, c.chunk_index, c.text").
		ColumnExpr("COALESCE(NULLIF(c.embedding <=> ?, 'NaN'::float8), 1) AS distance", pgvector.NewVector(vector)).
		Where("c.embedding IS NOT NULL").
		Where("vector_dims(c.embedding) = ?", len(vector))
	if scope != nil {
		q = q.Where("c.document_id = ?", int64(*scope))
	}
	err := q.OrderExpr("distance ASC, c.document_id ASC, c.chunk_index ASC").
		Limit(k).
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	sources := make([]core.Source, 0, len(rows))
	for _, row := range rows {
		sources = append(sources, core.Source{
			DocumentId: core.ID(row.DocumentID),
			ChunkIndex: row.ChunkIndex,
			Text:       row.Text,
			Distance:   row.Distance,
		})
	}
	return sources, nil
}

// UpdateEmbeddings stores the embeddings of chunks. The document row lock
// orders it against ReplaceDocument, and the stored texts must still match.
func (r *DocumentRepository) UpdateEmbeddings(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	if err := core.ValidateChunks(chunks); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		doc := new(documentRow)
		err := tx.NewSelect().Model(doc).Where("id = ?", int64(documentID)).For("UPDATE").Scan(ctx)
		if err != nil {
			return notFound(err)
		}

		var rows []chunkRow
		err = tx.NewSelect().
			Model(&rows).
			Column("document_id", "chunk_index", "text").
			Where("document_id = ?", int64(documentID)).
			OrderExpr("chunk_index ASC").
			Scan(ctx)
		if err != nil {
			return err
		}
		stored := make([]*core.Chunk, 0, len(rows))
		for i := range rows {
			stored = append(stored, rows[i].toCore())
		}
		if err := storage.CheckChunkSet(stored, chunks); err != nil {
			return err
		}

		for _, chunk := range chunks {
			var value any
			if chunk.Embedding != nil {
				value = pgvector.NewVector(chunk.Embedding)
			}
			_, err := tx.NewUpdate().
				Model((*chunkRow)(nil)).
				Set("embedding = ?", value).
				Where("document_id = ?", int64(documentID)).
				Where("chunk_index = ?", chunk.Index).
				Exec(ctx)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// CountChunks returns the number of chunks across all documents.
func (r *DocumentRepository) CountChunks(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*chunkRow)(nil)).Count(ctx)
}
