package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// DocumentRepository implements storage.DocumentRepository and
// storage.ChunkRepository for BadgerDB. Documents and chunks share one
// repository because a chunk set is only ever replaced together with its
// owning document record.
//
// A document's chunks live under a generation number and the document holds
// a pointer to its live generation. Replacing the chunk set writes a new
// generation with a WriteBatch, which has no transaction size limit, then
// flips the pointer in a small transaction and drops the old generation.
// Readers see the old set or the new one, never a mix. Chunks of a
// generation no document points at are invisible.
type DocumentRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
	genSeq  *badger.Sequence
}

var (
	_ storage.DocumentRepository = (*DocumentRepository)(nil)
	_ storage.ChunkRepository    = (*DocumentRepository)(nil)
)

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(backend *Backend) (*DocumentRepository, error) {
	idSeq, err := backend.GetSequence(documentIDSeq)
	if err != nil {
		return nil, err
	}
	genSeq, err := backend.GetSequence(chunkGenSeq)
	if err != nil {
		idSeq.Release()
		return nil, err
	}

	return &DocumentRepository{
		backend: backend,
		idSeq:   idSeq,
		genSeq:  genSeq,
	}, nil
}

// Close releases the ID sequences.
func (r *DocumentRepository) Close() error {
	return errors.Join(r.idSeq.Release(), r.genSeq.Release())
}

// ReplaceDocument writes chunks as a new generation, then finds or creates
// the document for identity and points it at that generation. Concurrent
// writers for the same identity conflict on the identity index key and are
// replayed; the last flip wins.
func (r *DocumentRepository) ReplaceDocument(ctx context.Context, identity core.Identity, chunks []*core.Chunk) (*storage.ReplaceResult, error) {
	if err := core.ValidateIdentity(identity); err != nil {
		return nil, err
	}
	if err := core.ValidateChunks(chunks); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	gen, err := r.writeGeneration(chunks)
	if err != nil {
		return nil, err
	}

	var (
		result   *storage.ReplaceResult
		replaced uint64
	)
	err = r.backend.WithRetryTx(func(tx *badger.Txn) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		replaced = 0

		doc, err := r.findByIdentity(tx, identity)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		now := time.Now().UTC()
		created := doc == nil
		if created {
			id, err := nextID(r.idSeq)
			if err != nil {
				return err
			}
			doc = &core.Document{
				Id:        core.ID(id),
				Title:     identity.Title,
				Source:    identity.Source,
				CreatedAt: now,
			}
			if err := tx.Set(makeDocumentIdentityKey(identity), storage.MarshalID(doc.Id)); err != nil {
				return err
			}
		} else {
			old, err := readGeneration(tx, doc.Id)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}
			replaced = old
		}

		doc.UpdatedAt = now
		if err := tx.Set(makeDocumentKey(doc.Id), storage.MarshalDocument(doc)); err != nil {
			return err
		}
		if err := tx.Set(makeDocumentGenerationKey(doc.Id), storage.MarshalID(core.ID(gen))); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
		result = &storage.ReplaceResult{
			Document:   doc,
			ChunkCount: len(chunks),
			Created:    created,
		}
		return nil
	})
	if err != nil {
		r.dropGeneration(gen)
		return nil, err
	}

	r.dropGeneration(replaced)
	for _, chunk := range chunks {
		chunk.DocumentId = result.Document.Id
	}
	return result, nil
}

// GetDocument retrieves a document by ID.
func (r *DocumentRepository) GetDocument(ctx context.Context, id core.ID) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, id)
		return err
	}, false)
	return result, err
}

// FindDocument retrieves a document by its (title, source) identity.
func (r *DocumentRepository) FindDocument(ctx context.Context, identity core.Identity) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		result, err = r.findByIdentity(tx, identity)
		return err
	}, false)
	return result, err
}

// ListDocuments returns all documents, newest first. Document IDs come from
// a monotonic sequence, so reverse key order is creation order.
func (r *DocumentRepository) ListDocuments(ctx context.Context) ([]*core.Document, error) {
	results := []*core.Document{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanDocumentsReverse(tx, func(doc *core.Document) bool {
			results = append(results, doc)
			return true
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// LatestDocument returns the most recently created document.
func (r *DocumentRepository) LatestDocument(ctx context.Context) (*core.Document, error) {
	var result *core.Document
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		return scanDocumentsReverse(tx, func(doc *core.Document) bool {
			result = doc
			return false
		})
	}, false)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, storage.ErrNotFound
	}
	return result, nil
}

// DeleteDocument removes a document, its identity index entry and all of its chunks.
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id core.ID) error {
	var gen uint64
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, id)
		if err != nil {
			return err
		}
		gen, err = readGeneration(tx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		for _, key := range [][]byte{
			makeDocumentGenerationKey(id),
			makeDocumentIdentityKey(doc.Identity()),
			makeDocumentKey(id),
		} {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return err
	}
	r.dropGeneration(gen)
	return nil
}

// DeleteAllDocuments removes every document, identity index entry and chunk.
func (r *DocumentRepository) DeleteAllDocuments(ctx context.Context) error {
	return r.backend.dropPrefix(
		[]byte(documentPrefix),
		[]byte(documentIdentityPrefix),
		[]byte(documentGenPrefix),
		[]byte(chunkPrefix),
	)
}

// GetChunks returns the chunks of a document ordered by index.
func (r *DocumentRepository) GetChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error) {
	results := []*core.Chunk{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		gen, err := readGeneration(tx, documentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return scanGeneration(tx, gen, documentID, func(chunk *core.Chunk) error {
			results = append(results, chunk)
			return nil
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// FindNearest ranks every embedded chunk in scope by cosine distance to vector.
// Chunks whose embedding dimension differs from the query are skipped.
func (r *DocumentRepository) FindNearest(ctx context.Context, vector []float32, k int, scope *core.ID) ([]core.Source, error) {
	if k <= 0 {
		return []core.Source{}, nil
	}

	var candidates []core.Source
	skipped := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		live, err := liveGenerations(tx, scope)
		if err != nil {
			return err
		}
		for gen, documentID := range live {
			err := scanGeneration(tx, gen, documentID, func(chunk *core.Chunk) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				if len(chunk.Embedding) == 0 {
					return nil
				}
				distance, err := storage.CosineDistance(vector, chunk.Embedding)
				if err != nil {
					skipped++
					return nil
				}
				candidates = append(candidates, core.Source{
					DocumentId: chunk.DocumentId,
					ChunkIndex: chunk.Index,
					Text:       chunk.Text,
					Distance:   distance,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		r.backend.logger.Warn("skipped chunks with mismatched embedding dimension",
			"skipped", skipped, "query_dimension", len(vector))
	}

	return storage.TopK(candidates, k), nil
}

// UpdateEmbeddings rewrites the document's chunk set with the embeddings of
// chunks as a new generation. The pointer flip fails with
// storage.ErrChunksChanged if the document was re-ingested meanwhile.
func (r *DocumentRepository) UpdateEmbeddings(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error {
	if err := core.ValidateChunks(chunks); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrInvalidQuery, err)
	}

	var (
		current uint64
		stored  []*core.Chunk
	)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := readDocument(tx, documentID); err != nil {
			return err
		}
		var err error
		current, err = readGeneration(tx, documentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return scanGeneration(tx, current, documentID, func(chunk *core.Chunk) error {
			stored = append(stored, chunk)
			return nil
		})
	}, false)
	if err != nil {
		return err
	}
	if err := storage.CheckChunkSet(stored, chunks); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	gen, err := r.writeGeneration(chunks)
	if err != nil {
		return err
	}
	err = r.backend.WithRetryTx(func(tx *badger.Txn) error {
		if _, err := readDocument(tx, documentID); err != nil {
			return err
		}
		live, err := readGeneration(tx, documentID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		if live != current {
			return fmt.Errorf("%w: document %d was replaced", storage.ErrChunksChanged, documentID)
		}
		if err := tx.Set(makeDocumentGenerationKey(documentID), storage.MarshalID(core.ID(gen))); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		r.dropGeneration(gen)
		return err
	}
	r.dropGeneration(current)
	return nil
}

// CountChunks returns the number of chunks across all documents.
func (r *DocumentRepository) CountChunks(ctx context.Context) (int, error) {
	count := 0
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		live, err := liveGenerations(tx, nil)
		if err != nil {
			return err
		}
		for gen := range live {
			count += len(collectKeys(tx, makeGenerationKey(gen)))
		}
		return nil
	}, false)
	return count, err
}

// writeGeneration stores chunks under a fresh generation number. The chunks
// stay invisible until a document points at the generation.
func (r *DocumentRepository) writeGeneration(chunks []*core.Chunk) (uint64, error) {
	gen, err := nextID(r.genSeq)
	if err != nil {
		return 0, err
	}
	err = r.backend.writeBatch(func(wb *badger.WriteBatch) error {
		for _, chunk := range chunks {
			if err := wb.Set(makeChunkKey(gen, chunk.Index), storage.MarshalChunk(chunk)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		r.dropGeneration(gen)
		return 0, err
	}
	return gen, nil
}

// dropGeneration deletes the chunks of a generation no document points at.
// A failure only leaves invisible keys behind, so it is logged.
func (r *DocumentRepository) dropGeneration(gen uint64) {
	if gen == 0 {
		return
	}
	if err := r.backend.dropPrefix(makeGenerationKey(gen)); err != nil {
		r.backend.logger.Warn("error dropping chunk generation", "generation", gen, "err", err)
	}
}

// findByIdentity resolves the identity index. A hash collision between two
// different identities is reported as storage.ErrDuplicateKey.
func (r *DocumentRepository) findByIdentity(tx *badger.Txn, identity core.Identity) (*core.Document, error) {
	item, err := tx.Get(makeDocumentIdentityKey(identity))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var id core.ID
	if err := item.Value(func(val []byte) error {
		var err error
		id, err = storage.UnmarshalID(val)
		return err
	}); err != nil {
		return nil, err
	}

	doc, err := readDocument(tx, id)
	if err != nil {
		return nil, err
	}
	if doc.Identity() != identity {
		return nil, fmt.Errorf("%w: identity hash collision with document %d", storage.ErrDuplicateKey, doc.Id)
	}
	return doc, nil
}

// readDocument reads a document within a transaction.
func readDocument(tx *badger.Txn, id core.ID) (*core.Document, error) {
	item, err := tx.Get(makeDocumentKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var doc *core.Document
	err = item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// readGeneration returns the live chunk generation of a document.
func readGeneration(tx *badger.Txn, id core.ID) (uint64, error) {
	item, err := tx.Get(makeDocumentGenerationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return 0, storage.ErrNotFound
		}
		return 0, err
	}

	var gen core.ID
	err = item.Value(func(val []byte) error {
		var err error
		gen, err = storage.UnmarshalID(val)
		return err
	})
	return uint64(gen), err
}

// liveGenerations maps each live generation to its document, restricted to
// scope when it is set.
func liveGenerations(tx *badger.Txn, scope *core.ID) (map[uint64]core.ID, error) {
	live := make(map[uint64]core.ID)
	if scope != nil {
		gen, err := readGeneration(tx, *scope)
		if errors.Is(err, storage.ErrNotFound) {
			return live, nil
		}
		if err != nil {
			return nil, err
		}
		live[gen] = *scope
		return live, nil
	}

	opts := badger.DefaultIteratorOptions
	prefix := []byte(documentGenPrefix)
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.ValidForPrefix(prefix); iter.Next() {
		item := iter.Item()
		documentID := core.ID(binary.BigEndian.Uint64(item.Key()[len(prefix):]))
		var gen core.ID
		if err := item.Value(func(val []byte) error {
			var err error
			gen, err = storage.UnmarshalID(val)
			return err
		}); err != nil {
			return nil, err
		}
		live[uint64(gen)] = documentID
	}
	return live, nil
}

// scanDocumentsReverse visits documents from the highest ID down until fn
// returns false.
func scanDocumentsReverse(tx *badger.Txn, fn func(doc *core.Document) bool) error {
	opts := badger.DefaultIteratorOptions
	opts.Reverse = true
	iter := tx.NewIterator(opts)
	defer iter.Close()

	prefix := []byte(documentPrefix)
	for iter.Seek(reverseSeekKey(prefix)); iter.Valid(); iter.Next() {
		if !bytes.HasPrefix(iter.Item().Key(), prefix) {
			break
		}
		var doc *core.Document
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			doc, err = storage.UnmarshalDocument(val)
			return err
		}); err != nil {
			return err
		}
		if !fn(doc) {
			return nil
		}
	}
	return nil
}

// scanGeneration visits the chunks of one generation in index order,
// attributing them to documentID.
func scanGeneration(tx *badger.Txn, gen uint64, documentID core.ID, fn func(chunk *core.Chunk) error) error {
	prefix := makeGenerationKey(gen)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	for iter.Rewind(); iter.ValidForPrefix(prefix); iter.Next() {
		var chunk *core.Chunk
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			chunk, err = storage.UnmarshalChunk(val)
			return err
		}); err != nil {
			return err
		}
		chunk.DocumentId = documentID
		if err := fn(chunk); err != nil {
			return err
		}
	}
	return nil
}
