package badger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func makeChunks(texts []string, embeddings ...[]float32) []*core.Chunk {
	chunks := make([]*core.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &core.Chunk{Index: i, Text: text}
		if i < len(embeddings) {
			chunks[i].Embedding = embeddings[i]
		}
	}
	return chunks
}

func TestReplaceDocument_CreateThenUpdate(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()
	identity := core.Identity{Title: "Colors", Source: core.SourceIngestedText}

	first, err := repo.ReplaceDocument(ctx, identity, makeChunks(
		[]string{"The sky is blue.", "Grass is green."},
		[]float32{1, 0}, []float32{0, 1},
	))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 2, first.ChunkCount)
	assert.NotZero(t, first.Document.Id)

	second, err := repo.ReplaceDocument(ctx, identity, makeChunks(
		[]string{"The sky is grey."},
		[]float32{0.5, 0.5},
	))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Document.Id, second.Document.Id)
	assert.True(t, second.Document.CreatedAt.Equal(first.Document.CreatedAt))

	chunks, err := store.Chunks().GetChunks(ctx, first.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 1, "old chunks must be replaced wholesale")
	assert.Equal(t, "The sky is grey.", chunks[0].Text)
	assert.Equal(t, []float32{0.5, 0.5}, chunks[0].Embedding)
	assert.Equal(t, first.Document.Id, chunks[0].DocumentId)

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestReplaceDocument_IdentityIsCaseSensitive(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()

	a, err := repo.ReplaceDocument(ctx, core.Identity{Title: "notes", Source: core.SourceTextFile}, makeChunks([]string{"a"}))
	require.NoError(t, err)
	b, err := repo.ReplaceDocument(ctx, core.Identity{Title: "Notes", Source: core.SourceTextFile}, makeChunks([]string{"b"}))
	require.NoError(t, err)
	c, err := repo.ReplaceDocument(ctx, core.Identity{Title: "notes", Source: core.SourcePDF}, makeChunks([]string{"c"}))
	require.NoError(t, err)

	assert.True(t, a.Created)
	assert.True(t, b.Created)
	assert.True(t, c.Created)
	assert.NotEqual(t, a.Document.Id, b.Document.Id)
	assert.NotEqual(t, a.Document.Id, c.Document.Id)

	found, err := repo.FindDocument(ctx, core.Identity{Title: "Notes", Source: core.SourceTextFile})
	require.NoError(t, err)
	assert.Equal(t, b.Document.Id, found.Id)
}

func TestReplaceDocument_RejectsInvalidInput(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: " "}, makeChunks([]string{"a"}))
	assert.ErrorIs(t, err, core.ErrInvalidIdentity)

	bad := []*core.Chunk{{Index: 1, Text: "skipped zero"}}
	_, err = store.Documents().ReplaceDocument(ctx, core.Identity{Title: "x"}, bad)
	assert.ErrorIs(t, err, core.ErrInvalidChunkSet)

	docs, err := store.Documents().ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestReplaceDocument_ConcurrentSameIdentity(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()
	identity := core.Identity{Title: "race", Source: core.SourceIngestedText}

	const writers = 8
	var wg sync.WaitGroup
	results := make([]*storage.ReplaceResult, writers)
	errs := make([]error, writers)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			texts := []string{
				fmt.Sprintf("writer %d first.", w),
				fmt.Sprintf("writer %d second.", w),
				fmt.Sprintf("writer %d third.", w),
			}
			results[w], errs[w] = repo.ReplaceDocument(ctx, identity, makeChunks(texts))
		}(w)
	}
	wg.Wait()

	created := 0
	for w := 0; w < writers; w++ {
		require.NoError(t, errs[w])
		if results[w].Created {
			created++
		}
	}
	assert.Equal(t, 1, created, "exactly one writer creates the document")

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	chunks, err := store.Chunks().GetChunks(ctx, docs[0].Id)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	// All chunks come from the same writer.
	var owner int
	_, err = fmt.Sscanf(chunks[0].Text, "writer %d first.", &owner)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("writer %d second.", owner), chunks[1].Text)
	assert.Equal(t, fmt.Sprintf("writer %d third.", owner), chunks[2].Text)
}

func TestListDocuments_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()

	_, err := repo.LatestDocument(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var ids []core.ID
	for _, title := range []string{"first", "second", "third"} {
		res, err := repo.ReplaceDocument(ctx, core.Identity{Title: title, Source: core.SourceIngestedText}, makeChunks([]string{title}))
		require.NoError(t, err)
		ids = append(ids, res.Document.Id)
	}
	// Re-ingesting the oldest document does not make it the newest.
	_, err = repo.ReplaceDocument(ctx, core.Identity{Title: "first", Source: core.SourceIngestedText}, makeChunks([]string{"again"}))
	require.NoError(t, err)

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "third", docs[0].Title)
	assert.Equal(t, "second", docs[1].Title)
	assert.Equal(t, "first", docs[2].Title)

	latest, err := repo.LatestDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[2], latest.Id)
}

func TestDeleteDocument_Cascades(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()
	identity := core.Identity{Title: "doomed", Source: core.SourcePDF}

	res, err := repo.ReplaceDocument(ctx, identity, makeChunks([]string{"a", "b"}, []float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	keep, err := repo.ReplaceDocument(ctx, core.Identity{Title: "kept", Source: core.SourcePDF}, makeChunks([]string{"c"}, []float32{1, 1}))
	require.NoError(t, err)

	require.NoError(t, repo.DeleteDocument(ctx, res.Document.Id))

	_, err = repo.GetDocument(ctx, res.Document.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.FindDocument(ctx, identity)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	chunks, err := store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)
	assert.Empty(t, chunks)

	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	_, err = repo.GetDocument(ctx, keep.Document.Id)
	assert.NoError(t, err)

	assert.ErrorIs(t, repo.DeleteDocument(ctx, res.Document.Id), storage.ErrNotFound)

	// The identity can be reused after deletion.
	again, err := repo.ReplaceDocument(ctx, identity, makeChunks([]string{"new"}))
	require.NoError(t, err)
	assert.True(t, again.Created)
}

func TestDeleteAllDocuments(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := repo.ReplaceDocument(ctx, core.Identity{Title: fmt.Sprintf("doc %d", i)}, makeChunks([]string{"x", "y"}))
		require.NoError(t, err)
	}

	require.NoError(t, repo.DeleteAllDocuments(ctx))

	docs, err := repo.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindNearest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docA, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "A"}, makeChunks(
		[]string{"a0", "a1", "a2 unembedded"},
		[]float32{1, 0}, []float32{0.6, 0.8},
	))
	require.NoError(t, err)
	docB, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "B"}, makeChunks(
		[]string{"b0", "b1"},
		[]float32{1, 0}, []float32{0, 1},
	))
	require.NoError(t, err)

	query := []float32{1, 0}

	t.Run("global ranking with ties by document then index", func(t *testing.T) {
		results, err := store.Chunks().FindNearest(ctx, query, 10, nil)
		require.NoError(t, err)
		require.Len(t, results, 4, "unembedded chunks are never candidates")

		assert.Equal(t, docA.Document.Id, results[0].DocumentId)
		assert.Equal(t, 0, results[0].ChunkIndex)
		assert.Equal(t, docB.Document.Id, results[1].DocumentId)
		assert.Equal(t, 0, results[1].ChunkIndex)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-9)
		assert.InDelta(t, 0.4, results[2].Distance, 1e-6)
		assert.InDelta(t, 1.0, results[3].Distance, 1e-9)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
		for _, r := range results {
			assert.NotEqual(t, "a2 unembedded", r.Text)
		}
	})

	t.Run("scoped", func(t *testing.T) {
		scope := docB.Document.Id
		results, err := store.Chunks().FindNearest(ctx, query, 10, &scope)
		require.NoError(t, err)
		require.Len(t, results, 2)
		for _, r := range results {
			assert.Equal(t, docB.Document.Id, r.DocumentId)
		}
		assert.Equal(t, "b0", results[0].Text)
	})

	t.Run("k limits results", func(t *testing.T) {
		results, err := store.Chunks().FindNearest(ctx, query, 2, nil)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})

	t.Run("non-positive k", func(t *testing.T) {
		results, err := store.Chunks().FindNearest(ctx, query, 0, nil)
		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)
	})

	t.Run("unknown scope", func(t *testing.T) {
		scope := core.ID(9999)
		results, err := store.Chunks().FindNearest(ctx, query, 5, &scope)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("zero query vector", func(t *testing.T) {
		results, err := store.Chunks().FindNearest(ctx, []float32{0, 0}, 1, nil)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, 1.0, results[0].Distance)
	})

	t.Run("mismatched dimensions skipped", func(t *testing.T) {
		results, err := store.Chunks().FindNearest(ctx, []float32{1, 0, 0}, 5, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestUpdateEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	res, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "re"}, makeChunks([]string{"a", "b"}))
	require.NoError(t, err)
	id := res.Document.Id

	err = store.Chunks().UpdateEmbeddings(ctx, id, makeChunks([]string{"a"}, []float32{1, 0}))
	assert.ErrorIs(t, err, storage.ErrChunksChanged)

	err = store.Chunks().UpdateEmbeddings(ctx, id, []*core.Chunk{{Index: 1, Text: "b"}})
	assert.ErrorIs(t, err, storage.ErrInvalidQuery)

	require.NoError(t, store.Chunks().UpdateEmbeddings(ctx, id, makeChunks([]string{"a", "b"}, []float32{1, 0}, []float32{0, 1})))
	chunks, err := store.Chunks().GetChunks(ctx, id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)
	assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)
	assert.Equal(t, "b", chunks[1].Text)
	assert.Equal(t, id, chunks[1].DocumentId)

	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "the replaced generation is dropped")

	err = store.Chunks().UpdateEmbeddings(ctx, core.ID(4242), nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateEmbeddings_RejectsReplacedText(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	identity := core.Identity{Title: "moving", Source: core.SourceIngestedText}

	res, err := store.Documents().ReplaceDocument(ctx, identity, makeChunks([]string{"old a", "old b"}))
	require.NoError(t, err)
	read, err := store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)

	// Re-ingested with the same chunk count between the read and the update.
	_, err = store.Documents().ReplaceDocument(ctx, identity, makeChunks([]string{"new a", "new b"}, []float32{0, 1}, []float32{0, 1}))
	require.NoError(t, err)

	for _, chunk := range read {
		chunk.Embedding = []float32{1, 0}
	}
	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, read)
	assert.ErrorIs(t, err, storage.ErrChunksChanged)

	chunks, err := store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "new a", chunks[0].Text)
	assert.Equal(t, []float32{0, 1}, chunks[0].Embedding)
}

func TestReplaceDocument_LargeChunkSet(t *testing.T) {
	if testing.Short() {
		t.Skip("large chunk set")
	}
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()
	identity := core.Identity{Title: "big.pdf", Source: core.SourcePDF}

	const (
		count      = 2500
		dimensions = 1536
	)
	sentence := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 19)
	build := func(round int) []*core.Chunk {
		chunks := make([]*core.Chunk, count)
		for i := range chunks {
			embedding := make([]float32, dimensions)
			embedding[(i+round)%dimensions] = 1
			chunks[i] = &core.Chunk{
				Index:     i,
				Text:      fmt.Sprintf("%d/%d %s", round, i, sentence),
				Embedding: embedding,
			}
		}
		return chunks
	}

	first, err := repo.ReplaceDocument(ctx, identity, build(0))
	require.NoError(t, err)
	assert.True(t, first.Created)

	second, err := repo.ReplaceDocument(ctx, identity, build(1))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Document.Id, second.Document.Id)

	total, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, total)

	chunks, err := store.Chunks().GetChunks(ctx, first.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, count)
	assert.True(t, strings.HasPrefix(chunks[count-1].Text, fmt.Sprintf("1/%d ", count-1)))

	query := make([]float32, dimensions)
	query[1] = 1
	results, err := store.Chunks().FindNearest(ctx, query, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 0, results[0].Distance, 1e-9)

	for _, chunk := range chunks {
		chunk.Embedding[0] = 1
	}
	require.NoError(t, store.Chunks().UpdateEmbeddings(ctx, first.Document.Id, chunks))

	require.NoError(t, repo.DeleteDocument(ctx, first.Document.Id))
	total, err = store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestReplaceDocument_HidesUnpublishedGeneration(t *testing.T) {
	store := newTestStore(t)
	repo := store.Documents()
	ctx := context.Background()

	res, err := repo.ReplaceDocument(ctx, core.Identity{Title: "kept"}, makeChunks([]string{"a"}, []float32{1, 0}))
	require.NoError(t, err)

	// A generation written but never flipped, as after a failed commit.
	_, err = store.documents.writeGeneration(makeChunks([]string{"orphan"}, []float32{1, 0}))
	require.NoError(t, err)

	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := store.Chunks().FindNearest(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, res.Document.Id, results[0].DocumentId)
	assert.Equal(t, "a", results[0].Text)
}
