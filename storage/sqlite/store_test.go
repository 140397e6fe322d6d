package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(context.Background(), MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func chunksOf(embeddings ...[]float32) []*core.Chunk {
	chunks := make([]*core.Chunk, len(embeddings))
	for i, e := range embeddings {
		chunks[i] = &core.Chunk{Index: i, Text: string(rune('a' + i)), Embedding: e}
	}
	return chunks
}

func TestReplaceDocument(t *testing.T) {
	store := newTestStore(t)
	docs := store.Documents()
	ctx := context.Background()
	identity := core.Identity{Title: "Sky", Source: core.SourceIngestedText}

	first, err := docs.ReplaceDocument(ctx, identity, chunksOf([]float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, 2, first.ChunkCount)
	assert.NotZero(t, first.Document.Id)

	second, err := docs.ReplaceDocument(ctx, identity, chunksOf([]float32{1, 0}))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Document.Id, second.Document.Id)
	assert.Equal(t, first.Document.CreatedAt.UnixNano(), second.Document.CreatedAt.UnixNano())
	assert.False(t, second.Document.UpdatedAt.Before(first.Document.UpdatedAt))

	chunks, err := store.Chunks().GetChunks(ctx, first.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)
	assert.Equal(t, first.Document.Id, chunks[0].DocumentId)

	// Identity matching is case-sensitive.
	_, err = docs.ReplaceDocument(ctx, core.Identity{Title: "sky", Source: core.SourceIngestedText}, nil)
	require.NoError(t, err)
	all, err := docs.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "sky", all[0].Title)

	latest, err := docs.LatestDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, all[0].Id, latest.Id)

	found, err := docs.FindDocument(ctx, identity)
	require.NoError(t, err)
	assert.Equal(t, first.Document.Id, found.Id)

	require.NoError(t, docs.DeleteDocument(ctx, first.Document.Id))
	assert.ErrorIs(t, docs.DeleteDocument(ctx, first.Document.Id), storage.ErrNotFound)
	_, err = docs.GetDocument(ctx, first.Document.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	empty, err := store.Chunks().GetChunks(ctx, first.Document.Id)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestReplaceDocument_Invalid(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Documents().ReplaceDocument(ctx, core.Identity{Source: core.SourcePDF}, nil)
	assert.Error(t, err)

	bad := []*core.Chunk{{Index: 1, Text: "x"}}
	_, err = store.Documents().ReplaceDocument(ctx, core.Identity{Title: "A", Source: core.SourcePDF}, bad)
	assert.Error(t, err)

	all, err := store.Documents().ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestFindNearest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "A", Source: core.SourceIngestedText},
		chunksOf([]float32{1, 0}, []float32{0.6, 0.8}, nil))
	require.NoError(t, err)
	_, err = store.Documents().ReplaceDocument(ctx, core.Identity{Title: "B", Source: core.SourceIngestedText},
		chunksOf([]float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)
	_, err = store.Documents().ReplaceDocument(ctx, core.Identity{Title: "C", Source: core.SourceIngestedText},
		chunksOf([]float32{1, 0, 0}))
	require.NoError(t, err)

	results, err := store.Chunks().FindNearest(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, a.Document.Id, results[0].DocumentId)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 0, results[1].Distance, 1e-6)
	assert.InDelta(t, 0.4, results[2].Distance, 1e-6)
	assert.InDelta(t, 1, results[3].Distance, 1e-6)

	scope := a.Document.Id
	results, err = store.Chunks().FindNearest(ctx, []float32{1, 0}, 10, &scope)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = store.Chunks().FindNearest(ctx, []float32{0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Distance)

	results, err = store.Chunks().FindNearest(ctx, []float32{1, 0}, 0, nil)
	require.NoError(t, err)
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestUpdateEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	identity := core.Identity{Title: "A", Source: core.SourceTextFile}

	res, err := store.Documents().ReplaceDocument(ctx, identity, chunksOf(nil, nil))
	require.NoError(t, err)

	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, chunksOf([]float32{1, 0}))
	assert.ErrorIs(t, err, storage.ErrChunksChanged)

	require.NoError(t, store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, chunksOf([]float32{1, 0}, []float32{0, 1})))
	chunks, err := store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)

	// Same count, different text: the document was re-ingested.
	_, err = store.Documents().ReplaceDocument(ctx, identity, []*core.Chunk{{Index: 0, Text: "x"}, {Index: 1, Text: "y"}})
	require.NoError(t, err)
	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, chunksOf([]float32{1, 0}, []float32{1, 0}))
	assert.ErrorIs(t, err, storage.ErrChunksChanged)
	chunks, err = store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)
	assert.Nil(t, chunks[0].Embedding)

	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id+100, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestQueryLogsAndSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry, err := store.QueryLogs().AddQueryLog(ctx, &core.QueryLog{Question: "q", K: 5})
	require.NoError(t, err)
	assert.NotZero(t, entry.Id)

	entry.Answer = "a"
	entry.Sources = []core.Source{{DocumentId: 3, Text: "t", Distance: 0.1}}
	_, err = store.QueryLogs().UpdateQueryLog(ctx, entry)
	require.NoError(t, err)

	stored, err := store.QueryLogs().GetQueryLog(ctx, entry.Id)
	require.NoError(t, err)
	assert.Equal(t, entry.Id, stored.Id)
	assert.Equal(t, "a", stored.Answer)
	assert.Equal(t, entry.Sources, stored.Sources)

	second, err := store.QueryLogs().AddQueryLog(ctx, &core.QueryLog{Question: "q2", K: 5})
	require.NoError(t, err)
	recent, err := store.QueryLogs().GetRecentQueryLogs(ctx, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.Id, recent[0].Id)

	_, err = store.QueryLogs().UpdateQueryLog(ctx, &core.QueryLog{Id: 999})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, store.QueryLogs().DeleteAllQueryLogs(ctx))
	_, err = store.QueryLogs().GetQueryLog(ctx, entry.Id)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	sessions := store.Sessions()
	require.NoError(t, sessions.Set(ctx, "c", "k", "1"))
	require.NoError(t, sessions.Set(ctx, "c", "k", "2"))
	value, err := sessions.Get(ctx, "c", "k")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
	_, err = sessions.Get(ctx, "other", "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, sessions.Delete(ctx, "c", "k"))
	require.NoError(t, sessions.Delete(ctx, "c", "k"))
	_, err = sessions.Get(ctx, "c", "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOpen_Persists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", DefaultFileName)

	store, err := Open(ctx, path)
	require.NoError(t, err)
	res, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "A", Source: core.SourcePDF},
		chunksOf([]float32{1, 0}))
	require.NoError(t, err)
	require.NoError(t, store.Sessions().Set(ctx, "default", "doc", res.Document.Id.String()))
	require.NoError(t, store.Close())

	store, err = Open(ctx, path)
	require.NoError(t, err)
	defer store.Close()

	doc, err := store.Documents().GetDocument(ctx, res.Document.Id)
	require.NoError(t, err)
	assert.Equal(t, "A", doc.Title)
	value, err := store.Sessions().Get(ctx, "default", "doc")
	require.NoError(t, err)
	assert.Equal(t, res.Document.Id.String(), value)
}
