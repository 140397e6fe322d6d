package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore connects to DOCQA_TEST_POSTGRES_DSN with 2-dimensional
// embeddings and empties every table.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("DOCQA_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("DOCQA_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()

	store, err := Open(ctx, dsn, WithDimensions(0))
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, "DROP TABLE IF EXISTS chunks, documents, query_logs, sessions CASCADE")
	require.NoError(t, err)
	store.dimensions = 2
	require.NoError(t, store.Migrate(ctx))

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

	second, err := docs.ReplaceDocument(ctx, identity, chunksOf([]float32{1, 0}))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Document.Id, second.Document.Id)

	chunks, err := store.Chunks().GetChunks(ctx, first.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, []float32{1, 0}, chunks[0].Embedding)

	_, err = docs.ReplaceDocument(ctx, core.Identity{Title: "sky", Source: core.SourceIngestedText}, nil)
	require.NoError(t, err)
	all, err := docs.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, docs.DeleteDocument(ctx, first.Document.Id))
	assert.ErrorIs(t, docs.DeleteDocument(ctx, first.Document.Id), storage.ErrNotFound)
	count, err := store.Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestFindNearest(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a, err := store.Documents().ReplaceDocument(ctx, core.Identity{Title: "A"},
		chunksOf([]float32{1, 0}, []float32{0.6, 0.8}, nil))
	require.NoError(t, err)
	_, err = store.Documents().ReplaceDocument(ctx, core.Identity{Title: "B"},
		chunksOf([]float32{1, 0}, []float32{0, 1}))
	require.NoError(t, err)

	results, err := store.Chunks().FindNearest(ctx, []float32{1, 0}, 10, nil)
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.Equal(t, a.Document.Id, results[0].DocumentId)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 0.4, results[2].Distance, 1e-6)

	scope := a.Document.Id
	results, err = store.Chunks().FindNearest(ctx, []float32{1, 0}, 10, &scope)
	require.NoError(t, err)
	assert.Len(t, results, 2)

	results, err = store.Chunks().FindNearest(ctx, []float32{0, 0}, 1, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1.0, results[0].Distance)
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
	assert.Equal(t, "a", stored.Answer)
	assert.Equal(t, entry.Sources, stored.Sources)

	sessions := store.Sessions()
	require.NoError(t, sessions.Set(ctx, "c", "k", "1"))
	require.NoError(t, sessions.Set(ctx, "c", "k", "2"))
	value, err := sessions.Get(ctx, "c", "k")
	require.NoError(t, err)
	assert.Equal(t, "2", value)
	require.NoError(t, sessions.Delete(ctx, "c", "k"))
	_, err = sessions.Get(ctx, "c", "k")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestUpdateEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	identity := core.Identity{Title: "A", Source: core.SourceTextFile}

	res, err := store.Documents().ReplaceDocument(ctx, identity, chunksOf(nil, nil))
	require.NoError(t, err)

	require.NoError(t, store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, chunksOf([]float32{1, 0}, []float32{0, 1})))
	chunks, err := store.Chunks().GetChunks(ctx, res.Document.Id)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []float32{0, 1}, chunks[1].Embedding)

	_, err = store.Documents().ReplaceDocument(ctx, identity, []*core.Chunk{{Index: 0, Text: "x"}, {Index: 1, Text: "y"}})
	require.NoError(t, err)
	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id, chunksOf([]float32{1, 0}, []float32{1, 0}))
	assert.ErrorIs(t, err, storage.ErrChunksChanged)

	err = store.Chunks().UpdateEmbeddings(ctx, res.Document.Id+100, nil)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
