package docqa

import (
	"bytes"
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/docqa/ai/mock"
	"github.com/poiesic/docqa/answer"
	"github.com/poiesic/docqa/config"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/reembed"
	"github.com/poiesic/docqa/storage"
	"github.com/poiesic/docqa/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *mock.MockProvider) {
	t.Helper()
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)

	provider := mock.NewMockProviderWithServices(mock.NewMockEmbedder(), mock.NewMockGenerator())
	opts = append([]Option{WithAIProvider(provider), WithRetry(1, 0)}, opts...)
	e, err := NewEngine(store, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e, provider
}

func TestNewEngine(t *testing.T) {
	t.Run("requires store", func(t *testing.T) {
		_, err := NewEngine(nil)
		assert.Error(t, err)
	})

	t.Run("rejects invalid policy", func(t *testing.T) {
		store, err := badger.NewMemoryStore()
		require.NoError(t, err)
		bad := answer.DefaultPolicy()
		bad.ScopedMaxDistance = 9
		_, err = NewEngine(store, WithAIProvider(mock.NewMockProvider()), WithPolicy(bad))
		assert.Error(t, err)
	})

	t.Run("builds openai provider from config", func(t *testing.T) {
		store, err := badger.NewMemoryStore()
		require.NoError(t, err)
		e, err := NewEngine(store)
		require.NoError(t, err)
		assert.NotNil(t, e.provider)
		assert.NoError(t, e.Close())
	})
}

func TestEngine_Close(t *testing.T) {
	store, err := badger.NewMemoryStore()
	require.NoError(t, err)
	provider := mock.NewMockProviderWithServices(nil, nil)
	e, err := NewEngine(store, WithAIProvider(provider))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.Equal(t, 1, provider.CloseCount())
	assert.True(t, store.Backend().IsClosed())
}

func TestOpen_Badger(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data")

	e, err := Open(context.Background(), cfg, WithAIProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer e.Close()
	assert.Equal(t, cfg.AnswerPolicy(), e.Policy())
}

func TestOpen_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Storage.Backend = config.BackendSQLite
	cfg.Storage.Path = filepath.Join(t.TempDir(), "data")

	e, err := Open(ctx, cfg, WithAIProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	res, err := e.IngestText(ctx, e.Session("alice"), "Sky", "The sky is blue.")
	require.NoError(t, err)
	require.NoError(t, e.Close())

	e, err = Open(ctx, cfg, WithAIProvider(mock.NewMockProvider()))
	require.NoError(t, err)
	defer e.Close()

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, res.DocumentID, docs[0].Id)

	selected, err := e.Session("alice").SelectedDocument(ctx)
	require.NoError(t, err)
	require.NotNil(t, selected)
	assert.Equal(t, res.DocumentID, *selected)
}

func TestOpen_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Backend = "bolt"
	_, err := Open(context.Background(), cfg)
	assert.Error(t, err)
}

func TestEngine_IngestThenAnswer(t *testing.T) {
	e, provider := newTestEngine(t, WithChunking(1000, 200))
	ctx := context.Background()
	sess := e.Session("alice")

	first, err := e.IngestText(ctx, sess, "Sky", "The sky is blue. Grass is green.")
	require.NoError(t, err)
	assert.Equal(t, core.IngestCreated, first.Status)
	assert.Equal(t, 1, first.ChunkCount)

	second, err := e.IngestText(ctx, sess, "Sky", "The sky is blue. Grass is green.")
	require.NoError(t, err)
	assert.Equal(t, core.IngestUpdated, second.Status)
	assert.Equal(t, 1, second.ChunkCount)

	// The selection from ingestion scopes the question; the identical text
	// embeds to distance 0.
	res, err := e.Answer(ctx, sess, answer.Question{Text: "The sky is blue. Grass is green.", K: 5})
	require.NoError(t, err)
	assert.Equal(t, mock.DefaultAnswer, res.Answer)
	require.Len(t, res.Sources, 1)
	assert.InDelta(t, 0, res.Sources[0].Distance, 1e-6)
	assert.Equal(t, 1, provider.GetMockGenerator().CallCount())

	logs, err := e.ListLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, res.LogID, logs[0].Id)
}

func TestEngine_NoDocumentSelected(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.Answer(context.Background(), e.Session(""), answer.Question{Text: "What color is the sky?", K: 5})
	assert.Equal(t, core.KindNoDocumentSelected, core.KindOf(err))
}

func TestEngine_SelectionIsPerClient(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	alice, bob := e.Session("alice"), e.Session("bob")

	_, err := e.IngestText(ctx, alice, "Sky", "The sky is blue.")
	require.NoError(t, err)

	_, err = e.Answer(ctx, bob, answer.Question{Text: "What color is the sky?", K: 5})
	assert.Equal(t, core.KindNoDocumentSelected, core.KindOf(err))

	_, err = e.Answer(ctx, alice, answer.Question{Text: "What color is the sky?", K: 5})
	assert.NoError(t, err)
}

func TestEngine_SelectAndClear(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sess := e.Session("s")

	a, err := e.IngestText(ctx, sess, "A", "Alpha.")
	require.NoError(t, err)
	_, err = e.IngestText(ctx, sess, "B", "Beta.")
	require.NoError(t, err)

	require.NoError(t, e.SelectDocument(ctx, sess, a.DocumentID))
	selected, err := sess.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Equal(t, a.DocumentID, *selected)

	err = e.SelectDocument(ctx, sess, core.ID(4242))
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.ErrorIs(t, err, core.ErrDocumentNotFound)

	require.NoError(t, e.ClearSelection(ctx, sess))
	selected, err = sess.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestEngine_DeleteDocument(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sess := e.Session("s")

	r, err := e.IngestText(ctx, sess, "Sky", "The sky is blue.")
	require.NoError(t, err)

	require.NoError(t, e.DeleteDocument(ctx, sess, r.DocumentID))
	selected, err := sess.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)

	count, err := e.Store().Chunks().CountChunks(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	err = e.DeleteDocument(ctx, sess, r.DocumentID)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestEngine_Reset(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sess := e.Session("s")

	r, err := e.IngestText(ctx, sess, "Sky", "The sky is blue.")
	require.NoError(t, err)
	_, err = e.Answer(ctx, sess, answer.Question{Text: "The sky is blue.", K: 1, Scope: &r.DocumentID})
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx, sess))

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
	logs, err := e.ListLogs(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, logs)
	selected, err := sess.SelectedDocument(ctx)
	require.NoError(t, err)
	assert.Nil(t, selected)
}

func TestEngine_Retrieve(t *testing.T) {
	e, _ := newTestEngine(t, WithChunking(20, 0))
	ctx := context.Background()

	r, err := e.IngestText(ctx, nil, "Long", "First sentence here. Second sentence here. Third one.")
	require.NoError(t, err)
	require.Equal(t, 3, r.ChunkCount)

	sources, err := e.Retrieve(ctx, "Second sentence here.", 2, &r.DocumentID)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	assert.Equal(t, "Second sentence here.", sources[0].Text)
	assert.LessOrEqual(t, sources[0].Distance, sources[1].Distance)

	sources, err = e.Retrieve(ctx, "anything", 10, nil)
	require.NoError(t, err)
	assert.Len(t, sources, 3)

	missing := core.ID(999)
	_, err = e.Retrieve(ctx, "anything", 1, &missing)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestEngine_IngestAndAnswer(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()
	sess := e.Session("s")

	_, err := e.IngestText(ctx, sess, "Other", "Unrelated text.")
	require.NoError(t, err)

	res, err := e.IngestAndAnswer(ctx, sess,
		IngestRequest{File: &ingestion.File{Name: "sky.txt", Data: []byte("The sky is blue.")}},
		answer.Question{Text: "The sky is blue.", K: 3})
	require.NoError(t, err)
	assert.Equal(t, "sky.txt", res.Ingest.Title)
	require.NotNil(t, res.Answer)
	require.NotNil(t, res.Answer.Scope)
	assert.Equal(t, res.Ingest.DocumentID, *res.Answer.Scope)
	require.Len(t, res.Answer.Sources, 1)
	assert.Equal(t, "The sky is blue.", res.Answer.Sources[0].Text)

	_, err = e.IngestAndAnswer(ctx, sess, IngestRequest{Title: "Empty", Text: " "}, answer.Question{Text: "q", K: 1})
	assert.ErrorIs(t, err, core.ErrEmptyInput)
}

func TestEngine_IngestFiles(t *testing.T) {
	e, _ := newTestEngine(t, WithPoolSize(3))
	ctx := context.Background()

	results := e.IngestFiles(ctx, e.Session("s"), []ingestion.File{
		{Name: "a.txt", Data: []byte("Alpha.")},
		{Name: "b.md", Data: []byte("Beta.")},
		{Name: "c.exe", Data: []byte("MZ")},
	})
	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Error(t, results[2].Err)

	_, err := e.IngestTextFile(ctx, nil, ingestion.File{Name: "scan.pdf", Data: []byte("%PDF-1.4")})
	assert.ErrorIs(t, err, core.ErrUnsupportedFile)
}

// brokenChunks fails every embedding update.
type brokenChunks struct {
	storage.ChunkRepository
}

func (brokenChunks) UpdateEmbeddings(context.Context, core.ID, []*core.Chunk) error {
	return errors.New("disk full")
}

type brokenStore struct {
	*badger.Store
}

func (s brokenStore) Chunks() storage.ChunkRepository {
	return brokenChunks{s.Store.Chunks()}
}

func TestEngine_ReembedErrorKinds(t *testing.T) {
	ctx := context.Background()
	cfg := &reembed.Config{BatchSize: 10, ReportInterval: 1, MaxRetries: 1, RetryDelay: time.Millisecond, Workers: 1}

	t.Run("store", func(t *testing.T) {
		store, err := badger.NewMemoryStore()
		require.NoError(t, err)
		e, err := NewEngine(brokenStore{store}, WithAIProvider(mock.NewMockProvider()), WithRetry(1, 0))
		require.NoError(t, err)
		defer e.Close()

		_, err = e.IngestText(ctx, nil, "Sky", "The sky is blue.")
		require.NoError(t, err)
		_, err = e.Reembed(ctx, cfg, nil)
		require.Error(t, err)
		assert.Equal(t, core.KindStoreFailure, core.KindOf(err))
	})

	t.Run("provider", func(t *testing.T) {
		e, provider := newTestEngine(t)
		_, err := e.IngestText(ctx, nil, "Sky", "The sky is blue.")
		require.NoError(t, err)
		provider.GetMockEmbedder().WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("model unavailable")
		})

		_, err = e.Reembed(ctx, cfg, nil)
		require.Error(t, err)
		assert.Equal(t, core.KindProviderFailure, core.KindOf(err))
	})
}

func TestEngine_Reembed(t *testing.T) {
	e, provider := newTestEngine(t)
	ctx := context.Background()

	_, err := e.IngestText(ctx, nil, "Sky", "The sky is blue. Grass is green.")
	require.NoError(t, err)

	provider.GetMockEmbedder().WithEmbedTextsFunc(func(ctx context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i := range texts {
			out[i] = []float32{3, 4}
		}
		return out, nil
	})

	var buf bytes.Buffer
	summary, err := e.Reembed(ctx, &reembed.Config{BatchSize: 10, ReportInterval: 1, MaxRetries: 1, RetryDelay: time.Millisecond, Workers: 1}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Documents)

	docs, err := e.ListDocuments(ctx)
	require.NoError(t, err)
	chunks, err := e.Store().Chunks().GetChunks(ctx, docs[0].Id)
	require.NoError(t, err)
	for _, c := range chunks {
		require.Len(t, c.Embedding, 2)
		assert.InDelta(t, 0.6, c.Embedding[0], 1e-6)
		assert.InDelta(t, 1.0, math.Hypot(float64(c.Embedding[0]), float64(c.Embedding[1])), 1e-6)
	}
}
