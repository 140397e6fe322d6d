package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/poiesic/docqa/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers /embeddings with [i+1, 0.5] for the i-th input and
// /chat/completions with a fixed reply.
func fakeServer(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/embeddings"):
			var req struct {
				Input []string `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			data := make([]map[string]any, len(req.Input))
			for i := range req.Input {
				data[i] = map[string]any{"object": "embedding", "index": i, "embedding": []float32{float32(i + 1), 0.5}}
			}
			json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data, "model": "embed"})
		case strings.HasSuffix(r.URL.Path, "/chat/completions"):
			json.NewEncoder(w).Encode(map[string]any{
				"id":      "chatcmpl-1",
				"object":  "chat.completion",
				"created": 1,
				"model":   "gen",
				"choices": []map[string]any{{
					"index":         0,
					"message":       map[string]any{"role": "assistant", "content": reply},
					"finish_reason": "stop",
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestNewProvider(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		_, err := NewProvider(nil)
		assert.ErrorIs(t, err, ErrConfigRequired)
	})

	t.Run("invalid config", func(t *testing.T) {
		_, err := NewProvider(ai.NewConfig(ai.WithEmbeddingModel("")))
		assert.Error(t, err)
	})

	t.Run("valid config", func(t *testing.T) {
		provider, err := NewProvider(ai.NewConfig(ai.WithHost("http://localhost:11434")))
		require.NoError(t, err)
		assert.NotNil(t, provider.Embedder())
		assert.NotNil(t, provider.Generator())
		assert.NoError(t, provider.Close())
	})
}

func TestEmbedder(t *testing.T) {
	server := fakeServer(t, "")
	embedder, err := NewEmbedder(ai.NewConfig(ai.WithHost(server.URL), ai.WithEmbeddingModel("embed")))
	require.NoError(t, err)
	ctx := context.Background()

	vectors, err := embedder.EmbedTexts(ctx, []string{"first chunk", "second chunk"})
	require.NoError(t, err)
	require.Len(t, vectors, 2)
	assert.Equal(t, []float32{1, 0.5}, vectors[0])
	assert.Equal(t, []float32{2, 0.5}, vectors[1])

	vector, err := embedder.EmbedText(ctx, "query")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0.5}, vector)

	vectors, err = embedder.EmbedTexts(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
}

func TestGenerator(t *testing.T) {
	server := fakeServer(t, "The sky is blue [source 1].")
	generator, err := NewGenerator(ai.NewConfig(ai.WithHost(server.URL), ai.WithGenerationModel("gen")))
	require.NoError(t, err)

	answer, err := generator.Generate(context.Background(), "system", "user")
	require.NoError(t, err)
	assert.Equal(t, "The sky is blue [source 1].", answer)
}

func TestEmbedder_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusInternalServerError)
	}))
	defer server.Close()

	embedder, err := NewEmbedder(ai.NewConfig(ai.WithHost(server.URL)))
	require.NoError(t, err)
	_, err = embedder.EmbedTexts(context.Background(), []string{"text"})
	assert.Error(t, err)
}
