// Package mock provides in-process doubles for the embedding and generation
// services, so ingestion, retrieval and answering can be tested without a
// model server.
//
// Embeddings are deterministic: the same text always maps to the same
// vector, and every component is positive, so any two texts sit closer than
// cosine distance 1. Tests that need exact distances inject their own
// function:
//
//	embedder := mock.NewMockEmbedder().
//	    WithEmbedTextFunc(func(ctx context.Context, text string) ([]float32, error) {
//	        return []float32{1, 0}, nil
//	    })
//	provider := mock.NewMockProviderWithServices(embedder, nil)
//
// The generator answers DefaultAnswer and keeps every (system, user) prompt
// pair, which is how refusal tests prove the model was never called.
package mock
