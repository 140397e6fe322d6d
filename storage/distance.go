package storage

import (
	"math"
	"slices"

	"github.com/poiesic/docqa/core"
)

// CosineDistance returns 1 minus the cosine similarity of a and b, in the
// range [0, 2]. A zero-magnitude vector has distance 1 to everything.
func CosineDistance(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Clamp rounding error so identical vectors report exactly 0.
	similarity = max(-1, min(1, similarity))
	return 1 - similarity, nil
}

// SortSources orders sources by ascending distance, breaking ties by
// document ID and then chunk index.
func SortSources(sources []core.Source) {
	slices.SortFunc(sources, func(a, b core.Source) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		case a.DocumentId < b.DocumentId:
			return -1
		case a.DocumentId > b.DocumentId:
			return 1
		default:
			return a.ChunkIndex - b.ChunkIndex
		}
	})
}

// TopK sorts sources and truncates them to at most k entries.
// k <= 0 yields an empty, non-nil slice.
func TopK(sources []core.Source, k int) []core.Source {
	if k <= 0 || len(sources) == 0 {
		return []core.Source{}
	}
	SortSources(sources)
	if len(sources) > k {
		sources = sources[:k]
	}
	return sources
}
