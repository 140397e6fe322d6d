package reembed

import (
	"math"
	"testing"

	"github.com/poiesic/docqa/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func magnitude(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestNormalizeVector(t *testing.T) {
	tests := []struct {
		name  string
		input []float32
		want  []float32
	}{
		{"already unit", []float32{0, 1, 0}, []float32{0, 1, 0}},
		{"3-4-5", []float32{3, 4}, []float32{0.6, 0.8}},
		{"mixed signs", []float32{-2, 2}, []float32{-1 / float32(math.Sqrt2), 1 / float32(math.Sqrt2)}},
		{"tiny components", []float32{1e-4, 2e-4, 2e-4}, []float32{1.0 / 3, 2.0 / 3, 2.0 / 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeVector(tt.input)
			require.Len(t, got, len(tt.want))
			for i := range got {
				assert.InDelta(t, tt.want[i], got[i], 1e-6, "component %d", i)
			}
			assert.InDelta(t, 1.0, magnitude(got), 1e-6)
		})
	}
}

func TestNormalizeVector_PreservesCosineDistance(t *testing.T) {
	query := []float32{0.3, 0.9, 0.1}
	chunk := []float32{12, 4, 7}

	before, err := storage.CosineDistance(query, chunk)
	require.NoError(t, err)
	after, err := storage.CosineDistance(query, NormalizeVector(chunk))
	require.NoError(t, err)
	assert.InDelta(t, before, after, 1e-6)
}

func TestNormalizeVector_EdgeCases(t *testing.T) {
	zero := []float32{0, 0, 0}
	assert.Equal(t, zero, NormalizeVector(zero))
	assert.Empty(t, NormalizeVector([]float32{}))

	input := []float32{3, 4}
	NormalizeVector(input)
	assert.Equal(t, []float32{3, 4}, input, "input must not be modified")
}
