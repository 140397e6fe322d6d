package storage

import (
	"testing"

	"github.com/poiesic/docqa/core"
	"github.com/stretchr/testify/assert"
)

func TestCheckChunkSet(t *testing.T) {
	stored := []*core.Chunk{{Index: 0, Text: "a"}, {Index: 1, Text: "b"}}

	tests := []struct {
		name    string
		updated []*core.Chunk
		wantErr bool
	}{
		{"same", []*core.Chunk{{Index: 0, Text: "a", Embedding: []float32{1}}, {Index: 1, Text: "b"}}, false},
		{"shorter", []*core.Chunk{{Index: 0, Text: "a"}}, true},
		{"text changed", []*core.Chunk{{Index: 0, Text: "a"}, {Index: 1, Text: "B"}}, true},
		{"reordered", []*core.Chunk{{Index: 1, Text: "b"}, {Index: 0, Text: "a"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckChunkSet(stored, tt.updated)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrChunksChanged)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
