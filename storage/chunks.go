package storage

import (
	"fmt"

	"github.com/poiesic/docqa/core"
)

// CheckChunkSet returns ErrChunksChanged unless updated carries the same
// indexes and texts as stored, in the same order.
func CheckChunkSet(stored, updated []*core.Chunk) error {
	if len(stored) != len(updated) {
		return fmt.Errorf("%w: %d chunks stored, %d given", ErrChunksChanged, len(stored), len(updated))
	}
	for i := range stored {
		if stored[i].Index != updated[i].Index || stored[i].Text != updated[i].Text {
			return fmt.Errorf("%w: chunk %d differs", ErrChunksChanged, stored[i].Index)
		}
	}
	return nil
}
