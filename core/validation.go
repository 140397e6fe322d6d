// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package core

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Column limits shared by every store backend.
const (
	MaxTitleLength  = 255
	MaxSourceLength = 1024
)

var (
	// ErrInvalidIdentity indicates a document identity failed validation.
	ErrInvalidIdentity = errors.New("invalid document identity")

	// ErrInvalidChunkSet indicates a chunk set failed validation.
	ErrInvalidChunkSet = errors.New("invalid chunk set")
)

// ValidateIdentity validates a document identity.
//
// Validation rules:
//   - Title must not be blank and must fit MaxTitleLength characters
//   - Source may be empty but must fit MaxSourceLength characters
func ValidateIdentity(identity Identity) error {
	if strings.TrimSpace(identity.Title) == "" {
		return fmt.Errorf("%w: title cannot be empty", ErrInvalidIdentity)
	}
	if utf8.RuneCountInString(identity.Title) > MaxTitleLength {
		return fmt.Errorf("%w: title longer than %d characters", ErrInvalidIdentity, MaxTitleLength)
	}
	if utf8.RuneCountInString(identity.Source) > MaxSourceLength {
		return fmt.Errorf("%w: source longer than %d characters", ErrInvalidIdentity, MaxSourceLength)
	}
	return nil
}

// ValidateChunks checks that chunks form a complete replacement set:
// non-empty text, indexes 0..n-1 in order, and a single embedding dimension.
// Chunks without an embedding are allowed.
func ValidateChunks(chunks []*Chunk) error {
	dim := -1
	for i, chunk := range chunks {
		if chunk == nil {
			return fmt.Errorf("%w: chunk %d is nil", ErrInvalidChunkSet, i)
		}
		if chunk.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInvalidChunkSet, i, chunk.Index)
		}
		if chunk.Text == "" {
			return fmt.Errorf("%w: chunk %d has empty text", ErrInvalidChunkSet, i)
		}
		if chunk.Embedding == nil {
			continue
		}
		if dim == -1 {
			dim = len(chunk.Embedding)
		} else if len(chunk.Embedding) != dim {
			return fmt.Errorf("%w: chunk %d has dimension %d, expected %d", ErrInvalidChunkSet, i, len(chunk.Embedding), dim)
		}
	}
	return nil
}
