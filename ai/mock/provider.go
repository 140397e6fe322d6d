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

package mock

import (
	"sync/atomic"

	"github.com/poiesic/docqa/ai"
)

// MockProvider pairs a MockEmbedder with a MockGenerator.
type MockProvider struct {
	embedder  *MockEmbedder
	generator *MockGenerator
	closes    atomic.Int32
}

var _ ai.AIProvider = (*MockProvider)(nil)

// NewMockProvider returns a provider with default services, typed as the
// interface the engine consumes.
func NewMockProvider() ai.AIProvider {
	return NewMockProviderWithServices(nil, nil)
}

// NewMockProviderWithServices wraps the given doubles. A nil service is
// replaced by a default one.
func NewMockProviderWithServices(embedder *MockEmbedder, generator *MockGenerator) *MockProvider {
	if embedder == nil {
		embedder = NewMockEmbedder()
	}
	if generator == nil {
		generator = NewMockGenerator()
	}
	return &MockProvider{
		embedder:  embedder,
		generator: generator,
	}
}

func (p *MockProvider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *MockProvider) Generator() ai.Generator {
	return p.generator
}

// Close counts calls; it never fails.
func (p *MockProvider) Close() error {
	p.closes.Add(1)
	return nil
}

// Closed reports whether Close was called at least once.
func (p *MockProvider) Closed() bool {
	return p.closes.Load() > 0
}

// CloseCount is the number of Close calls.
func (p *MockProvider) CloseCount() int {
	return int(p.closes.Load())
}

// GetMockEmbedder returns the embedder for assertions.
func (p *MockProvider) GetMockEmbedder() *MockEmbedder {
	return p.embedder
}

// GetMockGenerator returns the generator for assertions.
func (p *MockProvider) GetMockGenerator() *MockGenerator {
	return p.generator
}
