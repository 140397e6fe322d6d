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

package openai

import (
	"errors"
	"log/slog"

	"github.com/poiesic/docqa/ai"
)

// ErrConfigRequired is returned when a constructor is given a nil config.
var ErrConfigRequired = errors.New("ai config is required")

// Option configures the provider and the services it creates.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the parent logger; each service adds its own component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) *options {
	o := &options{logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Provider bundles an embedder and a generator that may live on different
// hosts.
type Provider struct {
	embedder  *Embedder
	generator *Generator
	logger    *slog.Logger
}

var _ ai.AIProvider = (*Provider)(nil)

// NewProvider validates config and creates both services.
func NewProvider(config *ai.Config, opts ...Option) (ai.AIProvider, error) {
	if config == nil {
		return nil, ErrConfigRequired
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(config, opts)
	if err != nil {
		return nil, err
	}
	generator, err := newGenerator(config, opts)
	if err != nil {
		return nil, err
	}

	logger := buildOptions(opts).logger.With("component", "openai-provider")
	logger.Debug("created provider",
		"embedding_host", config.EmbeddingHost, "embedding_model", config.EmbeddingModel,
		"generation_host", config.GenerationHost, "generation_model", config.GenerationModel)

	return &Provider{
		embedder:  embedder,
		generator: generator,
		logger:    logger,
	}, nil
}

func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

func (p *Provider) Generator() ai.Generator {
	return p.generator
}

// Close is a no-op; the HTTP clients hold no resources that need releasing.
func (p *Provider) Close() error {
	p.logger.Debug("closing provider")
	return nil
}
