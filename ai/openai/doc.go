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

// Package openai talks to OpenAI-compatible servers (OpenAI, Ollama,
// LocalAI, vLLM) through langchaingo. Embeddings use the /embeddings endpoint
// and answers use a two-message chat completion: the grounding instruction as
// the system message, the numbered sources and question as the user message.
//
// Embedding and generation may point at different hosts:
//
//	config := ai.NewConfig(
//	    ai.WithEmbeddingHost("http://localhost:11434"), // /v1 is appended
//	    ai.WithEmbeddingModel("nomic-embed-text"),
//	    ai.WithGenerationHost("https://api.openai.com/v1"),
//	    ai.WithGenerationModel("gpt-4o-mini"),
//	    ai.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	provider, err := openai.NewProvider(config, openai.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer provider.Close()
//
// The generator returns the model text untouched; callers decide what a
// refusal looks like.
package openai
