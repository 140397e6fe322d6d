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

// Package storage provides the storage abstraction layer for docqa.
//
// This package defines repository interfaces that decouple storage implementation
// from the ingestion and question-answering logic. Two backends implement them:
// storage/badger (embedded, the default) and storage/postgres (bun over pgvector).
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - DocumentRepository: documents and the atomic chunk-set replace
//   - ChunkRepository: chunk reads and the cosine-distance nearest neighbour query
//   - QueryLogRepository: the question audit log
//   - SessionStore: per-client key-value state such as the selected document
//   - Store: the repositories of one backend, closed together
//
// # Usage
//
// Open the embedded store:
//
//	store, err := badger.OpenStore("/path/to/db")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer store.Close()
//
// Use in tests with in-memory storage:
//
//	store, err := badger.NewMemoryStore()
//
// # Distances
//
// All backends rank by cosine distance (1 - cosine similarity). CosineDistance
// and TopK implement the ordering contract for backends that rank in process.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
