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

package storage

import "errors"

// Sentinel errors shared by every Store implementation. Backends wrap them
// with detail, so match with errors.Is.
var (
	// ErrNotFound is returned when a document, query log or session key does
	// not exist.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey reports two identities mapping to the same index key.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrTransactionFailed wraps the last error of a write that could not be
	// committed after repeated conflicts.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrStorageClosed is returned by operations on a closed store.
	ErrStorageClosed = errors.New("storage is closed")

	// ErrInvalidQuery reports arguments a repository cannot act on, such as
	// an embedding count that does not match the chunk count.
	ErrInvalidQuery = errors.New("invalid query parameters")

	// ErrChunksChanged rejects an embedding update computed from a chunk set
	// that has since been replaced.
	ErrChunksChanged = errors.New("chunk set changed")

	// ErrSerializationFailed wraps a record that could not be decoded.
	ErrSerializationFailed = errors.New("serialization failed")

	// ErrDimensionMismatch indicates vectors of different lengths were compared.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)
