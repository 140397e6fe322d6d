package storage

import (
	"context"

	"github.com/poiesic/docqa/core"
)

// ReplaceResult describes the outcome of DocumentRepository.ReplaceDocument.
type ReplaceResult struct {
	Document   *core.Document
	ChunkCount int
	Created    bool
}

// DocumentRepository provides operations for managing documents and the
// chunk sets they own. Implementations must be thread-safe and support
// concurrent access.
type DocumentRepository interface {
	// ReplaceDocument atomically finds or creates the document with the given
	// identity and replaces its entire chunk set. Identity matching is exact
	// and case-sensitive. Concurrent calls for the same identity never produce
	// two documents or a mix of old and new chunks.
	// The chunk set must satisfy core.ValidateChunks.
	ReplaceDocument(ctx context.Context, identity core.Identity, chunks []*core.Chunk) (*ReplaceResult, error)

	// GetDocument retrieves a document by ID.
	// Returns ErrNotFound if the document doesn't exist.
	GetDocument(ctx context.Context, id core.ID) (*core.Document, error)

	// FindDocument retrieves a document by identity.
	// Returns ErrNotFound if no document has that identity.
	FindDocument(ctx context.Context, identity core.Identity) (*core.Document, error)

	// ListDocuments returns all documents, most recently created first.
	ListDocuments(ctx context.Context) ([]*core.Document, error)

	// LatestDocument returns the most recently created document.
	// Returns ErrNotFound if the store holds no documents.
	LatestDocument(ctx context.Context) (*core.Document, error)

	// DeleteDocument removes a document and all of its chunks.
	// Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, id core.ID) error

	// DeleteAllDocuments removes every document and chunk.
	DeleteAllDocuments(ctx context.Context) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// ChunkRepository provides read access to chunks and the vector similarity
// query used by retrieval.
type ChunkRepository interface {
	// GetChunks returns the chunks of a document ordered by index.
	// Returns an empty slice for a document without chunks.
	GetChunks(ctx context.Context, documentID core.ID) ([]*core.Chunk, error)

	// FindNearest returns up to k chunks ordered by ascending cosine distance
	// to vector, ties broken by document ID then chunk index. Chunks without
	// an embedding are never returned. A non-nil scope restricts candidates
	// to that document. k <= 0 returns an empty slice.
	FindNearest(ctx context.Context, vector []float32, k int, scope *core.ID) ([]core.Source, error)

	// UpdateEmbeddings stores the Embedding of each chunk in chunks, which
	// must be the document's full chunk set as previously read. Returns
	// ErrChunksChanged when the stored indexes or texts no longer match, so
	// vectors are never attached to text they were not computed from.
	UpdateEmbeddings(ctx context.Context, documentID core.ID, chunks []*core.Chunk) error

	// CountChunks returns the number of chunks across all documents.
	CountChunks(ctx context.Context) (int, error)

	// Close closes the storage backend and releases resources.
	Close() error
}

// QueryLogRepository provides operations for the question audit log.
type QueryLogRepository interface {
	// AddQueryLog stores a new log record, assigning its ID from a sequence
	// and setting CreatedAt if not already set.
	AddQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error)

	// UpdateQueryLog overwrites an existing log record.
	// Updates the UpdatedAt timestamp automatically.
	// Returns ErrNotFound if the record doesn't exist.
	UpdateQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error)

	// GetQueryLog retrieves a single log record by ID.
	// Returns ErrNotFound if the record doesn't exist.
	GetQueryLog(ctx context.Context, id core.ID) (*core.QueryLog, error)

	// GetRecentQueryLogs returns up to limit records, newest first.
	GetRecentQueryLogs(ctx context.Context, limit int) ([]*core.QueryLog, error)

	// DeleteAllQueryLogs removes every log record.
	DeleteAllQueryLogs(ctx context.Context) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// SessionStore is a per-client key-value store.
type SessionStore interface {
	// Get returns the value stored under key for the client.
	// Returns ErrNotFound if nothing is stored.
	Get(ctx context.Context, clientID, key string) (string, error)

	// Set stores value under key for the client, replacing any previous value.
	Set(ctx context.Context, clientID, key, value string) error

	// Delete removes key for the client. Deleting a missing key is not an error.
	Delete(ctx context.Context, clientID, key string) error

	// Close closes the storage backend and releases resources.
	Close() error
}

// Store bundles the repositories of a single backend.
type Store interface {
	Documents() DocumentRepository
	Chunks() ChunkRepository
	QueryLogs() QueryLogRepository
	Sessions() SessionStore

	// Close releases the backend shared by all repositories.
	Close() error
}
