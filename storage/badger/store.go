package badger

import (
	"errors"

	"github.com/poiesic/docqa/storage"
)

// Store implements storage.Store over a single BadgerDB backend.
type Store struct {
	backend   *Backend
	documents *DocumentRepository
	queryLogs *QueryLogRepository
	sessions  *SessionStore
}

var _ storage.Store = (*Store)(nil)

// OpenStore opens (or creates) a BadgerDB store in the directory at path.
func OpenStore(path string) (*Store, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return newStore(backend)
}

func newStore(backend *Backend) (*Store, error) {
	documents, err := NewDocumentRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	queryLogs, err := NewQueryLogRepository(backend)
	if err != nil {
		documents.Close()
		backend.Close()
		return nil, err
	}

	return &Store{
		backend:   backend,
		documents: documents,
		queryLogs: queryLogs,
		sessions:  NewSessionStore(backend),
	}, nil
}

func (s *Store) Documents() storage.DocumentRepository { return s.documents }
func (s *Store) Chunks() storage.ChunkRepository       { return s.documents }
func (s *Store) QueryLogs() storage.QueryLogRepository { return s.queryLogs }
func (s *Store) Sessions() storage.SessionStore        { return s.sessions }

// Backend exposes the underlying backend.
func (s *Store) Backend() *Backend {
	return s.backend
}

// Close releases the ID sequences and closes the database.
func (s *Store) Close() error {
	return errors.Join(
		s.documents.Close(),
		s.queryLogs.Close(),
		s.sessions.Close(),
		s.backend.Close(),
	)
}
