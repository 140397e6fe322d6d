package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/storage"
)

// SessionStore implements storage.SessionStore for BadgerDB.
type SessionStore struct {
	backend *Backend
}

var _ storage.SessionStore = (*SessionStore)(nil)

// NewSessionStore creates a new SessionStore.
func NewSessionStore(backend *Backend) *SessionStore {
	return &SessionStore{backend: backend}
}

// Close is a no-op; the backend is closed by its owner.
func (s *SessionStore) Close() error {
	return nil
}

// Get returns the value stored under key for the client.
func (s *SessionStore) Get(ctx context.Context, clientID, key string) (string, error) {
	var value string
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeSessionKey(clientID, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	}, false)
	return value, err
}

// Set stores value under key for the client.
func (s *SessionStore) Set(ctx context.Context, clientID, key, value string) error {
	return s.backend.WithRetryTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeSessionKey(clientID, key), []byte(value)); err != nil {
			return err
		}
		return tx.Commit()
	})
}

// Delete removes key for the client.
func (s *SessionStore) Delete(ctx context.Context, clientID, key string) error {
	return s.backend.WithRetryTx(func(tx *badger.Txn) error {
		if err := tx.Delete(makeSessionKey(clientID, key)); err != nil {
			return err
		}
		return tx.Commit()
	})
}
