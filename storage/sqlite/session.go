package sqlite

import (
	"context"
	"database/sql"
	"errors"

	"github.com/poiesic/docqa/storage"
)

// SessionStore implements storage.SessionStore on the sessions table.
type SessionStore struct {
	db *sql.DB
}

var _ storage.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Close() error {
	return nil
}

func (s *SessionStore) Get(ctx context.Context, clientID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sessions WHERE client_id = ? AND key = ?`, clientID, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	return value, err
}

func (s *SessionStore) Set(ctx context.Context, clientID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (client_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT (client_id, key) DO UPDATE SET value = excluded.value`,
		clientID, key, value)
	return err
}

func (s *SessionStore) Delete(ctx context.Context, clientID, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE client_id = ? AND key = ?`, clientID, key)
	return err
}
