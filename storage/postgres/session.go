package postgres

import (
	"context"

	"github.com/poiesic/docqa/storage"
	"github.com/uptrace/bun"
)

// SessionStore implements storage.SessionStore on the sessions table.
type SessionStore struct {
	db *bun.DB
}

var _ storage.SessionStore = (*SessionStore)(nil)

func (s *SessionStore) Close() error {
	return nil
}

func (s *SessionStore) Get(ctx context.Context, clientID, key string) (string, error) {
	row := new(sessionRow)
	err := s.db.NewSelect().
		Model(row).
		Where("client_id = ?", clientID).
		Where("key = ?", key).
		Scan(ctx)
	if err != nil {
		return "", notFound(err)
	}
	return row.Value, nil
}

func (s *SessionStore) Set(ctx context.Context, clientID, key, value string) error {
	_, err := s.db.NewInsert().
		Model(&sessionRow{ClientID: clientID, Key: key, Value: value}).
		On("CONFLICT (client_id, key) DO UPDATE").
		Set("value = EXCLUDED.value").
		Returning("").
		Exec(ctx)
	return err
}

func (s *SessionStore) Delete(ctx context.Context, clientID, key string) error {
	_, err := s.db.NewDelete().
		Model((*sessionRow)(nil)).
		Where("client_id = ?", clientID).
		Where("key = ?", key).
		Exec(ctx)
	return err
}
