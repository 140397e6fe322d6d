package badger

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// QueryLogRepository implements storage.QueryLogRepository for BadgerDB.
type QueryLogRepository struct {
	backend *Backend
	idSeq   *badger.Sequence
}

var _ storage.QueryLogRepository = (*QueryLogRepository)(nil)

// NewQueryLogRepository creates a new QueryLogRepository.
func NewQueryLogRepository(backend *Backend) (*QueryLogRepository, error) {
	idSeq, err := backend.GetSequence(queryLogIDSeq)
	if err != nil {
		return nil, err
	}

	return &QueryLogRepository{
		backend: backend,
		idSeq:   idSeq,
	}, nil
}

// Close releases the ID sequence.
func (r *QueryLogRepository) Close() error {
	return r.idSeq.Release()
}

// AddQueryLog stores a new log record under a fresh sequence ID.
func (r *QueryLogRepository) AddQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		id, err := nextID(r.idSeq)
		if err != nil {
			return err
		}
		entry.Id = core.ID(id)

		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now().UTC()
		}
		entry.UpdatedAt = entry.CreatedAt

		if err := tx.Set(makeQueryLogKey(entry.Id), storage.MarshalQueryLog(entry)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// UpdateQueryLog overwrites an existing log record.
func (r *QueryLogRepository) UpdateQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	err := r.backend.WithRetryTx(func(tx *badger.Txn) error {
		key := makeQueryLogKey(entry.Id)
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}

		entry.UpdatedAt = time.Now().UTC()
		if err := tx.Set(key, storage.MarshalQueryLog(entry)); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// GetQueryLog retrieves a single log record by ID.
func (r *QueryLogRepository) GetQueryLog(ctx context.Context, id core.ID) (*core.QueryLog, error) {
	var result *core.QueryLog
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeQueryLogKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			result, err = storage.UnmarshalQueryLog(val)
			return err
		})
	}, false)
	return result, err
}

// GetRecentQueryLogs returns up to limit records, newest first.
func (r *QueryLogRepository) GetRecentQueryLogs(ctx context.Context, limit int) ([]*core.QueryLog, error) {
	results := []*core.QueryLog{}
	if limit <= 0 {
		return results, nil
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		// Use reverse iterator to get most recent records first
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true

		iter := tx.NewIterator(opts)
		defer iter.Close()

		prefix := []byte(queryLogPrefix)
		for iter.Seek(reverseSeekKey(prefix)); iter.Valid() && len(results) < limit; iter.Next() {
			if !bytes.HasPrefix(iter.Item().Key(), prefix) {
				break
			}
			var entry *core.QueryLog
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				entry, err = storage.UnmarshalQueryLog(val)
				return err
			}); err != nil {
				return err
			}
			results = append(results, entry)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return results, nil
}

// DeleteAllQueryLogs removes every log record.
func (r *QueryLogRepository) DeleteAllQueryLogs(ctx context.Context) error {
	return r.backend.dropPrefix([]byte(queryLogPrefix))
}
