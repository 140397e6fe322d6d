package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
)

// QueryLogRepository implements storage.QueryLogRepository. Each row holds
// the record in the same binary encoding the badger store uses; the row id
// is authoritative for the record's ID.
type QueryLogRepository struct {
	db *sql.DB
}

var _ storage.QueryLogRepository = (*QueryLogRepository)(nil)

func (r *QueryLogRepository) Close() error {
	return nil
}

func (r *QueryLogRepository) AddQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.UpdatedAt = entry.CreatedAt

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO query_logs (record) VALUES (x'')`)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		entry.Id = core.ID(id)
		_, err = tx.ExecContext(ctx, `UPDATE query_logs SET record = ? WHERE id = ?`,
			storage.MarshalQueryLog(entry), id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *QueryLogRepository) UpdateQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	entry.UpdatedAt = time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `UPDATE query_logs SET record = ? WHERE id = ?`,
		storage.MarshalQueryLog(entry), int64(entry.Id))
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

func (r *QueryLogRepository) GetQueryLog(ctx context.Context, id core.ID) (*core.QueryLog, error) {
	var record []byte
	err := r.db.QueryRowContext(ctx, `SELECT record FROM query_logs WHERE id = ?`, int64(id)).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeQueryLog(id, record)
}

func (r *QueryLogRepository) GetRecentQueryLogs(ctx context.Context, limit int) ([]*core.QueryLog, error) {
	entries := []*core.QueryLog{}
	if limit <= 0 {
		return entries, nil
	}

	rows, err := r.db.QueryContext(ctx, `SELECT id, record FROM query_logs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			record []byte
		)
		if err := rows.Scan(&id, &record); err != nil {
			return nil, err
		}
		entry, err := decodeQueryLog(core.ID(id), record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (r *QueryLogRepository) DeleteAllQueryLogs(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM query_logs`)
	return err
}

func decodeQueryLog(id core.ID, record []byte) (*core.QueryLog, error) {
	entry, err := storage.UnmarshalQueryLog(record)
	if err != nil {
		return nil, err
	}
	entry.Id = id
	return entry, nil
}
