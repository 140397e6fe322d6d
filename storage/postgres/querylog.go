package postgres

import (
	"context"
	"time"

	"github.com/poiesic/docqa/core"
	"github.com/poiesic/docqa/storage"
	"github.com/uptrace/bun"
)

// QueryLogRepository implements storage.QueryLogRepository on the query_logs table.
type QueryLogRepository struct {
	db *bun.DB
}

var _ storage.QueryLogRepository = (*QueryLogRepository)(nil)

func (r *QueryLogRepository) Close() error {
	return nil
}

// AddQueryLog inserts a new record; the database assigns the ID.
func (r *QueryLogRepository) AddQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	entry.UpdatedAt = entry.CreatedAt

	row := newQueryLogRow(entry)
	row.ID = 0
	if _, err := r.db.NewInsert().Model(row).Returning("id").Exec(ctx); err != nil {
		return nil, err
	}
	entry.Id = core.ID(row.ID)
	return entry, nil
}

// UpdateQueryLog overwrites an existing record.
func (r *QueryLogRepository) UpdateQueryLog(ctx context.Context, entry *core.QueryLog) (*core.QueryLog, error) {
	entry.UpdatedAt = time.Now().UTC()
	res, err := r.db.NewUpdate().Model(newQueryLogRow(entry)).WherePK().Exec(ctx)
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

// GetQueryLog retrieves a single record by ID.
func (r *QueryLogRepository) GetQueryLog(ctx context.Context, id core.ID) (*core.QueryLog, error) {
	row := new(queryLogRow)
	if err := r.db.NewSelect().Model(row).Where("id = ?", int64(id)).Scan(ctx); err != nil {
		return nil, notFound(err)
	}
	return row.toCore(), nil
}

// GetRecentQueryLogs returns up to limit records, newest first.
func (r *QueryLogRepository) GetRecentQueryLogs(ctx context.Context, limit int) ([]*core.QueryLog, error) {
	if limit <= 0 {
		return []*core.QueryLog{}, nil
	}
	var rows []queryLogRow
	if err := r.db.NewSelect().Model(&rows).OrderExpr("id DESC").Limit(limit).Scan(ctx); err != nil {
		return nil, err
	}
	entries := make([]*core.QueryLog, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toCore())
	}
	return entries, nil
}

// DeleteAllQueryLogs truncates the log table.
func (r *QueryLogRepository) DeleteAllQueryLogs(ctx context.Context) error {
	_, err := r.db.NewTruncateTable().Model((*queryLogRow)(nil)).Exec(ctx)
	return err
}
