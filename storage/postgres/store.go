// Package postgres implements the storage interfaces on PostgreSQL with the
// pgvector extension, using bun as the query builder.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/docqa/storage"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"
)

// DefaultDimensions matches text-embedding-3-small.
const DefaultDimensions = 1536

// Store implements storage.Store over a bun connection pool.
type Store struct {
	db         *bun.DB
	dimensions int
	debug      bool
	logger     *slog.Logger

	documents *DocumentRepository
	queryLogs *QueryLogRepository
	sessions  *SessionStore
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithDimensions fixes the embedding column dimension and enables the HNSW
// cosine index. Zero leaves the column unconstrained and unindexed.
func WithDimensions(n int) Option {
	return func(s *Store) {
		s.dimensions = n
	}
}

// WithDebug logs every query through bundebug.
func WithDebug(debug bool) Option {
	return func(s *Store) {
		s.debug = debug
	}
}

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to the database at dsn and creates the schema if needed.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	s, err := New(bun.NewDB(sqldb, pgdialect.New()), opts...)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	if err := s.db.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing bun database. The schema is not touched; call Migrate.
func New(db *bun.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("database is required")
	}
	s := &Store{
		db:         db,
		dimensions: DefaultDimensions,
		logger:     slog.Default().With("component", "postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	s.documents = &DocumentRepository{db: db, logger: s.logger}
	s.queryLogs = &QueryLogRepository{db: db}
	s.sessions = &SessionStore{db: db}
	return s, nil
}

// Migrate creates the vector extension, tables, and the cosine HNSW index.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("creating vector extension: %w", err)
	}

	if _, err := s.db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}
	_, err := s.db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().
		ForeignKey(`("document_id") REFERENCES "documents" ("id") ON DELETE CASCADE`).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating chunks table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*queryLogRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating query_logs table: %w", err)
	}
	if _, err := s.db.NewCreateTable().Model((*sessionRow)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	if s.dimensions <= 0 {
		return nil
	}
	return s.fixDimensions(ctx)
}

// fixDimensions pins the embedding column to s.dimensions on first run and
// refuses to open a database built for a different dimension.
func (s *Store) fixDimensions(ctx context.Context) error {
	var typmod int
	err := s.db.NewSelect().
		TableExpr("pg_attribute").
		ColumnExpr("atttypmod").
		Where("attrelid = 'chunks'::regclass").
		Where("attname = 'embedding'").
		Scan(ctx, &typmod)
	if err != nil {
		return fmt.Errorf("inspecting embedding column: %w", err)
	}

	switch {
	case typmod == s.dimensions:
	case typmod <= 0:
		_, err := s.db.ExecContext(ctx, "ALTER TABLE chunks ALTER COLUMN embedding TYPE vector(?)", bun.Safe(fmt.Sprint(s.dimensions)))
		if err != nil {
			return fmt.Errorf("fixing embedding dimension: %w", err)
		}
	default:
		return fmt.Errorf("%w: database holds %d-dimensional embeddings, configured %d",
			storage.ErrDimensionMismatch, typmod, s.dimensions)
	}

	_, err = s.db.NewCreateIndex().
		Model((*chunkRow)(nil)).
		Index("chunks_embedding_hnsw").
		IfNotExists().
		Using("hnsw").
		ColumnExpr("embedding vector_cosine_ops").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("creating embedding index: %w", err)
	}
	return nil
}

func (s *Store) Documents() storage.DocumentRepository { return s.documents }
func (s *Store) Chunks() storage.ChunkRepository       { return s.documents }
func (s *Store) QueryLogs() storage.QueryLogRepository { return s.queryLogs }
func (s *Store) Sessions() storage.SessionStore        { return s.sessions }

// DB exposes the underlying bun database.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// notFound maps sql.ErrNoRows onto storage.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	return err
}
