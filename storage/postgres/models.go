package postgres

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"github.com/poiesic/docqa/core"
	"github.com/uptrace/bun"
)

type documentRow struct {
	bun.BaseModel `bun:"table:documents,alias:d"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Title     string    `bun:"title,notnull,type:varchar(255),unique:documents_identity"`
	Source    string    `bun:"source,notnull,type:varchar(1024),unique:documents_identity"`
	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (r *documentRow) toCore() *core.Document {
	return &core.Document{
		Id:        core.ID(r.ID),
		Title:     r.Title,
		Source:    r.Source,
		CreatedAt: r.CreatedAt.UTC(),
		UpdatedAt: r.UpdatedAt.UTC(),
	}
}

type chunkRow struct {
	bun.BaseModel `bun:"table:chunks,alias:c"`

	ID         int64            `bun:"id,pk,autoincrement"`
	DocumentID int64            `bun:"document_id,notnull,unique:chunks_document_index"`
	ChunkIndex int              `bun:"chunk_index,notnull,unique:chunks_document_index"`
	Text       string           `bun:"text,notnull"`
	Embedding  *pgvector.Vector `bun:"embedding,type:vector"`
}

func newChunkRow(documentID core.ID, chunk *core.Chunk) chunkRow {
	row := chunkRow{
		DocumentID: int64(documentID),
		ChunkIndex: chunk.Index,
		Text:       chunk.Text,
	}
	if chunk.Embedding != nil {
		v := pgvector.NewVector(chunk.Embedding)
		row.Embedding = &v
	}
	return row
}

func (r *chunkRow) toCore() *core.Chunk {
	chunk := &core.Chunk{
		DocumentId: core.ID(r.DocumentID),
		Index:      r.ChunkIndex,
		Text:       r.Text,
	}
	if r.Embedding != nil {
		chunk.Embedding = r.Embedding.Slice()
	}
	return chunk
}

// nearestRow is the projection returned by the similarity query.
type nearestRow struct {
	DocumentID int64   `bun:"document_id"`
	ChunkIndex int     `bun:"chunk_index"`
	Text       string  `bun:"text"`
	Distance   float64 `bun:"distance"`
}

type sourceJSON struct {
	DocumentID uint64  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Distance   float64 `json:"distance"`
}

type queryLogRow struct {
	bun.BaseModel `bun:"table:query_logs,alias:ql"`

	ID           int64        `bun:"id,pk,autoincrement"`
	CreatedAt    time.Time    `bun:"created_at,notnull"`
	UpdatedAt    time.Time    `bun:"updated_at,notnull"`
	Question     string       `bun:"question,notnull"`
	K            int          `bun:"k,notnull"`
	Scope        *int64       `bun:"scope"`
	MaxDistance  float64      `bun:"max_distance,notnull"`
	BestDistance *float64     `bun:"best_distance"`
	Answer       string       `bun:"answer,notnull"`
	Sources      []sourceJSON `bun:"sources,type:jsonb"`
	LatencyMs    int64        `bun:"latency_ms,notnull"`
	Error        string       `bun:"error,notnull"`
}

func newQueryLogRow(entry *core.QueryLog) *queryLogRow {
	row := &queryLogRow{
		ID:           int64(entry.Id),
		CreatedAt:    entry.CreatedAt,
		UpdatedAt:    entry.UpdatedAt,
		Question:     entry.Question,
		K:            entry.K,
		MaxDistance:  entry.MaxDistance,
		BestDistance: entry.BestDistance,
		Answer:       entry.Answer,
		LatencyMs:    entry.LatencyMs,
		Error:        entry.Error,
	}
	if entry.Scope != nil {
		scope := int64(*entry.Scope)
		row.Scope = &scope
	}
	for _, s := range entry.Sources {
		row.Sources = append(row.Sources, sourceJSON{
			DocumentID: uint64(s.DocumentId),
			ChunkIndex: s.ChunkIndex,
			Text:       s.Text,
			Distance:   s.Distance,
		})
	}
	return row
}

func (r *queryLogRow) toCore() *core.QueryLog {
	entry := &core.QueryLog{
		Id:           core.ID(r.ID),
		CreatedAt:    r.CreatedAt.UTC(),
		UpdatedAt:    r.UpdatedAt.UTC(),
		Question:     r.Question,
		K:            r.K,
		MaxDistance:  r.MaxDistance,
		BestDistance: r.BestDistance,
		Answer:       r.Answer,
		LatencyMs:    r.LatencyMs,
		Error:        r.Error,
	}
	if r.Scope != nil {
		scope := core.ID(*r.Scope)
		entry.Scope = &scope
	}
	for _, s := range r.Sources {
		entry.Sources = append(entry.Sources, core.Source{
			DocumentId: core.ID(s.DocumentID),
			ChunkIndex: s.ChunkIndex,
			Text:       s.Text,
			Distance:   s.Distance,
		})
	}
	return entry
}

type sessionRow struct {
	bun.BaseModel `bun:"table:sessions,alias:s"`

	ClientID string `bun:"client_id,pk"`
	Key      string `bun:"key,pk"`
	Value    string `bun:"value,notnull"`
}
