package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for domain entities.
// It is generated using content-based hashing or database sequences.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// String renders the ID in base 10, the form accepted by ParseID.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID parses a base 10 document or log identifier.
func ParseID(s string) (ID, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil || n == 0 {
		return 0, NewError(KindInvalidInput, "parse id", ErrInvalidScope)
	}
	return ID(n), nil
}

// Source labels describe how a document entered the system.
const (
	SourceIngestedText = "ingested_text"
	SourcePDF          = "pdf"
	SourceTextFile     = "text_file"
)

// Identity is the natural key of a document. Re-ingesting content under an
// existing identity replaces that document's chunks instead of creating a
// second document.
type Identity struct {
	Title  string
	Source string
}

// Key returns a stable string form of the identity, used for index hashing.
func (i Identity) Key() string {
	return i.Source + "\x00" + i.Title
}

// Document is a logical unit of ingested content.
type Document struct {
	Id        ID
	Title     string
	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time // Bumped every time the chunk set is replaced
}

// Identity returns the document's natural key.
func (d *Document) Identity() Identity {
	return Identity{Title: d.Title, Source: d.Source}
}

// Chunk is a contiguous text fragment of a document with its embedding.
type Chunk struct {
	DocumentId ID
	Index      int       // Zero-based, dense within a document
	Text       string
	Embedding  []float32 // Nil for chunks that were never embedded; never a search candidate
}

// Source is a retrieval hit: the chunk text plus its cosine distance to the query.
type Source struct {
	DocumentId ID
	ChunkIndex int
	Text       string
	Distance   float64
}

// IngestStatus reports whether an ingestion created or replaced a document.
type IngestStatus string

const (
	IngestCreated IngestStatus = "created"
	IngestUpdated IngestStatus = "updated"
)

// QueryLog is the audit record of one question-answering request.
type QueryLog struct {
	Id           ID
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Question     string
	K            int
	Scope        *ID      // Nil for unscoped retrieval
	MaxDistance  float64  // Threshold in force for this request
	BestDistance *float64 // Nil when nothing was retrieved
	Answer       string
	Sources      []Source
	LatencyMs    int64
	Error        string // Set only when generation failed
}

// Failed reports whether the request ended in an error.
func (q *QueryLog) Failed() bool {
	return q.Error != ""
}
