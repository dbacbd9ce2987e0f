package retrieval

import (
	"context"
	"time"
)

// VectorStore stores knowledge embeddings and answers similarity queries.
type VectorStore interface {
	Insert(ctx context.Context, records []Record) error

	// Search returns the topK most similar records, best first.
	Search(ctx context.Context, vector []float32, topK int) ([]ScoredRecord, error)

	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// Record is one embedded knowledge chunk.
type Record struct {
	ID         string
	SourceID   string
	SourceType string
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
	Tags       string // JSON array stored as text
}

// ScoredRecord is a Record with its cosine similarity to the query.
type ScoredRecord struct {
	Record
	Score float32
}
