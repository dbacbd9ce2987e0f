package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/civicdesk/internal/storage"
)

var _ Retriever = (*VectorRetriever)(nil)

// VectorRetriever embeds the query and searches the vector store.
type VectorRetriever struct {
	embedder *Embedder
	store    VectorStore
}

func NewVectorRetriever(embedder *Embedder, store VectorStore) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

// Search maps cosine similarity onto [0,1] by clamping negatives to zero.
func (r *VectorRetriever) Search(ctx context.Context, query string, limit int, minScore float64) ([]Passage, error) {
	if limit <= 0 {
		return []Passage{}, nil
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	scored, err := r.store.Search(ctx, vec, limit)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	passages := make([]Passage, 0, len(scored))
	for _, s := range scored {
		passages = append(passages, Passage{
			Text:     s.TextChunk,
			Score:    min(1, max(0, float64(s.Score))),
			Source:   s.SourceType + ":" + s.SourceID,
			Metadata: map[string]any{"id": s.ID, "tags": s.Tags},
		})
	}
	return finalize(passages, limit, minScore), nil
}

// Index embeds a knowledge doc and stores it as a single vector record,
// returning the new record ID. A previous vector referenced by doc.VectorID
// is removed once the replacement is stored.
func (r *VectorRetriever) Index(ctx context.Context, doc storage.KnowledgeDoc) (string, error) {
	text := indexText(doc)
	vec, err := r.embedder.Embed(ctx, text)
	if err != nil {
		return "", err
	}
	rec := knowledgeRecord(doc, text, vec)
	if err := r.store.Insert(ctx, []Record{rec}); err != nil {
		return "", fmt.Errorf("inserting vector: %w", err)
	}
	r.dropStale(ctx, doc)
	return rec.ID, nil
}

// IndexBatch embeds docs concurrently and stores all records in one insert.
// The returned IDs follow the order of docs.
func (r *VectorRetriever) IndexBatch(ctx context.Context, docs []storage.KnowledgeDoc) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = indexText(d)
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	recs := make([]Record, len(docs))
	ids := make([]string, len(docs))
	for i, d := range docs {
		recs[i] = knowledgeRecord(d, texts[i], vecs[i])
		ids[i] = recs[i].ID
	}
	if err := r.store.Insert(ctx, recs); err != nil {
		return nil, fmt.Errorf("inserting %d vectors: %w", len(recs), err)
	}
	for _, d := range docs {
		r.dropStale(ctx, d)
	}
	return ids, nil
}

func (r *VectorRetriever) dropStale(ctx context.Context, doc storage.KnowledgeDoc) {
	if doc.VectorID == "" {
		return
	}
	err := r.store.Delete(ctx, doc.VectorID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		slog.Warn("failed to delete stale vector", "doc_id", doc.ID, "vector_id", doc.VectorID, "error", err)
	}
}

func indexText(doc storage.KnowledgeDoc) string {
	if doc.Title != "" {
		return doc.Title + ". " + doc.Content
	}
	return doc.Content
}

func knowledgeRecord(doc storage.KnowledgeDoc, text string, vec []float32) Record {
	return Record{
		ID:         uuid.NewString(),
		SourceID:   doc.ID,
		SourceType: "knowledge",
		TextChunk:  text,
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
		Tags:       doc.Tags,
	}
}
