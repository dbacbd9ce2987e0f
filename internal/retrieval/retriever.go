package retrieval

import (
	"context"
	"sort"
)

// DefaultMinScore is the relevance threshold used when callers pass none.
const DefaultMinScore = 0.6

// Passage is one retrieved knowledge fragment. Score is in [0,1].
type Passage struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Source   string         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Retriever finds knowledge passages relevant to a query. Implementations
// return an empty slice and a nil error when nothing qualifies.
type Retriever interface {
	Search(ctx context.Context, query string, limit int, minScore float64) ([]Passage, error)
}

// finalize sorts by descending score, drops passages under minScore and
// truncates to limit. Equal scores keep corpus order.
func finalize(passages []Passage, limit int, minScore float64) []Passage {
	sort.SliceStable(passages, func(i, j int) bool {
		return passages[i].Score > passages[j].Score
	})
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		if p.Score < minScore {
			continue
		}
		if len(out) == limit {
			break
		}
		out = append(out, p)
	}
	return out
}
