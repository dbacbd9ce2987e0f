package retrieval

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/kalambet/civicdesk/internal/storage"
)

// Entry is one knowledge-base item searchable by the keyword index.
type Entry struct {
	ID     string
	Text   string
	Tags   []string
	Source string
}

const (
	textWeight = 0.7
	tagWeight  = 0.3
)

var _ Retriever = (*KeywordRetriever)(nil)

// KeywordRetriever scores entries by query-token overlap with their text and
// tags. The corpus is swapped whole by Replace; searches see a consistent
// snapshot.
type KeywordRetriever struct {
	mu      sync.RWMutex
	entries []indexedEntry
}

type indexedEntry struct {
	Entry
	lowerText string
	lowerTags []string
}

func NewKeywordRetriever(entries []Entry) *KeywordRetriever {
	r := &KeywordRetriever{}
	r.Replace(entries)
	return r
}

// Replace swaps the corpus.
func (r *KeywordRetriever) Replace(entries []Entry) {
	indexed := make([]indexedEntry, len(entries))
	for i, e := range entries {
		tags := make([]string, len(e.Tags))
		for j, t := range e.Tags {
			tags[j] = strings.ToLower(t)
		}
		indexed[i] = indexedEntry{Entry: e, lowerText: strings.ToLower(e.Text), lowerTags: tags}
	}
	r.mu.Lock()
	r.entries = indexed
	r.mu.Unlock()
}

// Len returns the corpus size.
func (r *KeywordRetriever) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Search scores every entry as min(1, 0.7*textOverlap + 0.3*tagOverlap),
// where overlap is the share of query tokens found in the text or in any tag.
func (r *KeywordRetriever) Search(_ context.Context, query string, limit int, minScore float64) ([]Passage, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 || limit <= 0 {
		return []Passage{}, nil
	}

	r.mu.RLock()
	entries := r.entries
	r.mu.RUnlock()

	var passages []Passage
	for _, e := range entries {
		score := scoreEntry(e, tokens)
		if score == 0 {
			continue
		}
		passages = append(passages, Passage{
			Text:     e.Text,
			Score:    score,
			Source:   e.Source,
			Metadata: map[string]any{"id": e.ID, "tags": e.Tags},
		})
	}
	return finalize(passages, limit, minScore), nil
}

func scoreEntry(e indexedEntry, tokens []string) float64 {
	var textHits, tagHits int
	for _, tok := range tokens {
		if strings.Contains(e.lowerText, tok) {
			textHits++
		}
		for _, tag := range e.lowerTags {
			if tagMatches(tag, tok) {
				tagHits++
				break
			}
		}
	}
	n := float64(len(tokens))
	return min(1, textWeight*float64(textHits)/n+tagWeight*float64(tagHits)/n)
}

// minStemRunes is the shortest tag or token allowed to match by prefix.
const minStemRunes = 4

// tagMatches reports whether a query token hits a tag. Words match whole, or
// by prefix when the shorter one has at least minStemRunes runes, so "штраф"
// matches "штрафы" but "ит" does not match "житель". Multi-word tags match
// on any of their words.
func tagMatches(tag, tok string) bool {
	for _, w := range strings.Fields(tag) {
		if w == tok {
			return true
		}
		short, long := w, tok
		if len(short) > len(long) {
			short, long = long, short
		}
		if utf8.RuneCountInString(short) >= minStemRunes && strings.HasPrefix(long, short) {
			return true
		}
	}
	return false
}

// tokenize lowercases s and splits it on anything that is not a letter or
// digit. Single-rune tokens (prepositions, conjunctions) are dropped and
// duplicates collapsed.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		tokens = append(tokens, f)
	}
	return tokens
}

// EntriesFromDocs converts stored knowledge docs into keyword entries.
// Malformed tag arrays are logged and treated as empty.
func EntriesFromDocs(docs []storage.KnowledgeDoc) []Entry {
	entries := make([]Entry, 0, len(docs))
	for _, d := range docs {
		var tags []string
		if d.Tags != "" {
			if err := json.Unmarshal([]byte(d.Tags), &tags); err != nil {
				slog.Warn("knowledge doc has malformed tags", "id", d.ID, "error", err)
				tags = nil
			}
		}
		text := d.Content
		if d.Title != "" {
			text = d.Title + ". " + d.Content
		}
		source := d.Source
		if source == "" {
			source = "knowledge:" + d.ID
		}
		entries = append(entries, Entry{ID: d.ID, Text: text, Tags: tags, Source: source})
	}
	return entries
}

// maxCorpusDocs bounds how many stored docs are loaded into the index.
const maxCorpusDocs = 10000

// LoadCorpus returns the built-in sample corpus followed by every stored
// knowledge doc.
func LoadCorpus(ctx context.Context, store *storage.Store) ([]Entry, error) {
	docs, err := store.ListKnowledgeDocs(ctx, maxCorpusDocs)
	if err != nil {
		return nil, err
	}
	return append(SampleCorpus(), EntriesFromDocs(docs)...), nil
}
