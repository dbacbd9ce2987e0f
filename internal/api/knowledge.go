package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

type AddKnowledgeBody struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Source  string   `json:"source"`
	Tags    []string `json:"tags"`
}

func handleSearchKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Retriever == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "knowledge search is not configured")
			return
		}
		query := strings.TrimSpace(r.URL.Query().Get("q"))
		if query == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "q is required")
			return
		}
		limit := parseIntParam(r, "limit", 5, 50)
		minScore := deps.MinScore
		if s := r.URL.Query().Get("min_score"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil || v < 0 || v > 1 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "min_score must be a number in [0,1]")
				return
			}
			minScore = v
		}

		passages, err := deps.Retriever.Search(r.Context(), query, limit, minScore)
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "search failed: %v", err)
			return
		}
		if passages == nil {
			passages = []retrieval.Passage{}
		}
		writeJSON(w, http.StatusOK, passages)
	}
}

func handleAddKnowledge(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body AddKnowledgeBody
		if !decodeBody(w, r, &body) {
			return
		}
		if strings.TrimSpace(body.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}
		if body.Source == "" {
			body.Source = "api"
		}

		tagsJSON := "[]"
		if len(body.Tags) > 0 {
			b, err := json.Marshal(body.Tags)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal tags: %v", err)
				return
			}
			tagsJSON = string(b)
		}

		doc := storage.KnowledgeDoc{
			ID:      uuid.NewString(),
			Title:   body.Title,
			Content: body.Content,
			Source:  body.Source,
			Tags:    tagsJSON,
		}
		if err := deps.Store.SaveKnowledgeDoc(r.Context(), doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save document: %v", err)
			return
		}

		if deps.Jobs == nil {
			writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "stored"})
			return
		}
		if _, err := deps.Jobs.IndexKnowledge(r.Context(), doc.ID); err != nil {
			slog.Warn("queueing knowledge indexing failed", "doc_id", doc.ID, "error", err)
			writeJSON(w, http.StatusCreated, map[string]string{"id": doc.ID, "status": "stored"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"id": doc.ID, "status": "queued"})
	}
}
