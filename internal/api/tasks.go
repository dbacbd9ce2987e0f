package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/kalambet/civicdesk/internal/agent"
)

type RunTaskBody struct {
	Type       string         `json:"type"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Priority   string         `json:"priority"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
}

// handleRunTask runs a task synchronously. Model and parse failures come
// back as a 200 with success false; only an unknown or inactive agent maps
// to an HTTP error.
func handleRunTask(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		var body RunTaskBody
		if !decodeBody(w, r, &body) {
			return
		}
		if body.Type == "" {
			body.Type = agent.TypeDocument
		}
		if strings.TrimSpace(body.Content) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "content is required")
			return
		}

		res := deps.Runner.RunByID(r.Context(), deps.Config, agent.Task{
			Type:       body.Type,
			EntityType: body.EntityType,
			EntityID:   body.EntityID,
			AgentID:    id,
			Content:    body.Content,
			Metadata:   body.Metadata,
			Priority:   body.Priority,
		})
		switch {
		case errors.Is(res.Err, agent.ErrAgentNotFound):
			httpError(w, http.StatusNotFound, "not_found", "%s", res.Error)
		case errors.Is(res.Err, agent.ErrAgentInactive):
			httpError(w, http.StatusConflict, "agent_inactive", "%s", res.Error)
		default:
			writeJSON(w, http.StatusOK, res)
		}
	}
}
