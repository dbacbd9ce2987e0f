package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kalambet/civicdesk/internal/storage"
)

type CreateRequestBody struct {
	SourceType  string `json:"source_type"`
	Subject     string `json:"subject"`
	Description string `json:"description"`
	CitizenName string `json:"citizen_name"`
	Priority    string `json:"priority"`
}

type createRequestResponse struct {
	Request storage.Request `json:"request"`
	JobID   string          `json:"job_id,omitempty"`
}

func handleCreateRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body CreateRequestBody
		if !decodeBody(w, r, &body) {
			return
		}

		switch body.SourceType {
		case "", storage.SourceCitizenRequest, storage.SourceMeetingProtocol:
		default:
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown source_type %q", body.SourceType)
			return
		}
		if strings.TrimSpace(body.Subject) == "" && strings.TrimSpace(body.Description) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "subject or description is required")
			return
		}

		id, err := deps.Store.CreateRequest(r.Context(), storage.Request{
			SourceType:  body.SourceType,
			Subject:     body.Subject,
			Description: body.Description,
			CitizenName: body.CitizenName,
			Priority:    body.Priority,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save request: %v", err)
			return
		}
		req, err := deps.Store.GetRequest(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load request: %v", err)
			return
		}

		if deps.Jobs == nil {
			writeJSON(w, http.StatusCreated, createRequestResponse{Request: req})
			return
		}
		jobID, err := deps.Jobs.ProcessRequest(r.Context(), id)
		if err != nil {
			// The request is stored; it can still be processed on demand.
			slog.Warn("queueing request processing failed", "request_id", id, "error", err)
			writeJSON(w, http.StatusCreated, createRequestResponse{Request: req})
			return
		}
		writeJSON(w, http.StatusAccepted, createRequestResponse{Request: req, JobID: jobID})
	}
}

func handleListRequests(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		reqs, err := deps.Store.ListRequests(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list requests: %v", err)
			return
		}
		if reqs == nil {
			reqs = []storage.Request{}
		}
		writeJSON(w, http.StatusOK, reqs)
	}
}

func handleGetRequest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		req, err := deps.Store.GetRequest(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "request %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get request: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}

func handleProcessRequest(deps Deps) http.HandlerFunc {
	return runPipeline(deps.Pipeline.ProcessNew)
}

func handleGenerateResponse(deps Deps) http.HandlerFunc {
	return runPipeline(deps.Pipeline.GenerateResponse)
}

// runPipeline answers with the request as the pipeline left it. A pipeline
// failure after loading still yields 200 with the unchanged request; the
// failure is in the activity log.
func runPipeline(step func(ctx context.Context, id int64) (storage.Request, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := idParam(w, r)
		if !ok {
			return
		}
		req, err := step(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "request %d not found", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "%v", err)
			return
		}
		writeJSON(w, http.StatusOK, req)
	}
}
