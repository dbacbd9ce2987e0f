package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/storage"
)

func handleListLedger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListLedgerEntries(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list ledger entries: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.LedgerEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type verifyResponse struct {
	Valid   bool   `json:"valid"`
	Entries int    `json:"entries"`
	Error   string `json:"error,omitempty"`
}

func handleVerifyLedger(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entries, err := deps.Store.ListLedgerEntries(r.Context(), "", "")
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load ledger: %v", err)
			return
		}
		resp := verifyResponse{Valid: true, Entries: len(entries)}
		if err := ledger.Verify(entries); err != nil {
			resp.Valid = false
			resp.Error = err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListActivity(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if (q.Get("entity_type") == "") != (q.Get("entity_id") == "") {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "entity_type and entity_id go together")
			return
		}
		limit := parseIntParam(r, "limit", 50, 500)
		entries, err := deps.Store.ListActivity(r.Context(), q.Get("entity_type"), q.Get("entity_id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list activity: %v", err)
			return
		}
		if entries == nil {
			entries = []storage.ActivityEntry{}
		}
		writeJSON(w, http.StatusOK, entries)
	}
}

type reloadResponse struct {
	Agents      int       `json:"agents"`
	Rules       int       `json:"rules"`
	Departments int       `json:"departments"`
	Positions   int       `json:"positions"`
	LoadedAt    time.Time `json:"loaded_at"`
}

func handleReloadConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Config.Reload(r.Context()); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "reload failed: %v", err)
			return
		}
		snap := deps.Config.Snapshot()
		writeJSON(w, http.StatusOK, reloadResponse{
			Agents:      len(snap.Agents),
			Rules:       len(snap.Rules),
			Departments: len(snap.Departments),
			Positions:   len(snap.Positions),
			LoadedAt:    snap.LoadedAt,
		})
	}
}
