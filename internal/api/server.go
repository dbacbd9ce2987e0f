// Package api exposes the request pipeline over HTTP and MCP.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

// Pipeline processes stored requests. *pipeline.Orchestrator satisfies it.
type Pipeline interface {
	ProcessNew(ctx context.Context, id int64) (storage.Request, error)
	GenerateResponse(ctx context.Context, id int64) (storage.Request, error)
}

// Jobs schedules background work. *dispatch.Queue satisfies it.
type Jobs interface {
	ProcessRequest(ctx context.Context, requestID int64) (string, error)
	IndexKnowledge(ctx context.Context, docID string) (string, error)
}

// TaskRunner runs ad-hoc agent tasks. *agent.Runner satisfies it.
type TaskRunner interface {
	RunByID(ctx context.Context, dir agent.Directory, task agent.Task) agent.TaskResult
}

// OrgConfig is the cached organizational configuration.
// *orgconfig.Manager satisfies it.
type OrgConfig interface {
	agent.Directory
	Snapshot() *orgconfig.Snapshot
	Reload(ctx context.Context) error
}

// VectorCounter reports how many knowledge vectors are stored.
// *retrieval.SQLiteStore satisfies it.
type VectorCounter interface {
	Count(ctx context.Context) (int, error)
}

type Deps struct {
	Store     *storage.Store
	Pipeline  Pipeline
	Jobs      Jobs // optional; without it nothing is queued
	Runner    TaskRunner
	Config    OrgConfig
	Retriever retrieval.Retriever // optional; search answers 503 without it
	Vectors   VectorCounter       // optional; reported on /health
	MinScore  float64
	Token     string
}

// NewHandler returns the HTTP API. /health and /metrics are public; every
// other route needs the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.MinScore <= 0 {
		deps.MinScore = retrieval.DefaultMinScore
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/requests", handleCreateRequest(deps))
		r.Get("/requests", handleListRequests(deps))
		r.Get("/requests/{id}", handleGetRequest(deps))
		r.Post("/requests/{id}/process", handleProcessRequest(deps))
		r.Post("/requests/{id}/response", handleGenerateResponse(deps))

		r.Post("/agents/{id}/tasks", handleRunTask(deps))

		r.Get("/knowledge/search", handleSearchKnowledge(deps))
		r.Post("/knowledge", handleAddKnowledge(deps))

		r.Get("/ledger/verify", handleVerifyLedger(deps))
		r.Get("/ledger/{entityType}/{id}", handleListLedger(deps))
		r.Get("/activity", handleListActivity(deps))

		r.Post("/config/reload", handleReloadConfig(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DB().PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
		resp := map[string]any{"status": "ok"}
		if deps.Vectors != nil {
			n, err := deps.Vectors.Count(r.Context())
			if err != nil {
				slog.Warn("counting knowledge vectors failed", "error", err)
			} else {
				resp["knowledge_vectors"] = n
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
