// Package pipeline drives a request through classification, routing,
// persistence and audit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/metrics"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/routing"
	"github.com/kalambet/civicdesk/internal/storage"
)

// RequestStore loads and saves request records. Implemented by storage.Store.
type RequestStore interface {
	GetRequest(ctx context.Context, id int64) (storage.Request, error)
	UpdateRequest(ctx context.Context, r storage.Request) error
}

// TaskRunner runs one agent task. *agent.Runner satisfies it.
type TaskRunner interface {
	Run(ctx context.Context, a storage.Agent, task agent.Task) agent.TaskResult
}

// Router applies organizational rules. *routing.Router satisfies it.
type Router interface {
	Route(ctx context.Context, req storage.Request) routing.RouteResult
}

// Orchestrator is safe for concurrent use; calls share no mutable state.
type Orchestrator struct {
	requests RequestStore
	config   orgconfig.Store
	runner   TaskRunner
	router   Router
	ledger   ledger.Ledger
	activity activity.Log
	logger   *slog.Logger
}

// NewOrchestrator wires the pipeline. led may be nil to skip auditing.
func NewOrchestrator(requests RequestStore, config orgconfig.Store, runner TaskRunner, router Router, led ledger.Ledger, log activity.Log) *Orchestrator {
	if log == nil {
		log = activity.Nop{}
	}
	return &Orchestrator{
		requests: requests,
		config:   config,
		runner:   runner,
		router:   router,
		ledger:   led,
		activity: log,
		logger:   slog.Default(),
	}
}

// ProcessNew classifies, routes and persists a request. Every failure after
// the initial load is recorded as a process_error activity and the request is
// returned as it was before the call; the error is non-nil only when the
// request cannot be loaded.
func (o *Orchestrator) ProcessNew(ctx context.Context, id int64) (storage.Request, error) {
	req, err := o.requests.GetRequest(ctx, id)
	if err != nil {
		return storage.Request{}, fmt.Errorf("loading request %d: %w", id, err)
	}
	o.activity.Record(ctx, activity.RequestEntry(id, "process_started", nil))

	updated, err := o.process(ctx, req)
	if err != nil {
		o.fail(ctx, req, "process", err)
		return req, nil
	}
	o.activity.Record(ctx, activity.RequestEntry(id, "process_completed", map[string]any{
		"status":        updated.Status,
		"department_id": updated.DepartmentID,
		"ledger_ref":    updated.LedgerRef,
	}))
	return updated, nil
}

func (o *Orchestrator) process(ctx context.Context, req storage.Request) (storage.Request, error) {
	snap := o.config.Snapshot()
	a, ok := snap.AgentFor(req.SourceType, storage.SubtypeClassification, agentTypes[req.SourceType])
	if !ok {
		return req, fmt.Errorf("%w: no active classification agent for %s", agent.ErrAgentNotFound, req.SourceType)
	}

	res := o.runner.Run(ctx, a, agent.Task{
		Type:       agent.TypeClassification,
		EntityType: "request",
		EntityID:   strconv.FormatInt(req.ID, 10),
		Content:    req.Subject + "\n" + req.Description,
		Metadata:   requestMetadata(req),
		Priority:   req.Priority,
	})
	if !res.Success {
		return req, fmt.Errorf("classification: %w", taskErr(res))
	}
	c := classificationFrom(res)
	o.activity.Record(ctx, activity.RequestEntry(req.ID, "classified", map[string]any{
		"agent_id":           a.ID,
		"classification":     c.Category,
		"priority":           c.Priority,
		"needs_human_review": c.NeedsHumanReview,
	}))

	updated := req
	updated.Status = storage.StatusProcessing
	updated.AIClassification = c.Category
	updated.AIConfidence = c.Confidence
	updated.Priority = c.Priority
	updated.Summary = c.Summary
	updated.AISuggestion = suggestion(c)
	updated.AIProcessed = true
	updated.AgentID = a.ID

	if code, ok := departmentCodes[c.Category]; ok {
		if d, ok := snap.DepartmentByCode(code); ok {
			updated.DepartmentID = d.ID
			if p, ok := snap.Assignee(d.ID); ok {
				updated.AssignedTo = p.HolderID
				updated.PositionID = p.ID
			}
		}
	}

	routed := o.router.Route(ctx, updated)
	if routed.Processed {
		updated = routed.Request
	}
	details := map[string]any{"matched": routed.Processed}
	if routed.Rule != nil {
		details["rule_id"] = routed.Rule.ID
	}
	o.activity.Record(ctx, activity.RequestEntry(req.ID, "routed", details))

	if err := o.requests.UpdateRequest(ctx, updated); err != nil {
		return req, fmt.Errorf("saving request: %w", err)
	}

	meta := map[string]any{
		"classification": updated.AIClassification,
		"priority":       updated.Priority,
		"department_id":  updated.DepartmentID,
		"task_ledger":    res.LedgerRef,
	}
	if routed.Rule != nil {
		meta["rule_id"] = routed.Rule.ID
	}
	o.audit(ctx, &updated, "request_processed", meta)
	return updated, nil
}

// GenerateResponse drafts a reply with the response agent and stores it.
// Same failure contract as ProcessNew.
func (o *Orchestrator) GenerateResponse(ctx context.Context, id int64) (storage.Request, error) {
	req, err := o.requests.GetRequest(ctx, id)
	if err != nil {
		return storage.Request{}, fmt.Errorf("loading request %d: %w", id, err)
	}
	o.activity.Record(ctx, activity.RequestEntry(id, "response_started", nil))

	updated, err := o.respond(ctx, req)
	if err != nil {
		o.fail(ctx, req, "response", err)
		return req, nil
	}
	o.activity.Record(ctx, activity.RequestEntry(id, "response_completed", map[string]any{
		"response_chars": len([]rune(updated.ResponseText)),
		"ledger_ref":     updated.LedgerRef,
	}))
	return updated, nil
}

func (o *Orchestrator) respond(ctx context.Context, req storage.Request) (storage.Request, error) {
	a, ok := o.config.Snapshot().AgentFor(req.SourceType, storage.SubtypeResponse, agentTypes[req.SourceType])
	if !ok {
		return req, fmt.Errorf("%w: no active response agent for %s", agent.ErrAgentNotFound, req.SourceType)
	}

	meta := requestMetadata(req)
	if req.AIClassification != "" {
		meta["classification"] = req.AIClassification
	}
	if req.Summary != "" {
		meta["summary"] = req.Summary
	}
	res := o.runner.Run(ctx, a, agent.Task{
		Type:       agent.TypeResponse,
		EntityType: "request",
		EntityID:   strconv.FormatInt(req.ID, 10),
		Content:    req.Description,
		Metadata:   meta,
		Priority:   req.Priority,
	})
	if !res.Success {
		return req, fmt.Errorf("response: %w", taskErr(res))
	}
	if res.Output.Text == "" {
		return req, errors.New("response: model returned empty text")
	}

	updated := req
	updated.ResponseText = res.Output.Text
	updated.AISuggestion = appendLine(updated.AISuggestion, fmt.Sprintf("Проект ответа подготовлен агентом %q", a.Name))
	if err := o.requests.UpdateRequest(ctx, updated); err != nil {
		return req, fmt.Errorf("saving response: %w", err)
	}

	o.audit(ctx, &updated, "response_generated", map[string]any{
		"agent_id":       a.ID,
		"response_chars": len([]rune(updated.ResponseText)),
		"task_ledger":    res.LedgerRef,
	})
	return updated, nil
}

// audit appends a ledger entry and stores its reference on the request.
// Failures are logged only.
func (o *Orchestrator) audit(ctx context.Context, req *storage.Request, action string, meta map[string]any) {
	if o.ledger == nil {
		return
	}
	ref, err := o.ledger.Append(ctx, ledger.Entry{
		EntityType: "request",
		EntityID:   strconv.FormatInt(req.ID, 10),
		Action:     action,
		Metadata:   meta,
	})
	if err != nil {
		metrics.LedgerWriteFailures.Inc()
		o.logger.Warn("ledger append failed", "request_id", req.ID, "action", action, "error", err)
		return
	}
	req.LedgerRef = ref
	if err := o.requests.UpdateRequest(ctx, *req); err != nil {
		o.logger.Warn("saving ledger reference failed", "request_id", req.ID, "error", err)
	}
}

func (o *Orchestrator) fail(ctx context.Context, req storage.Request, stage string, err error) {
	o.logger.Warn("request pipeline failed", "request_id", req.ID, "stage", stage, "error", err)
	o.activity.Record(ctx, activity.RequestEntry(req.ID, "process_error", map[string]any{
		"stage": stage,
		"error": err.Error(),
	}))
}

func requestMetadata(req storage.Request) map[string]any {
	meta := map[string]any{
		"subject":    req.Subject,
		"sourceType": req.SourceType,
	}
	if req.CitizenName != "" {
		meta["citizenName"] = req.CitizenName
	}
	return meta
}

func taskErr(res agent.TaskResult) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error)
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
