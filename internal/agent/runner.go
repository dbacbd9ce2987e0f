package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/composer"
	"github.com/kalambet/civicdesk/internal/ledger"
	"github.com/kalambet/civicdesk/internal/llm"
	"github.com/kalambet/civicdesk/internal/metrics"
	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

const (
	previewRunes   = 200
	maxLedgerBytes = 1000
)

// Sender sends one prompt to a model. *llm.Gateway satisfies it.
type Sender interface {
	Send(ctx context.Context, prompt string, p llm.Params) (string, error)
}

// Directory resolves agents by ID.
type Directory interface {
	Agent(id int64) (storage.Agent, bool)
}

// Runner executes agent tasks. It keeps no per-call state and is safe for
// concurrent use.
type Runner struct {
	gateway   Sender
	selector  *llm.Selector
	builder   *composer.Builder
	retriever retrieval.Retriever
	ledger    ledger.Ledger
	activity  activity.Log
	minScore  float64
	logger    *slog.Logger
}

// NewRunner wires a Runner. retriever and led may be nil, which disables
// enrichment and auditing. minScore <= 0 uses retrieval.DefaultMinScore.
func NewRunner(
	gateway Sender,
	selector *llm.Selector,
	builder *composer.Builder,
	retriever retrieval.Retriever,
	led ledger.Ledger,
	log activity.Log,
	minScore float64,
) *Runner {
	if log == nil {
		log = activity.Nop{}
	}
	if minScore <= 0 {
		minScore = retrieval.DefaultMinScore
	}
	return &Runner{
		gateway:   gateway,
		selector:  selector,
		builder:   builder,
		retriever: retriever,
		ledger:    led,
		activity:  log,
		minScore:  minScore,
		logger:    slog.Default(),
	}
}

// RunByID resolves the agent and runs the task. An unknown agent yields a
// failed result with ErrAgentNotFound.
func (r *Runner) RunByID(ctx context.Context, dir Directory, task Task) TaskResult {
	a, ok := dir.Agent(task.AgentID)
	if !ok {
		if task.ID == "" {
			task.ID = uuid.NewString()
		}
		err := fmt.Errorf("%w: %d", ErrAgentNotFound, task.AgentID)
		metrics.TaskResults.WithLabelValues(task.Type, metrics.OutcomeFailure).Inc()
		return TaskResult{TaskID: task.ID, AgentID: task.AgentID, Error: err.Error(), Err: err}
	}
	return r.Run(ctx, a, task)
}

// Run executes task with agent a. It never returns an error or panics:
// every failure is reported in the result with Success false.
func (r *Runner) Run(ctx context.Context, a storage.Agent, task Task) (res TaskResult) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.AgentID = a.ID
	res = TaskResult{TaskID: task.ID, AgentID: a.ID}

	r.activity.Record(ctx, r.entry(task, "task_started", map[string]any{
		"agent_id":  a.ID,
		"task_type": task.Type,
	}))

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("agent task panicked: %v", p)
			r.logger.Error("agent task panicked", "task_id", task.ID, "panic", p)
			res = TaskResult{TaskID: task.ID, AgentID: a.ID, Error: err.Error(), Err: err}
		}
		outcome := metrics.OutcomeSuccess
		if !res.Success {
			outcome = metrics.OutcomeFailure
			r.activity.Record(ctx, r.entry(task, "task_failed", map[string]any{
				"agent_id": a.ID,
				"error":    res.Error,
			}))
		}
		metrics.TaskResults.WithLabelValues(task.Type, outcome).Inc()
	}()

	out, model, err := r.execute(ctx, a, task)
	if err != nil {
		res.Error = err.Error()
		res.Err = err
		return res
	}
	res.Success = true
	res.Output = out
	res.LedgerRef = r.audit(ctx, a, task, out)

	r.activity.Record(ctx, r.entry(task, "task_completed", map[string]any{
		"agent_id":           a.ID,
		"model":              model,
		"needs_human_review": res.NeedsHumanReview(),
	}))
	return res
}

func (r *Runner) execute(ctx context.Context, a storage.Agent, task Task) (Output, string, error) {
	if !a.Active {
		return Output{}, "", fmt.Errorf("%w: %d", ErrAgentInactive, a.ID)
	}

	prompt := r.builder.Build(a, task.Type, task.Content, task.Metadata)
	if a.UseRAG {
		prompt = r.enrich(ctx, task, prompt)
	}

	params := r.selector.Select(task.Type, task.Content, task.Priority).Params()
	if a.Model != "" {
		params.Model = a.Model
	}
	if a.Temperature > 0 {
		params.Temperature = a.Temperature
	}
	if a.MaxTokens > 0 {
		params.MaxTokens = a.MaxTokens
	}

	raw, err := r.gateway.Send(ctx, prompt, params)
	if err != nil {
		return Output{}, params.Model, fmt.Errorf("calling model %s: %w", params.Model, err)
	}

	text := strings.TrimSpace(raw)
	if !structured(task) {
		return Output{Text: text}, params.Model, nil
	}
	fields, err := parseJSON(text)
	if err != nil {
		r.logger.Warn("agent response degraded to human review", "task_id", task.ID, "task_type", task.Type, "error", err)
		fields = degraded(task, text)
	}
	return Output{Text: text, Fields: fields}, params.Model, nil
}

// enrich appends retrieved knowledge to prompt. Retrieval failures and empty
// results leave the prompt unchanged.
func (r *Runner) enrich(ctx context.Context, task Task, prompt string) string {
	if r.retriever == nil {
		return prompt
	}
	parts := []string{task.Content}
	for _, k := range []string{"subject", "classification"} {
		if s, ok := task.Metadata[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	passages, err := r.retriever.Search(ctx, strings.Join(parts, " "), ragLimit(task.Type), r.minScore)
	if err != nil {
		r.logger.Warn("knowledge retrieval failed, continuing without context", "task_id", task.ID, "error", err)
		return prompt
	}
	return r.builder.AppendContext(prompt, passages)
}

// audit appends a size-bounded summary of the result to the ledger and
// returns its reference. Ledger failures are logged; the task still succeeds.
func (r *Runner) audit(ctx context.Context, a storage.Agent, task Task, out Output) string {
	if r.ledger == nil {
		return ""
	}
	meta := ledgerSummary(out)
	meta["task_id"] = task.ID
	meta["task_type"] = task.Type
	meta["agent_id"] = a.ID

	entityType, entityID := task.EntityType, task.EntityID
	if entityType == "" {
		entityType, entityID = "agent", strconv.FormatInt(a.ID, 10)
	}
	ref, err := r.ledger.Append(ctx, ledger.Entry{
		EntityType: entityType,
		EntityID:   entityID,
		Action:     "agent_task_completed",
		Metadata:   meta,
	})
	if err != nil {
		metrics.LedgerWriteFailures.Inc()
		r.logger.Warn("ledger append failed", "task_id", task.ID, "error", err)
		return ""
	}
	return ref
}

// ledgerSummary keeps classification and priority when present; otherwise a
// short preview, or only the size when the serialized output is large.
func ledgerSummary(out Output) map[string]any {
	if c, ok := out.Fields["classification"]; ok {
		return map[string]any{"classification": c, "priority": out.Fields["priority"]}
	}
	b, err := json.Marshal(out)
	if err == nil && len(b) > maxLedgerBytes {
		return map[string]any{"result_size": len(b)}
	}
	preview := []rune(out.Text)
	if len(preview) > previewRunes {
		preview = preview[:previewRunes]
	}
	return map[string]any{"preview": string(preview)}
}

func (r *Runner) entry(task Task, action string, details map[string]any) activity.Entry {
	details["task_id"] = task.ID
	if task.EntityType != "" {
		return activity.Entry{EntityType: task.EntityType, EntityID: task.EntityID, Action: action, Details: details}
	}
	return activity.Entry{EntityType: "agent_task", EntityID: task.ID, Action: action, Details: details}
}
