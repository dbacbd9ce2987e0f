// Package routing applies organizational rules to a request: the first
// active rule for the request's source type that matches decides the
// department, position and optional handling agent.
package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/agent"
	"github.com/kalambet/civicdesk/internal/metrics"
	"github.com/kalambet/civicdesk/internal/orgconfig"
	"github.com/kalambet/civicdesk/internal/storage"
)

// ErrRuleApplication marks a matched rule whose agent step failed. It is
// logged, never returned: department and position assignments stand.
var ErrRuleApplication = errors.New("rule application failed")

// AgentRunner runs an agent task. *agent.Runner satisfies it.
type AgentRunner interface {
	Run(ctx context.Context, a storage.Agent, task agent.Task) agent.TaskResult
}

type RouteResult struct {
	Processed bool
	Rule      *storage.Rule
	Request   storage.Request
}

// MatchFunc decides whether rule applies to req.
type MatchFunc func(rule storage.Rule, req storage.Request) bool

type Router struct {
	config   orgconfig.Store
	runner   AgentRunner
	activity activity.Log
	logger   *slog.Logger

	// Match defaults to Matches.
	Match MatchFunc
}

func NewRouter(config orgconfig.Store, runner AgentRunner, log activity.Log) *Router {
	if log == nil {
		log = activity.Nop{}
	}
	return &Router{
		config:   config,
		runner:   runner,
		activity: log,
		logger:   slog.Default(),
		Match:    Matches,
	}
}

// Matches reports whether rule applies to req. A rule with keywords matches
// when the lowercased subject and description contain any keyword. A rule
// without keywords matches on its classification type, which requires the
// request to be classified already.
func Matches(rule storage.Rule, req storage.Request) bool {
	if len(rule.Keywords) > 0 {
		text := strings.ToLower(req.Subject + " " + req.Description)
		for _, kw := range rule.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(text, kw) {
				return true
			}
		}
		return false
	}
	return rule.ClassificationType != "" &&
		req.AIClassification != "" &&
		strings.EqualFold(rule.ClassificationType, req.AIClassification)
}

// Route evaluates rules in order and applies the first match to a copy of
// req. Later rules are not evaluated. Without a match the request comes back
// unchanged with Processed false.
func (r *Router) Route(ctx context.Context, req storage.Request) RouteResult {
	snap := r.config.Snapshot()
	for _, rule := range snap.ActiveRules(req.SourceType) {
		if !r.Match(rule, req) {
			continue
		}
		routed := r.apply(ctx, snap, rule, req)
		metrics.RoutingDecisions.WithLabelValues("matched").Inc()
		r.activity.Record(ctx, activity.RequestEntry(req.ID, "rule_applied", map[string]any{
			"rule_id":       rule.ID,
			"rule":          rule.Name,
			"department_id": routed.DepartmentID,
			"position_id":   routed.PositionID,
			"agent_id":      routed.AgentID,
		}))
		return RouteResult{Processed: true, Rule: &rule, Request: routed}
	}
	metrics.RoutingDecisions.WithLabelValues("unmatched").Inc()
	return RouteResult{Request: req}
}

func (r *Router) apply(ctx context.Context, snap *orgconfig.Snapshot, rule storage.Rule, req storage.Request) storage.Request {
	if rule.DepartmentID != 0 {
		if rule.DepartmentID != req.DepartmentID && rule.PositionID == 0 {
			// The previous assignee belongs to the old department.
			req.PositionID, req.AssignedTo = 0, ""
			if p, ok := snap.Assignee(rule.DepartmentID); ok {
				req.PositionID, req.AssignedTo = p.ID, p.HolderID
			}
		}
		req.DepartmentID = rule.DepartmentID
		name := strconv.FormatInt(rule.DepartmentID, 10)
		if d, ok := snap.Department(rule.DepartmentID); ok {
			name = d.Name
		}
		req.AISuggestion = appendLine(req.AISuggestion, fmt.Sprintf("Правило %q: направить в подразделение %s", rule.Name, name))
	}
	if rule.PositionID != 0 {
		req.PositionID = rule.PositionID
		req.AssignedTo = ""
		name := strconv.FormatInt(rule.PositionID, 10)
		if p, ok := snap.Position(rule.PositionID); ok {
			name = p.Name
			req.AssignedTo = p.HolderID
		}
		req.AISuggestion = appendLine(req.AISuggestion, fmt.Sprintf("Правило %q: исполнитель на должности %s", rule.Name, name))
	}
	if rule.AgentID != 0 {
		req.AgentID = rule.AgentID
		req.AIProcessed = true
		req.AssignedTo = ""
		if err := r.runAgent(ctx, snap, rule, &req); err != nil {
			r.logger.Warn("routing rule agent step failed", "request_id", req.ID, "rule_id", rule.ID, "error", err)
		}
	}
	return req
}

// runAgent lets the rule's agent refresh the request's classification and
// summary.
func (r *Router) runAgent(ctx context.Context, snap *orgconfig.Snapshot, rule storage.Rule, req *storage.Request) error {
	a, ok := snap.Agent(rule.AgentID)
	if !ok {
		return fmt.Errorf("%w: %w %d", ErrRuleApplication, agent.ErrAgentNotFound, rule.AgentID)
	}
	res := r.runner.Run(ctx, a, agent.Task{
		Type:       agent.TypeClassification,
		EntityType: "request",
		EntityID:   strconv.FormatInt(req.ID, 10),
		Content:    strings.TrimSpace(req.Subject + "\n" + req.Description),
		Metadata:   map[string]any{"subject": req.Subject, "sourceType": req.SourceType},
		Priority:   req.Priority,
	})
	if !res.Success {
		return fmt.Errorf("%w: %s", ErrRuleApplication, res.Error)
	}
	if c := agent.NormalizeCategory(res.Field("classification")); c != "" {
		req.AIClassification = c
	}
	if s := res.Field("summary"); s != "" {
		req.Summary = s
	}
	if p := res.Field("priority"); p != "" {
		req.Priority = agent.NormalizePriority(p)
	}
	return nil
}

func appendLine(s, line string) string {
	if s == "" {
		return line
	}
	return s + "\n" + line
}
