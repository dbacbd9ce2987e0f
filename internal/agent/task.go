// Package agent runs one task through one configured agent: prompt, optional
// knowledge retrieval, model call, output parsing and audit.
package agent

import (
	"errors"
	"strings"
)

var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrAgentInactive = errors.New("agent is inactive")

	// ErrResponseParse marks a structured response that could not be parsed.
	// Runner degrades such results instead of returning it.
	ErrResponseParse = errors.New("response is not valid JSON")
)

// Task types.
const (
	TypeClassification = "classification"
	TypeSummarization  = "summarization"
	TypeResponse       = "response"
	TypeAnalytics      = "analytics"
	TypeTranslation    = "translation"
	TypeCitizenRequest = "citizen_request"
	TypeDocument       = "document"
	TypeProtocol       = "protocol"
	TypeRAG            = "rag"
)

// Task is one unit of work for an agent. It is not modified once passed to
// Runner.Run.
type Task struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	EntityType string         `json:"entity_type,omitempty"`
	EntityID   string         `json:"entity_id,omitempty"`
	AgentID    int64          `json:"agent_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Priority   string         `json:"priority,omitempty"`
}

type Output struct {
	Text   string         `json:"text,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

// TaskResult is the outcome of one Run. Err carries the typed error for
// callers in-process; Error is its message.
type TaskResult struct {
	TaskID    string `json:"task_id"`
	AgentID   int64  `json:"agent_id"`
	Success   bool   `json:"success"`
	Output    Output `json:"output"`
	LedgerRef string `json:"ledger_ref,omitempty"`
	Error     string `json:"error,omitempty"`
	Err       error  `json:"-"`
}

// Field returns a string output field, or "" when absent or not a string.
func (r TaskResult) Field(key string) string {
	s, _ := r.Output.Fields[key].(string)
	return s
}

// NeedsHumanReview reports whether the model output was flagged or degraded.
func (r TaskResult) NeedsHumanReview() bool {
	b, _ := r.Output.Fields["needsHumanReview"].(bool)
	return b
}

// structured reports whether a task type expects a JSON response.
func structured(t Task) bool {
	switch t.Type {
	case TypeClassification, TypeCitizenRequest, TypeAnalytics, TypeProtocol:
		return true
	case TypeDocument:
		return t.Metadata["outputFormat"] == "json"
	}
	return false
}

// ragLimit returns how many passages to retrieve for a task type.
func ragLimit(taskType string) int {
	switch taskType {
	case TypeResponse, TypeRAG:
		return 5
	}
	return 3
}

var priorities = map[string]bool{"low": true, "medium": true, "high": true, "urgent": true}

// NormalizePriority lowercases a model-reported priority. Unknown values
// become medium.
func NormalizePriority(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if !priorities[p] {
		return "medium"
	}
	return p
}

// NormalizeCategory lowercases a model-reported classification category.
func NormalizeCategory(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}
