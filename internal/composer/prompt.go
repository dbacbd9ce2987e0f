// Package composer turns an agent, a task type and request content into the
// prompt sent to a model.
package composer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/civicdesk/internal/retrieval"
	"github.com/kalambet/civicdesk/internal/storage"
)

const defaultMaxContextTokens = 4000

// Categories is the classification category set. The orchestrator maps each
// category to a department code.
var Categories = []string{
	"housing",
	"improvement",
	"roads",
	"transport",
	"social",
	"education",
	"health",
	"it",
	"legal",
	"other",
}

// Builder renders prompts. It holds no per-call state and is safe for
// concurrent use.
type Builder struct {
	MaxContextTokens int
}

// New creates a Builder with the given token budget for retrieved context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(maxContextTokens int) *Builder {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Builder{MaxContextTokens: maxContextTokens}
}

// Build returns the prompt for one task. An agent's custom template wins over
// the built-in template for the task type.
func (b *Builder) Build(agent storage.Agent, taskType, content string, metadata map[string]any) string {
	if agent.PromptTemplate != "" {
		vars := make(map[string]any, len(metadata)+1)
		vars["content"] = content
		for k, v := range metadata {
			vars[k] = v
		}
		return Substitute(agent.PromptTemplate, vars)
	}
	render, ok := templates[taskType]
	if !ok {
		render = genericTemplate
	}
	p := &prompt{meta: metadata}
	render(p, content)
	return strings.TrimRight(p.sb.String(), "\n")
}

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.-]+)\}`)

// Substitute replaces ${key} with vars[key]. Unknown keys stay verbatim.
func Substitute(template string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		key := m[2 : len(m)-1]
		v, ok := vars[key]
		if !ok || v == nil {
			return m
		}
		return formatValue(v)
	})
}

// AppendContext adds a [Retrieved Context] block with as many passages as fit
// the token budget, best first. Passages arrive sorted from the retriever.
func (b *Builder) AppendContext(prompt string, passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return prompt
	}
	const header = "\n\n[Retrieved Context]\n"
	remaining := b.MaxContextTokens - EstimateTokens(header)

	var entries []string
	for _, p := range passages {
		entry := fmt.Sprintf("(Score: %.2f, Source: %s)\n%s\n\n", p.Score, p.Source, p.Text)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		remaining -= tokens
	}
	if len(entries) == 0 {
		return prompt
	}
	return prompt + header + strings.TrimRight(strings.Join(entries, ""), "\n")
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
