// Package llm is the model gateway: it resolves a provider from a model
// identifier, issues one completion call and surfaces typed errors. It also
// holds the model selector.
package llm

import (
	"context"
	"strings"
)

// Provider identifies a model provider family.
type Provider int

const (
	ProviderUnknown Provider = iota
	ProviderOpenAI
	ProviderAnthropic
	ProviderOpenRouter
	ProviderOllama
)

func (p Provider) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderOpenRouter:
		return "openrouter"
	case ProviderOllama:
		return "ollama"
	default:
		return "unknown"
	}
}

type matchMode int

const (
	matchPrefix matchMode = iota
	matchContains
)

// providerTable maps model-name fragments to providers. Entries are checked
// in order; the first hit wins.
var providerTable = []struct {
	fragment string
	mode     matchMode
	provider Provider
}{
	{"gpt", matchContains, ProviderOpenAI},
	{"davinci", matchContains, ProviderOpenAI},
	{"o1", matchPrefix, ProviderOpenAI},
	{"o3", matchPrefix, ProviderOpenAI},
	{"claude", matchContains, ProviderAnthropic},
	{"llama", matchContains, ProviderOllama},
	{"mistral", matchContains, ProviderOllama},
	{"phi", matchPrefix, ProviderOllama},
	{"qwen", matchContains, ProviderOllama},
	{"gemma", matchContains, ProviderOllama},
	{"nomic-embed", matchPrefix, ProviderOllama},
}

// ResolveProvider returns the provider for a model identifier.
// "vendor/model" identifiers always go through OpenRouter.
func ResolveProvider(model string) Provider {
	m := strings.ToLower(strings.TrimSpace(model))
	if m == "" {
		return ProviderUnknown
	}
	if strings.Contains(m, "/") {
		return ProviderOpenRouter
	}
	for _, e := range providerTable {
		switch e.mode {
		case matchPrefix:
			if strings.HasPrefix(m, e.fragment) {
				return e.provider
			}
		case matchContains:
			if strings.Contains(m, e.fragment) {
				return e.provider
			}
		}
	}
	return ProviderUnknown
}

// Params are the per-call generation settings.
type Params struct {
	Model       string
	MaxTokens   int
	Temperature float64
	System      string
}

// Client is one provider's completion endpoint.
type Client interface {
	Complete(ctx context.Context, prompt string, p Params) (string, error)
}
