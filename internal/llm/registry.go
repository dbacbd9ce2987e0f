package llm

import (
	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/config"
)

// NewGatewayFromConfig registers every provider that has credentials (or,
// for Ollama, a base URL). Registration order decides the fallback provider
// for unrecognized models: OpenAI, Anthropic, OpenRouter, Ollama.
func NewGatewayFromConfig(p config.ProvidersConfig, log activity.Log) *Gateway {
	g := NewGateway(log)
	if p.OpenAIAPIKey != "" {
		g.Register(ProviderOpenAI, NewOpenAIClient(p.OpenAIAPIKey, p.OpenAIBaseURL))
	}
	if p.AnthropicAPIKey != "" {
		g.Register(ProviderAnthropic, NewAnthropicClient(p.AnthropicAPIKey, p.AnthropicBaseURL))
	}
	if p.OpenRouterAPIKey != "" {
		g.Register(ProviderOpenRouter, NewOpenRouterClient(p.OpenRouterAPIKey, p.OpenRouterBaseURL))
	}
	if p.OllamaBaseURL != "" {
		g.Register(ProviderOllama, NewOllamaClient(p.OllamaBaseURL))
	}
	return g
}

// CatalogFromConfig converts the configured model catalog.
func CatalogFromConfig(m config.ModelsConfig) Catalog {
	return Catalog{
		Fast:           m.Fast,
		Quality:        m.Quality,
		Fallback:       m.Fallback,
		LargeContext:   m.LargeContext,
		Classification: m.Classification,
		Summarization:  m.Summarization,
		Response:       m.Response,
		Generic:        m.Generic,
	}
}
