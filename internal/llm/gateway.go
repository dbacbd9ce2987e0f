package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/kalambet/civicdesk/internal/activity"
	"github.com/kalambet/civicdesk/internal/metrics"
)

// Gateway sends prompts to the provider that owns the requested model.
// It never retries; callers decide what a failure means.
type Gateway struct {
	clients  map[Provider]Client
	order    []Provider
	activity activity.Log
	logger   *slog.Logger
}

// NewGateway returns a gateway with no providers. Register at least one
// before calling Send.
func NewGateway(log activity.Log) *Gateway {
	if log == nil {
		log = activity.Nop{}
	}
	return &Gateway{
		clients:  make(map[Provider]Client),
		activity: log,
		logger:   slog.Default(),
	}
}

// Register adds or replaces the client for a provider. The first provider
// registered receives models no table entry recognizes.
func (g *Gateway) Register(p Provider, c Client) {
	if _, ok := g.clients[p]; !ok {
		g.order = append(g.order, p)
	}
	g.clients[p] = c
}

// Providers returns the registered providers in registration order.
func (g *Gateway) Providers() []Provider {
	return append([]Provider(nil), g.order...)
}

func (g *Gateway) resolve(model string) (Provider, Client, error) {
	p := ResolveProvider(model)
	if p == ProviderUnknown {
		if len(g.order) == 0 {
			return p, nil, fmt.Errorf("model %q: %w", model, ErrProviderNotConfigured)
		}
		p = g.order[0]
	}
	c, ok := g.clients[p]
	if !ok {
		return p, nil, fmt.Errorf("model %q needs %s: %w", model, p, ErrProviderNotConfigured)
	}
	return p, c, nil
}

// Send issues exactly one completion request and records one activity entry
// for it, whether it succeeded or not.
func (g *Gateway) Send(ctx context.Context, prompt string, p Params) (string, error) {
	provider, client, err := g.resolve(p.Model)
	if err != nil {
		g.record(ctx, p.Model, provider, "", err)
		return "", err
	}

	start := time.Now()
	text, err := client.Complete(ctx, prompt, p)
	metrics.GatewayLatency.WithLabelValues(provider.String()).Observe(time.Since(start).Seconds())

	g.record(ctx, p.Model, provider, text, err)
	if err != nil {
		return "", err
	}
	return text, nil
}

func (g *Gateway) record(ctx context.Context, model string, provider Provider, text string, err error) {
	details := map[string]any{"provider": provider.String()}
	action := "model_call"
	outcome := metrics.OutcomeSuccess
	if err != nil {
		action = "model_error"
		outcome = metrics.OutcomeFailure
		details["error"] = err.Error()
		g.logger.Warn("model call failed", "model", model, "provider", provider, "error", err)
	} else {
		details["response_chars"] = utf8.RuneCountInString(text)
	}
	metrics.GatewayCalls.WithLabelValues(provider.String(), outcome).Inc()
	g.activity.Record(ctx, activity.Entry{EntityType: "model", EntityID: model, Action: action, Details: details})
}
