package llm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/kalambet/civicdesk/internal/activity"
)

type mockClient struct {
	mu      sync.Mutex
	reply   string
	err     error
	calls   int
	prompts []string
	params  []Params
}

func (m *mockClient) Complete(_ context.Context, prompt string, p Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.prompts = append(m.prompts, prompt)
	m.params = append(m.params, p)
	return m.reply, m.err
}

type recordingLog struct {
	mu      sync.Mutex
	entries []activity.Entry
}

func (r *recordingLog) Record(_ context.Context, e activity.Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

func TestGatewaySend_RoutesByModel(t *testing.T) {
	openai := &mockClient{reply: "from openai"}
	anthropic := &mockClient{reply: "from anthropic"}
	log := &recordingLog{}

	g := NewGateway(log)
	g.Register(ProviderOpenAI, openai)
	g.Register(ProviderAnthropic, anthropic)

	got, err := g.Send(context.Background(), "hi", Params{Model: "claude-3-haiku-20240307", MaxTokens: 100})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "from anthropic" {
		t.Errorf("Send = %q", got)
	}
	if openai.calls != 0 || anthropic.calls != 1 {
		t.Errorf("calls: openai=%d anthropic=%d", openai.calls, anthropic.calls)
	}
	if anthropic.params[0].MaxTokens != 100 {
		t.Errorf("params not passed through: %+v", anthropic.params[0])
	}

	if len(log.entries) != 1 {
		t.Fatalf("activity entries = %d, want 1", len(log.entries))
	}
	e := log.entries[0]
	if e.Action != "model_call" || e.EntityID != "claude-3-haiku-20240307" {
		t.Errorf("entry = %+v", e)
	}
	if e.Details["response_chars"] != len([]rune("from anthropic")) {
		t.Errorf("response_chars = %v", e.Details["response_chars"])
	}
}

func TestGatewaySend_UnknownModelUsesFirstProvider(t *testing.T) {
	first := &mockClient{reply: "first"}
	second := &mockClient{reply: "second"}

	g := NewGateway(nil)
	g.Register(ProviderOllama, first)
	g.Register(ProviderOpenAI, second)

	got, err := g.Send(context.Background(), "hi", Params{Model: "gigachat-pro"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got != "first" {
		t.Errorf("Send = %q, want first registered provider", got)
	}
}

func TestGatewaySend_ProviderNotConfigured(t *testing.T) {
	g := NewGateway(nil)
	g.Register(ProviderOpenAI, &mockClient{})

	_, err := g.Send(context.Background(), "hi", Params{Model: "claude-3-opus-20240229"})
	if !errors.Is(err, ErrProviderNotConfigured) {
		t.Errorf("expected ErrProviderNotConfigured, got %v", err)
	}
}

func TestGatewaySend_NoRetryAndTypedErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		is   error
	}{
		{"auth", &AuthError{Provider: ProviderOpenAI, Status: 401}, ErrAuth},
		{"rate limit", &RateLimitError{Provider: ProviderOpenAI}, ErrRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{err: tt.err}
			log := &recordingLog{}
			g := NewGateway(log)
			g.Register(ProviderOpenAI, client)

			_, err := g.Send(context.Background(), "hi", Params{Model: "gpt-4o"})
			if !errors.Is(err, tt.is) {
				t.Errorf("errors.Is(%v, %v) = false", err, tt.is)
			}
			if client.calls != 1 {
				t.Errorf("calls = %d, want exactly 1", client.calls)
			}
			if len(log.entries) != 1 || log.entries[0].Action != "model_error" {
				t.Errorf("activity = %+v", log.entries)
			}
		})
	}
}

func TestStatusErrorMapping(t *testing.T) {
	var authErr *AuthError
	if err := statusError(ProviderAnthropic, 401, "", "bad key"); !errors.As(err, &authErr) {
		t.Errorf("401 should map to *AuthError, got %T", err)
	}
	if err := statusError(ProviderAnthropic, 400, "authentication_error", ""); !errors.Is(err, ErrAuth) {
		t.Errorf("authentication_error type should map to ErrAuth, got %v", err)
	}
	var rlErr *RateLimitError
	if err := statusError(ProviderOpenRouter, 429, "", ""); !errors.As(err, &rlErr) {
		t.Errorf("429 should map to *RateLimitError, got %T", err)
	}
	var stErr *StatusError
	if err := statusError(ProviderOllama, 500, "", "boom"); !errors.As(err, &stErr) || stErr.Status != 500 {
		t.Errorf("500 should map to *StatusError, got %v", err)
	}
	if err := statusError(ProviderOllama, 500, "", ""); errors.Is(err, ErrAuth) || errors.Is(err, ErrRateLimit) {
		t.Errorf("500 must not match auth or rate limit")
	}
}
