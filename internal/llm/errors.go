package llm

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrAuth matches any provider authentication failure.
	ErrAuth = errors.New("model provider authentication failed")
	// ErrRateLimit matches any provider rate-limit response.
	ErrRateLimit = errors.New("model provider rate limit exceeded")
	// ErrProviderNotConfigured is returned when a model resolves to a
	// provider that has no registered client.
	ErrProviderNotConfigured = errors.New("model provider not configured")
)

// AuthError is returned when a provider rejects the credentials.
type AuthError struct {
	Provider Provider
	Status   int
	Message  string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: authentication failed (HTTP %d): %s", e.Provider, e.Status, e.Message)
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// RateLimitError is returned on HTTP 429 or a provider rate-limit error type.
type RateLimitError struct {
	Provider Provider
	Message  string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: rate limited: %s", e.Provider, e.Message)
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimit }

// StatusError is any other non-2xx provider response.
type StatusError struct {
	Provider Provider
	Status   int
	Message  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.Status, e.Message)
}

// statusError maps an HTTP status (and optional provider error type) to the
// typed error callers can match with errors.Is / errors.As.
func statusError(p Provider, status int, errType, msg string) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden || errType == "authentication_error":
		return &AuthError{Provider: p, Status: status, Message: msg}
	case status == http.StatusTooManyRequests || errType == "rate_limit_error":
		return &RateLimitError{Provider: p, Message: msg}
	default:
		return &StatusError{Provider: p, Status: status, Message: msg}
	}
}
