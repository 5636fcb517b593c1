package provider

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValidationError reports a request rejected before any provider was contacted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProviderError wraps a transport or API failure from a provider.
type ProviderError struct {
	Provider   Client
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// RateLimitError signals provider throttling.
type RateLimitError struct {
	Provider   Client
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: rate limited (retry after %s)", e.Provider, e.RetryAfter)
	}
	return fmt.Sprintf("%s: rate limited", e.Provider)
}

// IsRateLimit reports whether err is or wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidatePrompt rejects blank prompts and prompts above maxTokens (0 disables the limit).
func ValidatePrompt(prompt string, maxTokens int) error {
	if strings.TrimSpace(prompt) == "" {
		return &ValidationError{Field: "prompt", Reason: "empty"}
	}
	if maxTokens > 0 {
		if n := EstimateTokens(prompt); n > maxTokens {
			return &ValidationError{Field: "prompt", Reason: fmt.Sprintf("too long: ~%d tokens exceeds %d", n, maxTokens)}
		}
	}
	return nil
}
