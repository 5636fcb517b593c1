package llm

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
)

// ErrNoProviders is returned when no registered provider matches the requested order.
var ErrNoProviders = errors.New("no providers available")

// Attempt records one provider call that did not succeed.
type Attempt struct {
	Provider provider.Client `json:"provider"`
	Err      error           `json:"-"`
	Reason   string          `json:"reason"`
	Latency  time.Duration   `json:"latency"`
}

// AllProvidersFailedError lists every failed attempt of a fallback call, in attempt order.
type AllProvidersFailedError struct {
	Attempts []Attempt
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

// InsufficientProvidersError is returned by an ensemble call when fewer providers
// than required succeeded. Successes holds exactly the successful subset.
type InsufficientProvidersError struct {
	Required  int
	Successes []provider.Response
	Failures  []Attempt
}

func (e *InsufficientProvidersError) Error() string {
	return fmt.Sprintf("insufficient providers: %d succeeded, %d required", len(e.Successes), e.Required)
}
