package provider

import (
	"context"
	"strings"
	"time"
)

// Client names a provider variant. The set is closed.
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
	Gemini    Client = "gemini"
)

// ParseClient maps a configured type onto a Client.
func ParseClient(s string) (Client, bool) {
	switch Client(strings.ToLower(strings.TrimSpace(s))) {
	case OpenAI:
		return OpenAI, true
	case Anthropic:
		return Anthropic, true
	case Gemini:
		return Gemini, true
	default:
		return "", false
	}
}

// Options tune a single model call.
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int
	System      string
	AgentType   string // micro, meso, meta
}

// Usage reports token accounting and wall time for a call.
type Usage struct {
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	Latency      time.Duration `json:"latency"`
}

// Response is the immutable result of one provider call.
type Response struct {
	Provider     Client  `json:"provider"`
	Model        string  `json:"model"`
	Text         string  `json:"text"`
	Confidence   float64 `json:"confidence"`
	FinishReason string  `json:"finish_reason"`
	Usage        Usage   `json:"usage"`
}

// Provider is the interface that all model variants must satisfy
type Provider interface {
	Name() Client
	Call(ctx context.Context, prompt string, opts Options) (Response, error)
}

// EstimateTokens approximates the token count of a prompt.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// FinishConfidence derives a response confidence from how generation ended.
func FinishConfidence(reason, text string) float64 {
	if strings.TrimSpace(text) == "" {
		return 0.1
	}
	switch strings.ToLower(reason) {
	case "stop", "end_turn", "stop_sequence":
		return 0.85
	case "length", "max_tokens":
		return 0.55
	case "content_filter", "safety", "recitation":
		return 0.3
	default:
		return 0.7
	}
}
