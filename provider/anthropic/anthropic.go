package anthropic_provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
)

const (
	anthropicAPIURL  = "https://api.anthropic.com/v1/messages"
	anthropicVersion = "2023-06-01"
)

type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type response struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// NewAnthropicClient creates a client for the messages API.
func NewAnthropicClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) provider.Provider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = anthropicAPIURL
	}
	if model == "" {
		model = "claude-3-5-sonnet-latest"
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &client{
		apiKey:      apiKey,
		baseURL:     baseURL,
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *client) Name() provider.Client { return provider.Anthropic }

func (c *client) Call(ctx context.Context, prompt string, opts provider.Options) (provider.Response, error) {
	req := request{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		System:      opts.System,
		Messages:    []message{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	}

	start := time.Now()
	var out response
	err := provider.DoJSON(ctx, c.httpClient, provider.Anthropic, c.baseURL, map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}, req, &out)
	if err != nil {
		return provider.Response{}, err
	}
	var sb strings.Builder
	for _, part := range out.Content {
		if part.Type == "text" {
			sb.WriteString(part.Text)
		}
	}
	if len(out.Content) == 0 {
		return provider.Response{}, provider.Errorf(provider.Anthropic, "empty content in response")
	}
	model := req.Model
	if out.Model != "" {
		model = out.Model
	}
	text := sb.String()
	return provider.Response{
		Provider:     provider.Anthropic,
		Model:        model,
		Text:         text,
		Confidence:   provider.FinishConfidence(out.StopReason, text),
		FinishReason: out.StopReason,
		Usage: provider.Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			Latency:      time.Since(start),
		},
	}, nil
}
