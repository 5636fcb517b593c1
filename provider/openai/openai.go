package openai_provider

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
)

const (
	openaiAPIURL = "https://api.openai.com/v1/chat/completions"
)

// client implements provider.Provider using OpenAI's chat completions API
type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

// Message represents a message in a conversation
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type response struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient creates a new OpenAI client
func NewOpenAIClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) provider.Provider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = openaiAPIURL
	}
	if model == "" {
		model = "gpt-4o-mini"
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

func (c *client) Name() provider.Client { return provider.OpenAI }

// Call sends one chat completion request.
func (c *client) Call(ctx context.Context, prompt string, opts provider.Options) (provider.Response, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	temp := c.temperature
	if opts.Temperature > 0 {
		temp = opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}
	var messages []Message
	if opts.System != "" {
		messages = append(messages, Message{Role: "system", Content: opts.System})
	}
	messages = append(messages, Message{Role: "user", Content: prompt})

	start := time.Now()
	var out response
	err := provider.DoJSON(ctx, c.httpClient, provider.OpenAI, c.baseURL,
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		request{Model: model, Messages: messages, Temperature: temp, MaxTokens: maxTokens}, &out)
	if err != nil {
		return provider.Response{}, err
	}
	if len(out.Choices) == 0 {
		return provider.Response{}, provider.Errorf(provider.OpenAI, "no choices in response")
	}
	text := out.Choices[0].Message.Content
	reason := out.Choices[0].FinishReason
	if out.Model != "" {
		model = out.Model
	}
	return provider.Response{
		Provider:     provider.OpenAI,
		Model:        model,
		Text:         text,
		Confidence:   provider.FinishConfidence(reason, text),
		FinishReason: reason,
		Usage: provider.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			Latency:      time.Since(start),
		},
	}, nil
}
