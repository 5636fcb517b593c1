package gemini_provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
)

const (
	geminiAPIBase = "https://generativelanguage.googleapis.com/v1beta/models"
)

type client struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type request struct {
	Contents          []content        `json:"contents"`
	SystemInstruction *content         `json:"systemInstruction,omitempty"`
	GenerationConfig  generationConfig `json:"generationConfig"`
}

type response struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// NewGeminiClient creates a client for the generateContent API.
func NewGeminiClient(apiKey, baseURL, model string, temperature float64, maxTokens int, timeout time.Duration) provider.Provider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = geminiAPIBase
	}
	if model == "" {
		model = "gemini-1.5-pro"
	}
	return &client{
		apiKey:      apiKey,
		baseURL:     strings.TrimRight(baseURL, "/"),
		model:       model,
		temperature: temperature,
		maxTokens:   maxTokens,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *client) Name() provider.Client { return provider.Gemini }

func (c *client) Call(ctx context.Context, prompt string, opts provider.Options) (provider.Response, error) {
	model := c.model
	if opts.Model != "" {
		model = opts.Model
	}
	req := request{
		Contents:         []content{{Role: "user", Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{Temperature: c.temperature, MaxOutputTokens: c.maxTokens},
	}
	if opts.Temperature > 0 {
		req.GenerationConfig.Temperature = opts.Temperature
	}
	if opts.MaxTokens > 0 {
		req.GenerationConfig.MaxOutputTokens = opts.MaxTokens
	}
	if opts.System != "" {
		req.SystemInstruction = &content{Parts: []part{{Text: opts.System}}}
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, url.PathEscape(model), url.QueryEscape(c.apiKey))

	start := time.Now()
	var out response
	if err := provider.DoJSON(ctx, c.httpClient, provider.Gemini, endpoint, nil, req, &out); err != nil {
		return provider.Response{}, err
	}
	if len(out.Candidates) == 0 {
		return provider.Response{}, provider.Errorf(provider.Gemini, "no candidates in response")
	}
	cand := out.Candidates[0]
	var sb strings.Builder
	for _, p := range cand.Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	return provider.Response{
		Provider:     provider.Gemini,
		Model:        model,
		Text:         text,
		Confidence:   provider.FinishConfidence(cand.FinishReason, text),
		FinishReason: cand.FinishReason,
		Usage: provider.Usage{
			InputTokens:  out.UsageMetadata.PromptTokenCount,
			OutputTokens: out.UsageMetadata.CandidatesTokenCount,
			Latency:      time.Since(start),
		},
	}, nil
}
