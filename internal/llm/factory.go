package llm

import (
	"fmt"
	"sort"
	"time"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/provider"
	anthropic_provider "github.com/mohammad-safakhou/rmri/provider/anthropic"
	gemini_provider "github.com/mohammad-safakhou/rmri/provider/gemini"
	openai_provider "github.com/mohammad-safakhou/rmri/provider/openai"
)

// NewProvider creates a provider variant from its configuration
func NewProvider(p config.LLMProvider) (provider.Provider, error) {
	client, ok := provider.ParseClient(p.Type)
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider %q", p.Type)
	}
	if p.APIKey == "" {
		return nil, fmt.Errorf("%s: api_key not set", client)
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	switch client {
	case provider.OpenAI:
		return openai_provider.NewOpenAIClient(p.APIKey, p.BaseURL, p.Model, p.Temperature, p.MaxTokens, timeout), nil
	case provider.Anthropic:
		return anthropic_provider.NewAnthropicClient(p.APIKey, p.BaseURL, p.Model, p.Temperature, p.MaxTokens, timeout), nil
	default:
		return gemini_provider.NewGeminiClient(p.APIKey, p.BaseURL, p.Model, p.Temperature, p.MaxTokens, timeout), nil
	}
}

// NewProvidersFromConfig builds every configured provider in name order.
func NewProvidersFromConfig(cfg config.LLMConfig) ([]provider.Provider, error) {
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]provider.Provider, 0, len(names))
	for _, name := range names {
		p, err := NewProvider(cfg.Providers[name])
		if err != nil {
			return nil, fmt.Errorf("llm.providers.%s: %w", name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

// RoutingOptions turns the routing section into Caller options.
func RoutingOptions(r config.LLMRoutingConfig) []Option {
	return []Option{
		WithRouting("micro", ParseClients(r.Micro)),
		WithRouting("meso", ParseClients(r.Meso)),
		WithRouting("meta", ParseClients(r.Meta)),
	}
}

// ParseClients keeps the recognised names, in order.
func ParseClients(names []string) []provider.Client {
	var out []provider.Client
	for _, n := range names {
		if c, ok := provider.ParseClient(n); ok {
			out = append(out, c)
		}
	}
	return out
}
