package agents

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/provider"
)

// ModelCaller is the subset of the call layer the workers use.
type ModelCaller interface {
	CallWithFallback(ctx context.Context, prompt string, opts provider.Options, preferred []provider.Client) (llm.FallbackResult, error)
	CallEnsemble(ctx context.Context, prompt string, eo llm.EnsembleOptions) (llm.EnsembleResult, error)
}

// CallMode picks between one provider with fallback and a parallel ensemble.
type CallMode string

const (
	ModeFallback CallMode = "fallback"
	ModeEnsemble CallMode = "ensemble"
)

// CallSettings are the model parameters of a run.
type CallSettings struct {
	Mode         CallMode          `json:"mode"`
	Providers    []provider.Client `json:"providers,omitempty"`
	MinProviders int               `json:"min_providers"`
	Aggregation  llm.Aggregation   `json:"aggregation"`
	Timeout      time.Duration     `json:"timeout"`
	Model        string            `json:"model,omitempty"`
	Temperature  float64           `json:"temperature,omitempty"`
	MaxTokens    int               `json:"max_tokens,omitempty"`
}

// neutralAgreement is used when only one response is available.
const neutralAgreement = 0.5

type completion struct {
	Text       string
	Confidence float64
	Agreement  float64
	Providers  []provider.Client
	// Failures are provider attempts the call layer recovered from.
	Failures []llm.Attempt
}

func complete(ctx context.Context, caller ModelCaller, s CallSettings, tier Tier, system, prompt string) (completion, error) {
	opts := provider.Options{
		Model:       s.Model,
		Temperature: s.Temperature,
		MaxTokens:   s.MaxTokens,
		System:      system,
		AgentType:   string(tier),
	}
	if s.Mode != ModeEnsemble {
		res, err := caller.CallWithFallback(ctx, prompt, opts, s.Providers)
		if err != nil {
			return completion{}, err
		}
		resp := res.Response
		return completion{
			Text:       resp.Text,
			Confidence: resp.Confidence,
			Agreement:  neutralAgreement,
			Providers:  []provider.Client{resp.Provider},
			Failures:   res.Attempts,
		}, nil
	}

	res, err := caller.CallEnsemble(ctx, prompt, llm.EnsembleOptions{
		Options:      opts,
		Providers:    s.Providers,
		MinProviders: s.MinProviders,
		Aggregation:  s.Aggregation,
		Timeout:      s.Timeout,
	})
	if err != nil {
		return completion{}, err
	}
	c := completion{Text: res.Text(), Confidence: res.Confidence, Agreement: res.Agreement, Failures: res.Failures}
	if len(res.Responses) < 2 {
		c.Agreement = neutralAgreement
	}
	for _, r := range res.Responses {
		c.Providers = append(c.Providers, r.Provider)
	}
	return c, nil
}
