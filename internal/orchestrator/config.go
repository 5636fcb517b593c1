package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/provider"
)

// RunConfig is the per-run configuration. Zero values take the service defaults.
// A negative IterationDelay runs iterations back to back.
type RunConfig struct {
	MaxIterations        int           `json:"max_iterations,omitempty"`
	ConvergenceThreshold float64       `json:"convergence_threshold,omitempty"`
	TopK                 int           `json:"top_k,omitempty"`
	MicroConcurrency     int           `json:"micro_concurrency,omitempty"`
	MinMicroSuccess      float64       `json:"min_micro_success,omitempty"`
	JobTimeout           time.Duration `json:"job_timeout,omitempty"`
	IterationDelay       time.Duration `json:"iteration_delay,omitempty"`
	MinProviders         int           `json:"min_providers,omitempty"`
	Aggregation          string        `json:"aggregation,omitempty"`
	ClusterCount         int           `json:"cluster_count,omitempty"`
	MinClusterSize       int           `json:"min_cluster_size,omitempty"`
}

// withDefaults fills zero fields from the service configuration.
func (c RunConfig) withDefaults(base config.OrchestratorConfig) RunConfig {
	base = base.Normalize()
	if c.MaxIterations <= 0 {
		c.MaxIterations = base.MaxIterations
	}
	if c.ConvergenceThreshold <= 0 {
		c.ConvergenceThreshold = base.ConvergenceThreshold
	}
	if c.TopK <= 0 {
		c.TopK = base.TopK
	}
	if c.MicroConcurrency <= 0 {
		c.MicroConcurrency = base.MicroConcurrency
	}
	if c.MinMicroSuccess <= 0 {
		c.MinMicroSuccess = base.MinMicroSuccess
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = base.JobTimeout
	}
	if c.IterationDelay == 0 {
		c.IterationDelay = base.IterationDelay
	}
	if c.IterationDelay < 0 {
		c.IterationDelay = 0
	}
	if c.MinProviders <= 0 {
		c.MinProviders = base.MinProviders
	}
	if strings.TrimSpace(c.Aggregation) == "" {
		c.Aggregation = base.Aggregation
	}
	if c.ClusterCount <= 0 {
		c.ClusterCount = base.ClusterCount
	}
	if c.MinClusterSize <= 0 {
		c.MinClusterSize = base.MinClusterSize
	}
	return c
}

func (c RunConfig) validate() error {
	if c.ConvergenceThreshold > 1 {
		return fmt.Errorf("%w: convergence_threshold must be <= 1", ErrInvalidConfig)
	}
	if c.MinMicroSuccess > 1 {
		return fmt.Errorf("%w: min_micro_success must be <= 1", ErrInvalidConfig)
	}
	if c.MaxIterations > 50 {
		return fmt.Errorf("%w: max_iterations must be <= 50", ErrInvalidConfig)
	}
	if _, err := llm.ParseAggregation(c.Aggregation); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ModelConfig selects how the tier workers call the model layer.
type ModelConfig struct {
	Mode            string        `json:"mode,omitempty"` // fallback (default) or ensemble
	Providers       []string      `json:"providers,omitempty"`
	Model           string        `json:"model,omitempty"`
	Temperature     float64       `json:"temperature,omitempty"`
	MaxTokens       int           `json:"max_tokens,omitempty"`
	ProviderTimeout time.Duration `json:"provider_timeout,omitempty"`
}

// settings resolves the model configuration into worker call settings.
func (m ModelConfig) settings(rc RunConfig) (agents.CallSettings, error) {
	mode := agents.ModeFallback
	switch strings.ToLower(strings.TrimSpace(m.Mode)) {
	case "", string(agents.ModeFallback):
	case string(agents.ModeEnsemble):
		mode = agents.ModeEnsemble
	default:
		return agents.CallSettings{}, &ValidationError{Field: "model.mode", Reason: fmt.Sprintf("unknown mode %q", m.Mode)}
	}
	var clients []provider.Client
	for _, name := range m.Providers {
		c, ok := provider.ParseClient(name)
		if !ok {
			return agents.CallSettings{}, &ValidationError{Field: "model.providers", Reason: fmt.Sprintf("unknown provider %q", name)}
		}
		clients = append(clients, c)
	}
	agg, err := llm.ParseAggregation(rc.Aggregation)
	if err != nil {
		return agents.CallSettings{}, &ValidationError{Field: "config.aggregation", Reason: err.Error()}
	}
	return agents.CallSettings{
		Mode:         mode,
		Providers:    clients,
		MinProviders: rc.MinProviders,
		Aggregation:  agg,
		Timeout:      m.ProviderTimeout,
		Model:        m.Model,
		Temperature:  m.Temperature,
		MaxTokens:    m.MaxTokens,
	}, nil
}
