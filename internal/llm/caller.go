package llm

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var llmTracer trace.Tracer = otel.Tracer("rmri/internal/llm")

// CallObserver receives per-call outcomes, e.g. for metrics.
type CallObserver interface {
	ObserveProviderCall(p provider.Client, outcome string, latency time.Duration)
}

// Caller is the process-wide entry point for model calls.
type Caller struct {
	providers       map[provider.Client]provider.Provider
	health          *HealthRegistry
	routing         map[string][]provider.Client
	maxPromptTokens int
	observer        CallObserver
	logger          *log.Logger
}

// Option configures a Caller.
type Option func(*Caller)

// WithHealthRegistry shares an existing health registry.
func WithHealthRegistry(h *HealthRegistry) Option {
	return func(c *Caller) {
		if h != nil {
			c.health = h
		}
	}
}

// WithRouting overrides the default provider order for an agent type.
func WithRouting(agentType string, order []provider.Client) Option {
	return func(c *Caller) {
		if len(order) > 0 {
			c.routing[agentType] = append([]provider.Client(nil), order...)
		}
	}
}

// WithMaxPromptTokens sets the prompt budget; 0 disables the check.
func WithMaxPromptTokens(n int) Option {
	return func(c *Caller) { c.maxPromptTokens = n }
}

// WithObserver attaches a call observer.
func WithObserver(o CallObserver) Option {
	return func(c *Caller) { c.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Caller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCaller registers the given providers. Later entries with the same name win.
func NewCaller(providers []provider.Provider, opts ...Option) *Caller {
	c := &Caller{
		providers: make(map[provider.Client]provider.Provider, len(providers)),
		routing: map[string][]provider.Client{
			"micro": {provider.OpenAI, provider.Anthropic, provider.Gemini},
			"meso":  {provider.Anthropic, provider.OpenAI, provider.Gemini},
			"meta":  {provider.Anthropic, provider.OpenAI, provider.Gemini},
		},
		logger: log.New(os.Stdout, "[LLM] ", log.LstdFlags),
	}
	for _, p := range providers {
		if p != nil {
			c.providers[p.Name()] = p
		}
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.health == nil {
		c.health = NewHealthRegistry(nil)
	}
	return c
}

// Health exposes the registry for status reporting.
func (c *Caller) Health() *HealthRegistry { return c.health }

// ResetHealth clears one provider's health, or all when client is empty.
func (c *Caller) ResetHealth(client provider.Client) {
	if client == "" {
		c.health.ResetAll()
		return
	}
	c.health.Reset(client)
}

// Providers returns the registered provider names in default order.
func (c *Caller) Providers() []provider.Client {
	return c.ResolveOrder(nil, "")
}

// ResolveOrder returns the attempt order: explicit preference, else the agent
// type's default, restricted to registered providers, degraded ones last.
func (c *Caller) ResolveOrder(preferred []provider.Client, agentType string) []provider.Client {
	base := preferred
	if len(base) == 0 {
		base = c.routing[agentType]
	}
	if len(base) == 0 {
		base = []provider.Client{provider.OpenAI, provider.Anthropic, provider.Gemini}
	}
	seen := make(map[provider.Client]struct{}, len(base))
	order := make([]provider.Client, 0, len(base))
	for _, name := range base {
		if _, dup := seen[name]; dup {
			continue
		}
		if _, ok := c.providers[name]; !ok {
			continue
		}
		seen[name] = struct{}{}
		order = append(order, name)
	}
	return c.health.Order(order)
}

// unregistered lists the explicitly requested providers that have no client.
func (c *Caller) unregistered(requested []provider.Client) []Attempt {
	var out []Attempt
	seen := make(map[provider.Client]struct{}, len(requested))
	for _, name := range requested {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := c.providers[name]; ok {
			continue
		}
		err := &provider.ProviderError{Provider: name, Message: "not registered"}
		out = append(out, Attempt{Provider: name, Err: err, Reason: err.Error()})
	}
	return out
}

// CallSingle calls one named provider.
func (c *Caller) CallSingle(ctx context.Context, client provider.Client, prompt string, opts provider.Options) (provider.Response, error) {
	if err := provider.ValidatePrompt(prompt, c.maxPromptTokens); err != nil {
		return provider.Response{}, err
	}
	return c.invoke(ctx, client, prompt, opts)
}

// FallbackResult is a successful fallback call. Attempts lists the providers
// that failed before Response was obtained, in attempt order.
type FallbackResult struct {
	Response provider.Response `json:"response"`
	Attempts []Attempt         `json:"attempts,omitempty"`
}

// CallWithFallback tries providers in order until one succeeds. A rate-limited
// provider is moved behind the remaining ones and gets one more attempt at the end.
func (c *Caller) CallWithFallback(ctx context.Context, prompt string, opts provider.Options, preferred []provider.Client) (FallbackResult, error) {
	if err := provider.ValidatePrompt(prompt, c.maxPromptTokens); err != nil {
		return FallbackResult{}, err
	}
	queue := c.ResolveOrder(preferred, opts.AgentType)
	if len(queue) == 0 {
		return FallbackResult{}, ErrNoProviders
	}
	requeued := make(map[provider.Client]bool)
	var attempts []Attempt
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			attempts = append(attempts, Attempt{Provider: queue[0], Err: err, Reason: err.Error()})
			break
		}
		name := queue[0]
		queue = queue[1:]
		start := time.Now()
		resp, err := c.invoke(ctx, name, prompt, opts)
		if err == nil {
			return FallbackResult{Response: resp, Attempts: attempts}, nil
		}
		attempts = append(attempts, Attempt{Provider: name, Err: err, Reason: err.Error(), Latency: time.Since(start)})
		if provider.IsRateLimit(err) && !requeued[name] {
			requeued[name] = true
			queue = append(queue, name)
		}
		c.logger.Printf("fallback: %s failed (%v), %d candidates left", name, err, len(queue))
	}
	return FallbackResult{Attempts: attempts}, &AllProvidersFailedError{Attempts: attempts}
}

// EnsembleOptions configures a parallel multi-provider call.
type EnsembleOptions struct {
	Options      provider.Options
	Providers    []provider.Client
	MinProviders int
	Aggregation  Aggregation
	// Timeout bounds each provider call independently; 0 leaves only ctx.
	Timeout time.Duration
}

// CallEnsemble fans the prompt out to every selected provider in parallel and
// aggregates the successes. Fewer than MinProviders successes yields an
// InsufficientProvidersError carrying the partial results. Explicitly requested
// providers that are not registered are reported as failures.
func (c *Caller) CallEnsemble(ctx context.Context, prompt string, eo EnsembleOptions) (EnsembleResult, error) {
	if err := provider.ValidatePrompt(prompt, c.maxPromptTokens); err != nil {
		return EnsembleResult{}, err
	}
	strategy := eo.Aggregation
	if strategy == "" {
		strategy = AggregateConsensus
	}
	order := c.ResolveOrder(eo.Providers, eo.Options.AgentType)
	missing := c.unregistered(eo.Providers)
	requested := len(order) + len(missing)
	if len(order) == 0 {
		return EnsembleResult{Strategy: strategy, Failures: missing, Requested: requested}, ErrNoProviders
	}
	minProviders := eo.MinProviders
	if minProviders <= 0 {
		minProviders = 1
	}

	ctx, span := llmTracer.Start(ctx, "llm.ensemble")
	defer span.End()
	span.SetAttributes(
		attribute.Int("ensemble.providers", len(order)),
		attribute.Int("ensemble.min_providers", minProviders),
		attribute.String("ensemble.strategy", string(strategy)),
	)

	type outcome struct {
		resp    provider.Response
		err     error
		latency time.Duration
	}
	outcomes := make([]outcome, len(order))
	var g errgroup.Group
	for i, name := range order {
		g.Go(func() error {
			callCtx := ctx
			if eo.Timeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(ctx, eo.Timeout)
				defer cancel()
			}
			start := time.Now()
			resp, err := c.invoke(callCtx, name, prompt, eo.Options)
			outcomes[i] = outcome{resp: resp, err: err, latency: time.Since(start)}
			return nil
		})
	}
	_ = g.Wait()

	var successes []provider.Response
	failures := append([]Attempt(nil), missing...)
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, Attempt{Provider: order[i], Err: o.err, Reason: o.err.Error(), Latency: o.latency})
			continue
		}
		successes = append(successes, o.resp)
	}
	if len(successes) < minProviders {
		err := &InsufficientProvidersError{Required: minProviders, Successes: successes, Failures: failures}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return EnsembleResult{Strategy: strategy, Responses: successes, Failures: failures, Requested: requested}, err
	}
	res := aggregate(strategy, successes)
	res.Failures = failures
	res.Requested = requested
	span.SetAttributes(attribute.Int("ensemble.succeeded", len(successes)), attribute.Float64("ensemble.agreement", res.Agreement))
	return res, nil
}

// invoke performs one provider call and records its health outcome.
func (c *Caller) invoke(ctx context.Context, name provider.Client, prompt string, opts provider.Options) (provider.Response, error) {
	p, ok := c.providers[name]
	if !ok {
		return provider.Response{}, &provider.ProviderError{Provider: name, Message: "provider not registered"}
	}
	ctx, span := llmTracer.Start(ctx, "llm.call")
	defer span.End()
	span.SetAttributes(attribute.String("llm.provider", string(name)), attribute.String("llm.agent_type", opts.AgentType))

	start := time.Now()
	resp, err := p.Call(ctx, prompt, opts)
	latency := time.Since(start)
	if err != nil {
		c.health.RecordFailure(name, err)
		c.observe(name, outcomeFor(err), latency)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return provider.Response{}, err
	}
	c.health.RecordSuccess(name)
	c.observe(name, "success", latency)
	if resp.Provider == "" {
		resp.Provider = name
	}
	if resp.Usage.Latency == 0 {
		resp.Usage.Latency = latency
	}
	return resp, nil
}

func (c *Caller) observe(name provider.Client, outcome string, d time.Duration) {
	if c.observer != nil {
		c.observer.ObserveProviderCall(name, outcome, d)
	}
}

func outcomeFor(err error) string {
	switch {
	case provider.IsRateLimit(err):
		return "rate_limited"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return "timeout"
	default:
		return "error"
	}
}
