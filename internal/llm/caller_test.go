package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
	"pgregory.net/rapid"
)

type stubProvider struct {
	name  provider.Client
	text  string
	conf  float64
	err   error
	delay time.Duration
	calls int32
}

func (s *stubProvider) Name() provider.Client { return s.name }

func (s *stubProvider) Call(ctx context.Context, prompt string, opts provider.Options) (provider.Response, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return provider.Response{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return provider.Response{}, s.err
	}
	return provider.Response{Provider: s.name, Text: s.text, Confidence: s.conf}, nil
}

func quietCaller(ps ...provider.Provider) *Caller {
	return NewCaller(ps, WithLogger(log.New(io.Discard, "", 0)))
}

func TestFallbackSkipsRateLimitedProvider(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI, err: &provider.RateLimitError{Provider: provider.OpenAI}}
	b := &stubProvider{name: provider.Anthropic, text: "from b", conf: 0.8}
	c := quietCaller(a, b)

	res, err := c.CallWithFallback(context.Background(), "prompt", provider.Options{}, []provider.Client{provider.OpenAI, provider.Anthropic})
	if err != nil {
		t.Fatalf("CallWithFallback: %v", err)
	}
	if resp := res.Response; resp.Provider != provider.Anthropic || resp.Text != "from b" {
		t.Fatalf("expected B's response, got %+v", resp)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Provider != provider.OpenAI || !provider.IsRateLimit(res.Attempts[0].Err) {
		t.Fatalf("expected A's rate limit to be reported, got %+v", res.Attempts)
	}
	if got := c.Health().Get(provider.OpenAI).ConsecutiveFailures; got != 1 {
		t.Fatalf("expected A failure count 1, got %d", got)
	}
	if got := c.Health().Get(provider.Anthropic).ConsecutiveFailures; got != 0 {
		t.Fatalf("expected B failure count 0, got %d", got)
	}
}

func TestFallbackAllFailListsAttemptsInOrder(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI, err: &provider.RateLimitError{Provider: provider.OpenAI}}
	b := &stubProvider{name: provider.Anthropic, err: &provider.ProviderError{Provider: provider.Anthropic, StatusCode: 500, Message: "down"}}
	c := quietCaller(a, b)

	_, err := c.CallWithFallback(context.Background(), "prompt", provider.Options{}, []provider.Client{provider.OpenAI, provider.Anthropic})
	var all *AllProvidersFailedError
	if !errors.As(err, &all) {
		t.Fatalf("expected AllProvidersFailedError, got %v", err)
	}
	want := []provider.Client{provider.OpenAI, provider.Anthropic, provider.OpenAI}
	if len(all.Attempts) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(all.Attempts))
	}
	for i, w := range want {
		if all.Attempts[i].Provider != w {
			t.Fatalf("attempt %d: expected %s, got %s", i, w, all.Attempts[i].Provider)
		}
	}
	if atomic.LoadInt32(&b.calls) != 1 {
		t.Fatalf("non-rate-limit failures must not be retried, got %d calls", b.calls)
	}
}

func TestValidationStopsBeforeProviders(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI, text: "x", conf: 1}
	c := NewCaller([]provider.Provider{a}, WithMaxPromptTokens(2), WithLogger(log.New(io.Discard, "", 0)))

	if _, err := c.CallWithFallback(context.Background(), "", provider.Options{}, nil); !provider.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := c.CallEnsemble(context.Background(), "this prompt is far too long", EnsembleOptions{}); !provider.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if atomic.LoadInt32(&a.calls) != 0 {
		t.Fatal("provider must not be called for invalid prompts")
	}
}

func TestDegradedProvidersMoveLast(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI}
	b := &stubProvider{name: provider.Anthropic}
	c := quietCaller(a, b)
	for i := 0; i < DegradedAfter; i++ {
		c.Health().RecordFailure(provider.OpenAI, errors.New("x"))
	}
	if c.Health().IsDegraded(provider.OpenAI) {
		t.Fatal("provider should not be degraded at the threshold")
	}
	c.Health().RecordFailure(provider.OpenAI, errors.New("x"))
	if !c.Health().IsDegraded(provider.OpenAI) {
		t.Fatal("provider should be degraded past the threshold")
	}
	order := c.ResolveOrder([]provider.Client{provider.OpenAI, provider.Anthropic}, "")
	if len(order) != 2 || order[0] != provider.Anthropic || order[1] != provider.OpenAI {
		t.Fatalf("expected degraded provider last but present, got %v", order)
	}
	c.ResetHealth(provider.OpenAI)
	order = c.ResolveOrder([]provider.Client{provider.OpenAI, provider.Anthropic}, "")
	if order[0] != provider.OpenAI {
		t.Fatalf("expected reset provider back in front, got %v", order)
	}
}

func TestSuccessResetsFailures(t *testing.T) {
	h := NewHealthRegistry(nil)
	h.RecordFailure(provider.Gemini, errors.New("a"))
	h.RecordFailure(provider.Gemini, errors.New("b"))
	h.RecordSuccess(provider.Gemini)
	got := h.Get(provider.Gemini)
	if got.ConsecutiveFailures != 0 || got.Status != StatusHealthy || got.LastSuccess.IsZero() {
		t.Fatalf("unexpected health after success: %+v", got)
	}
}

func TestHealthUpdatesAreAtomic(t *testing.T) {
	h := NewHealthRegistry(nil)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.RecordFailure(provider.OpenAI, errors.New("x"))
		}()
	}
	wg.Wait()
	if got := h.Get(provider.OpenAI).ConsecutiveFailures; got != 200 {
		t.Fatalf("expected 200 failures, got %d", got)
	}
}

func TestEnsembleTolerance(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI, text: "gap in data", conf: 0.7}
	b := &stubProvider{name: provider.Anthropic, err: errors.New("down")}
	g := &stubProvider{name: provider.Gemini, text: "gap in data sets", conf: 0.9}
	c := quietCaller(a, b, g)
	all := []provider.Client{provider.OpenAI, provider.Anthropic, provider.Gemini}

	res, err := c.CallEnsemble(context.Background(), "p", EnsembleOptions{Providers: all, MinProviders: 2, Aggregation: AggregateBest})
	if err != nil {
		t.Fatalf("CallEnsemble: %v", err)
	}
	if res.Final == nil || res.Final.Provider != provider.Gemini {
		t.Fatalf("expected best=gemini, got %+v", res.Final)
	}
	if len(res.Failures) != 1 || res.Failures[0].Provider != provider.Anthropic {
		t.Fatalf("expected one anthropic failure, got %+v", res.Failures)
	}

	_, err = c.CallEnsemble(context.Background(), "p", EnsembleOptions{Providers: all, MinProviders: 3})
	var insufficient *InsufficientProvidersError
	if !errors.As(err, &insufficient) {
		t.Fatalf("expected InsufficientProvidersError, got %v", err)
	}
	if len(insufficient.Successes) != 2 {
		t.Fatalf("expected the 2 partial successes, got %d", len(insufficient.Successes))
	}
}

func TestEnsembleTimeoutIsPerProvider(t *testing.T) {
	slow := &stubProvider{name: provider.OpenAI, text: "late", conf: 1, delay: time.Second}
	fast := &stubProvider{name: provider.Gemini, text: "on time", conf: 0.5}
	c := quietCaller(slow, fast)

	start := time.Now()
	res, err := c.CallEnsemble(context.Background(), "p", EnsembleOptions{
		Providers:   []provider.Client{provider.OpenAI, provider.Gemini},
		Aggregation: AggregateAll,
		Timeout:     30 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("CallEnsemble: %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("slow provider was not cut off by its timeout")
	}
	if len(res.Responses) != 1 || res.Responses[0].Provider != provider.Gemini {
		t.Fatalf("expected only the fast response, got %+v", res.Responses)
	}
	if res.Final != nil {
		t.Fatal("all-strategy must not select a final response")
	}
}

func TestBestTieUsesPriorityOrder(t *testing.T) {
	res := aggregate(AggregateBest, []provider.Response{
		{Provider: provider.Anthropic, Text: "a", Confidence: 0.8},
		{Provider: provider.OpenAI, Text: "b", Confidence: 0.8},
	})
	if res.Final.Provider != provider.Anthropic {
		t.Fatalf("expected first provider to win the tie, got %s", res.Final.Provider)
	}
}

func TestConsensusPrefersAgreeingResponses(t *testing.T) {
	res := aggregate(AggregateConsensus, []provider.Response{
		{Provider: provider.OpenAI, Text: "missing longitudinal cohort studies", Confidence: 0.7},
		{Provider: provider.Anthropic, Text: "missing longitudinal cohort studies in europe", Confidence: 0.7},
		{Provider: provider.Gemini, Text: "quantum entanglement of bananas", Confidence: 0.95},
	})
	if res.Final.Provider == provider.Gemini {
		t.Fatal("outlier should lose consensus despite higher confidence")
	}
	if res.Agreement <= 0 || res.Agreement >= 1 {
		t.Fatalf("expected partial agreement, got %v", res.Agreement)
	}
	if len(res.Scores) != 3 {
		t.Fatalf("expected 3 adjusted scores, got %d", len(res.Scores))
	}
}

func TestEnsembleMinProvidersProperty(t *testing.T) {
	clients := []provider.Client{provider.OpenAI, provider.Anthropic, provider.Gemini}
	rapid.Check(t, func(rt *rapid.T) {
		var ps []provider.Provider
		succeeded := 0
		for i, name := range clients {
			ok := rapid.Bool().Draw(rt, fmt.Sprintf("ok%d", i))
			sp := &stubProvider{name: name, text: "t", conf: 0.5}
			if !ok {
				sp.err = errors.New("fail")
			} else {
				succeeded++
			}
			ps = append(ps, sp)
		}
		minP := rapid.IntRange(1, 3).Draw(rt, "min")
		c := quietCaller(ps...)
		res, err := c.CallEnsemble(context.Background(), "p", EnsembleOptions{Providers: clients, MinProviders: minP, Aggregation: AggregateAll})
		if succeeded < minP {
			var insufficient *InsufficientProvidersError
			if !errors.As(err, &insufficient) {
				rt.Fatalf("expected InsufficientProvidersError with %d/%d, got %v", succeeded, minP, err)
			}
			if len(insufficient.Successes) != succeeded {
				rt.Fatalf("partial results mismatch: %d vs %d", len(insufficient.Successes), succeeded)
			}
			return
		}
		if err != nil {
			rt.Fatalf("unexpected error with %d/%d: %v", succeeded, minP, err)
		}
		if len(res.Responses) != succeeded {
			rt.Fatalf("expected %d responses, got %d", succeeded, len(res.Responses))
		}
	})
}

func TestEnsembleReportsUnregisteredProviders(t *testing.T) {
	a := &stubProvider{name: provider.OpenAI, text: "gap", conf: 0.8}
	c := quietCaller(a)

	res, err := c.CallEnsemble(context.Background(), "p", EnsembleOptions{
		Providers: []provider.Client{provider.OpenAI, provider.Gemini, provider.Gemini},
	})
	if err != nil {
		t.Fatalf("CallEnsemble: %v", err)
	}
	if res.Requested != 2 {
		t.Fatalf("expected 2 requested providers, got %d", res.Requested)
	}
	if len(res.Failures) != 1 || res.Failures[0].Provider != provider.Gemini {
		t.Fatalf("expected gemini reported as failed, got %+v", res.Failures)
	}

	res, err = c.CallEnsemble(context.Background(), "p", EnsembleOptions{Providers: []provider.Client{provider.Anthropic}})
	if !errors.Is(err, ErrNoProviders) {
		t.Fatalf("expected ErrNoProviders, got %v", err)
	}
	if res.Requested != 1 || len(res.Failures) != 1 {
		t.Fatalf("expected the unregistered provider in the result, got %+v", res)
	}
}
