package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/provider"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRecordProviderAndJobOutcomes(t *testing.T) {
	c := New()
	c.ObserveProviderCall(provider.OpenAI, "success", 200*time.Millisecond)
	c.ObserveProviderCall(provider.OpenAI, "rate_limited", 10*time.Millisecond)
	c.ObserveProviderCall(provider.OpenAI, "success", 150*time.Millisecond)
	c.ObserveJob("micro", "failed", time.Second)
	c.ObserveRun("completed")

	if got := testutil.ToFloat64(c.providerCalls.WithLabelValues("openai", "success")); got != 2 {
		t.Fatalf("expected 2 successful calls, got %v", got)
	}
	if got := testutil.ToFloat64(c.jobs.WithLabelValues("micro", "failed")); got != 1 {
		t.Fatalf("expected 1 failed micro job, got %v", got)
	}
	if got := testutil.ToFloat64(c.runs.WithLabelValues("completed")); got != 1 {
		t.Fatalf("expected 1 completed run, got %v", got)
	}
}

func TestObserveHealthTracksDegradedGauge(t *testing.T) {
	c := New()
	reg := llm.NewHealthRegistry(c.ObserveHealth)
	for i := 0; i <= llm.DegradedAfter; i++ {
		reg.RecordFailure(provider.Anthropic, nil)
	}
	if got := testutil.ToFloat64(c.providerDegraded.WithLabelValues("anthropic")); got != 1 {
		t.Fatalf("expected degraded gauge 1, got %v", got)
	}
	reg.Reset(provider.Anthropic)
	if got := testutil.ToFloat64(c.providerDegraded.WithLabelValues("anthropic")); got != 0 {
		t.Fatalf("expected degraded gauge reset to 0, got %v", got)
	}
}

func TestHandlerExposesQueueGauges(t *testing.T) {
	c := New()
	c.ObserveQueue("meso", 1, 3)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `rmri_queue_waiting{tier="meso"} 3`) {
		t.Fatalf("expected waiting gauge in output, got:\n%s", body)
	}
}
