package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{
		"llm": {"providers": {"primary": {"type": "openai", "api_key": "k", "model": "gpt-4o-mini"}}},
		"orchestrator": {"max_iterations": 2}
	}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)
	if cfg.Orchestrator.MaxIterations != 2 {
		t.Fatalf("expected max_iterations override, got %d", cfg.Orchestrator.MaxIterations)
	}
	if cfg.Orchestrator.ConvergenceThreshold != 0.70 {
		t.Fatalf("expected default threshold 0.70, got %v", cfg.Orchestrator.ConvergenceThreshold)
	}
	if cfg.Orchestrator.JobTimeout != 5*time.Minute {
		t.Fatalf("expected default job timeout, got %v", cfg.Orchestrator.JobTimeout)
	}
	if cfg.Orchestrator.MicroConcurrency != 10 {
		t.Fatalf("expected default micro concurrency 10, got %d", cfg.Orchestrator.MicroConcurrency)
	}
	if got := cfg.LLM.Routing.Meso; len(got) == 0 || got[0] != "anthropic" {
		t.Fatalf("unexpected meso routing default: %v", got)
	}
	if cfg.Storage.Artifacts.Backend != "memory" {
		t.Fatalf("expected memory artifact backend, got %q", cfg.Storage.Artifacts.Backend)
	}
}

func TestLoadConfigEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("RMRI_ORCHESTRATOR_TOP_K", "7")

	cfg := LoadConfig(path)
	if cfg.Orchestrator.TopK != 7 {
		t.Fatalf("expected env override top_k=7, got %d", cfg.Orchestrator.TopK)
	}
}

func TestValidateRejectsUnknownProviderType(t *testing.T) {
	cfg := LLMConfig{Providers: map[string]LLMProvider{"x": {Type: "cohere"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unsupported provider type")
	}
}

func TestValidateRedisArtifactsRequireHost(t *testing.T) {
	cfg := &Config{Storage: StorageConfig{Artifacts: ArtifactsConfig{Backend: "redis"}}}
	cfg.Orchestrator = cfg.Orchestrator.Normalize()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when redis backend has no host")
	}
}

func TestOrchestratorValidateBounds(t *testing.T) {
	o := OrchestratorConfig{ConvergenceThreshold: 1.5}.Normalize()
	if err := o.Validate(); err == nil {
		t.Fatal("expected threshold > 1 to be rejected")
	}
	o = OrchestratorConfig{Aggregation: "vote"}.Normalize()
	if err := o.Validate(); err == nil {
		t.Fatal("expected unknown aggregation to be rejected")
	}
}

func TestNormalizeIterationDelay(t *testing.T) {
	if d := (OrchestratorConfig{}).Normalize().IterationDelay; d != 5*time.Second {
		t.Fatalf("expected 5s default delay, got %v", d)
	}
	if d := (OrchestratorConfig{IterationDelay: -1}).Normalize().IterationDelay; d >= 0 {
		t.Fatalf("expected negative delay to be kept as disabled, got %v", d)
	}
	if d := (OrchestratorConfig{IterationDelay: time.Second}).Normalize().IterationDelay; d != time.Second {
		t.Fatalf("expected explicit delay kept, got %v", d)
	}
}
