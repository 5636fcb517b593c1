package store

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryRunLifecycle(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	if err := m.CreateRun(ctx, Run{ID: "r1", Query: "q", Status: RunStatusInitializing}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.CreateRun(ctx, Run{ID: "r1"}); err == nil {
		t.Fatal("expected duplicate run to be rejected")
	}
	if err := m.UpdateRun(ctx, Run{ID: "r1", Query: "q", Status: RunStatusFailed, Error: "meso failed"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	run, err := m.GetRun(ctx, "r1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !run.Terminal() || run.Error != "meso failed" || run.CreatedAt.IsZero() {
		t.Fatalf("unexpected run %+v", run)
	}
	if _, err := m.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.UpdateRun(ctx, Run{ID: "missing"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}

	failed, _ := m.ListRuns(ctx, []string{RunStatusFailed}, 0)
	if len(failed) != 1 {
		t.Fatalf("expected one failed run, got %d", len(failed))
	}
	running, _ := m.ListRuns(ctx, []string{RunStatusExecuting}, 0)
	if len(running) != 0 {
		t.Fatalf("expected no executing runs, got %d", len(running))
	}
}

func TestMemoryAgentsSortedByIterationAndTier(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	agents := []Agent{
		{ID: "m2", RunID: "r", Tier: "meta", Iteration: 1},
		{ID: "x2", RunID: "r", Tier: "micro", Iteration: 2, ItemID: "b"},
		{ID: "s1", RunID: "r", Tier: "meso", Iteration: 1},
		{ID: "x1", RunID: "r", Tier: "micro", Iteration: 1, ItemID: "b"},
		{ID: "x0", RunID: "r", Tier: "micro", Iteration: 1, ItemID: "a"},
	}
	for _, a := range agents {
		if err := m.UpsertAgent(ctx, a); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	// upsert replaces in place
	if err := m.UpsertAgent(ctx, Agent{ID: "x0", RunID: "r", Tier: "micro", Iteration: 1, ItemID: "a", Status: AgentStatusCompleted}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, _ := m.ListAgents(ctx, "r")
	want := []string{"x0", "x1", "s1", "m2", "x2"}
	if len(got) != len(want) {
		t.Fatalf("expected %d agents, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
	if got[0].Status != AgentStatusCompleted {
		t.Fatalf("expected upserted status, got %q", got[0].Status)
	}
}

func TestMemoryLogsKeepMostRecent(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	for _, msg := range []string{"one", "two", "three"} {
		if err := m.AppendLog(ctx, LogEntry{RunID: "r", Message: msg}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	logs, _ := m.ListLogs(ctx, "r", 2)
	if len(logs) != 2 || logs[0].Message != "two" || logs[1].Message != "three" {
		t.Fatalf("unexpected logs %+v", logs)
	}
	if logs[0].Severity != SeverityInfo {
		t.Fatalf("expected default severity, got %q", logs[0].Severity)
	}
}

func TestMemoryResultsFilterByTier(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	_ = m.SaveResult(ctx, Result{RunID: "r", AgentID: "a", Tier: "micro"})
	_ = m.SaveResult(ctx, Result{RunID: "r", AgentID: "b", Tier: "meso"})

	all, _ := m.ListResults(ctx, "r", "")
	micro, _ := m.ListResults(ctx, "r", "micro")
	if len(all) != 2 || len(micro) != 1 || micro[0].ID == "" {
		t.Fatalf("unexpected results all=%d micro=%+v", len(all), micro)
	}
}
