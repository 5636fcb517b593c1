package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by the CLI and tests.
type Memory struct {
	mu      sync.RWMutex
	runs    map[string]Run
	agents  map[string]map[string]Agent
	results map[string][]Result
	logs    map[string][]LogEntry
	nextLog int64
}

func NewMemory() *Memory {
	return &Memory{
		runs:    make(map[string]Run),
		agents:  make(map[string]map[string]Agent),
		results: make(map[string][]Result),
		logs:    make(map[string][]LogEntry),
	}
}

func (m *Memory) CreateRun(_ context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id must be provided")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, run Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	run.CreatedAt = prev.CreatedAt
	run.UpdatedAt = time.Now().UTC()
	m.runs[run.ID] = run
	return nil
}

func (m *Memory) GetRun(_ context.Context, id string) (Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	run, ok := m.runs[id]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (m *Memory) ListRuns(_ context.Context, statuses []string, limit int) ([]Run, error) {
	m.mu.RLock()
	out := make([]Run, 0, len(m.runs))
	for _, r := range m.runs {
		if len(statuses) == 0 || slices.Contains(statuses, r.Status) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpsertAgent(_ context.Context, agent Agent) error {
	if agent.ID == "" || agent.RunID == "" {
		return fmt.Errorf("agent id and run id must be provided")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.agents[agent.RunID]
	if byID == nil {
		byID = make(map[string]Agent)
		m.agents[agent.RunID] = byID
	}
	byID[agent.ID] = agent
	return nil
}

func (m *Memory) ListAgents(_ context.Context, runID string) ([]Agent, error) {
	m.mu.RLock()
	out := make([]Agent, 0, len(m.agents[runID]))
	for _, a := range m.agents[runID] {
		out = append(out, a)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Iteration != out[j].Iteration {
			return out[i].Iteration < out[j].Iteration
		}
		if out[i].Tier != out[j].Tier {
			return tierOrder(out[i].Tier) < tierOrder(out[j].Tier)
		}
		if out[i].ItemID != out[j].ItemID {
			return out[i].ItemID < out[j].ItemID
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *Memory) SaveResult(_ context.Context, res Result) error {
	if res.RunID == "" || res.AgentID == "" {
		return fmt.Errorf("result requires run id and agent id")
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	if res.CreatedAt.IsZero() {
		res.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.results[res.RunID] = append(m.results[res.RunID], res)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListResults(_ context.Context, runID, tier string) ([]Result, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Result
	for _, r := range m.results[runID] {
		if tier == "" || r.Tier == tier {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) AppendLog(_ context.Context, entry LogEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("log entry requires run id")
	}
	if entry.Severity == "" {
		entry.Severity = SeverityInfo
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.mu.Lock()
	m.nextLog++
	entry.ID = m.nextLog
	m.logs[entry.RunID] = append(m.logs[entry.RunID], entry)
	m.mu.Unlock()
	return nil
}

func (m *Memory) ListLogs(_ context.Context, runID string, limit int) ([]LogEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := m.logs[runID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]LogEntry(nil), all...), nil
}

func tierOrder(t string) int {
	switch t {
	case "micro":
		return 0
	case "meso":
		return 1
	case "meta":
		return 2
	}
	return 3
}
