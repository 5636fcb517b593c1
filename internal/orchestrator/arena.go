package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/internal/store"
)

func agentTerminal(status string) bool {
	switch status {
	case store.AgentStatusCompleted, store.AgentStatusFailed, store.AgentStatusSkipped:
		return true
	}
	return false
}

// newAgent registers a pending agent in the run's arena and persists it.
func (o *Orchestrator) newAgent(persist context.Context, r *run, tier agents.Tier, iter int, itemID, parentID string) string {
	a := &store.Agent{
		ID:        uuid.NewString(),
		RunID:     r.record.ID,
		ParentID:  parentID,
		Tier:      string(tier),
		Iteration: iter,
		ItemID:    itemID,
		Status:    store.AgentStatusPending,
	}
	r.mu.Lock()
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	err := o.store.UpsertAgent(persist, *a)
	r.mu.Unlock()
	if err != nil {
		o.logger.Printf("warn: run %s: persist agent %s: %v", a.RunID, a.ID, err)
	}
	return a.ID
}

// updateAgent applies fn unless the agent already reached a terminal status.
func (o *Orchestrator) updateAgent(persist context.Context, r *run, id string, fn func(a *store.Agent)) bool {
	r.mu.Lock()
	a, ok := r.agents[id]
	if !ok || agentTerminal(a.Status) {
		r.mu.Unlock()
		return false
	}
	fn(a)
	err := o.store.UpsertAgent(persist, *a)
	r.mu.Unlock()
	if err != nil {
		o.logger.Printf("warn: run %s: persist agent %s: %v", r.record.ID, id, err)
	}
	return true
}

func (o *Orchestrator) markActive(persist context.Context, r *run, id string) {
	o.updateAgent(persist, r, id, func(a *store.Agent) {
		now := time.Now().UTC()
		a.Status = store.AgentStatusActive
		a.StartedAt = &now
	})
}

func (o *Orchestrator) markFailed(persist context.Context, r *run, id string, cause error) {
	status := store.AgentStatusFailed
	if r.cancelled.Load() && errors.Is(cause, context.Canceled) {
		status = store.AgentStatusSkipped
	}
	var tier string
	if !o.updateAgent(persist, r, id, func(a *store.Agent) {
		now := time.Now().UTC()
		a.Status = status
		a.Error = cause.Error()
		a.FinishedAt = &now
		tier = a.Tier
	}) {
		return
	}
	severity := store.SeverityError
	if tier == string(agents.TierMicro) || status == store.AgentStatusSkipped {
		// micro failures are judged against the wave tolerance
		severity = store.SeverityWarn
	}
	o.logf(persist, r, severity, id, "%s agent %s: %v", tier, status, cause)
}

// markCompleted records the agent's output as a result and as an artifact.
// Provider failures the call layer recovered from are logged against the agent.
func (o *Orchestrator) markCompleted(persist context.Context, r *run, id string, conf float64, output interface{}, key string, recovered []llm.Attempt) {
	var (
		tier string
		iter int
	)
	if !o.updateAgent(persist, r, id, func(a *store.Agent) {
		now := time.Now().UTC()
		a.Status = store.AgentStatusCompleted
		a.Confidence = conf
		a.FinishedAt = &now
		tier, iter = a.Tier, a.Iteration
	}) {
		return
	}
	for _, f := range recovered {
		o.logf(persist, r, store.SeverityWarn, id, "%s agent: provider %s failed (recovered): %s", tier, f.Provider, f.Reason)
	}
	raw, err := json.Marshal(output)
	if err != nil {
		o.logf(persist, r, store.SeverityError, id, "encode %s output: %v", tier, err)
		return
	}
	if err := o.store.SaveResult(persist, store.Result{
		RunID:      r.record.ID,
		AgentID:    id,
		Tier:       tier,
		Iteration:  iter,
		Output:     raw,
		Confidence: conf,
	}); err != nil {
		o.logf(persist, r, store.SeverityError, id, "save %s result: %v", tier, err)
	}
	o.writeArtifact(persist, r, id, key, json.RawMessage(raw), artifact.ModeOverwrite)
}
