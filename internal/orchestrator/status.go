package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/convergence"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/internal/store"
)

// AgentCounts groups a run's agents by tier and status.
type AgentCounts struct {
	Total    int                       `json:"total"`
	ByTier   map[string]map[string]int `json:"by_tier"`
	ByStatus map[string]int            `json:"by_status"`
}

func countAgents(list []store.Agent) AgentCounts {
	c := AgentCounts{ByTier: map[string]map[string]int{}, ByStatus: map[string]int{}}
	for _, a := range list {
		c.Total++
		c.ByStatus[a.Status]++
		if c.ByTier[a.Tier] == nil {
			c.ByTier[a.Tier] = map[string]int{}
		}
		c.ByTier[a.Tier][a.Status]++
	}
	return c
}

func (c AgentCounts) terminal() int {
	return c.ByStatus[store.AgentStatusCompleted] + c.ByStatus[store.AgentStatusFailed] + c.ByStatus[store.AgentStatusSkipped]
}

// RunStatus is the polling view of a run.
type RunStatus struct {
	RunID          string             `json:"run_id"`
	Query          string             `json:"query"`
	Status         string             `json:"status"`
	Iteration      int                `json:"iteration"`
	MaxIterations  int                `json:"max_iterations"`
	Progress       float64            `json:"progress"`
	Agents         AgentCounts        `json:"agents"`
	ElapsedSeconds float64            `json:"elapsed_seconds"`
	Error          string             `json:"error,omitempty"`
	Convergence    []IterationSummary `json:"convergence,omitempty"`
	RecentLogs     []store.LogEntry   `json:"recent_logs,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
	FinishedAt     *time.Time         `json:"finished_at,omitempty"`
}

// Status reports a run from memory, or from the record store once it has been evicted.
func (o *Orchestrator) Status(ctx context.Context, runID string) (RunStatus, error) {
	if r := o.lookup(runID); r != nil {
		return o.liveStatus(ctx, r), nil
	}
	rec, err := o.store.GetRun(ctx, runID)
	if errors.Is(err, store.ErrNotFound) {
		return RunStatus{}, ErrRunNotFound
	}
	if err != nil {
		return RunStatus{}, err
	}
	list, err := o.store.ListAgents(ctx, runID)
	if err != nil {
		return RunStatus{}, err
	}
	st := RunStatus{
		RunID:         rec.ID,
		Query:         rec.Query,
		Status:        rec.Status,
		Iteration:     rec.Iteration,
		MaxIterations: rec.MaxIterations,
		Agents:        countAgents(list),
		Error:         rec.Error,
		CreatedAt:     rec.CreatedAt,
		FinishedAt:    rec.FinishedAt,
	}
	end := time.Now()
	if rec.FinishedAt != nil {
		end = *rec.FinishedAt
	}
	st.ElapsedSeconds = end.Sub(rec.CreatedAt).Seconds()
	if st.Agents.Total > 0 {
		st.Progress = percent(st.Agents.terminal(), st.Agents.Total)
	}
	if rec.Status == store.RunStatusCompleted {
		st.Progress = 100
	}
	if len(rec.FinalReport) > 0 {
		var rep FinalReport
		if json.Unmarshal(rec.FinalReport, &rep) == nil {
			st.Convergence = rep.Convergence
		}
	}
	st.RecentLogs, _ = o.store.ListLogs(ctx, runID, recentLogLimit)
	return st, nil
}

func (o *Orchestrator) liveStatus(ctx context.Context, r *run) RunStatus {
	r.mu.Lock()
	list := make([]store.Agent, 0, len(r.order))
	for _, id := range r.order {
		list = append(list, *r.agents[id])
	}
	rec := r.record
	st := RunStatus{
		RunID:         rec.ID,
		Query:         rec.Query,
		Status:        rec.Status,
		Iteration:     rec.Iteration,
		MaxIterations: rec.MaxIterations,
		Error:         rec.Error,
		Convergence:   append([]IterationSummary(nil), r.history...),
		CreatedAt:     r.started.UTC(),
		FinishedAt:    rec.FinishedAt,
	}
	end := time.Now()
	if !r.finished.IsZero() {
		end = r.finished
	}
	st.ElapsedSeconds = end.Sub(r.started).Seconds()
	planned := (len(r.items) + 2) * r.cfg.MaxIterations
	r.mu.Unlock()

	st.Agents = countAgents(list)
	st.Progress = percent(st.Agents.terminal(), planned)
	if rec.Status == store.RunStatusCompleted {
		st.Progress = 100
	}
	logs, err := o.store.ListLogs(ctx, rec.ID, recentLogLimit)
	if err == nil {
		st.RecentLogs = logs
	}
	return st
}

func percent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := float64(done) / float64(total) * 100
	return math.Min(100, math.Round(p*10)/10)
}

// Health summarizes the process for the health endpoint.
type Health struct {
	Status     string                `json:"status"`
	ActiveRuns int                   `json:"active_runs"`
	Queues     map[string]QueueStats `json:"queues"`
	Providers  []llm.ProviderHealth  `json:"providers,omitempty"`
}

func (o *Orchestrator) HealthCheck() Health {
	h := Health{Status: "ok", Queues: o.QueueStats()}
	o.mu.RLock()
	for _, r := range o.runs {
		if !r.state().Terminal() {
			h.ActiveRuns++
		}
	}
	o.mu.RUnlock()
	if o.health != nil {
		h.Providers = o.health.Snapshot()
		for _, p := range h.Providers {
			if p.Status == llm.StatusDegraded {
				h.Status = "degraded"
			}
		}
	}
	return h
}

// QueueStats returns the counters of every tier queue keyed by tier.
func (o *Orchestrator) QueueStats() map[string]QueueStats {
	out := make(map[string]QueueStats, len(o.queues))
	for tier, q := range o.queues {
		out[string(tier)] = q.Stats()
	}
	return out
}

// FinalReport is persisted on the run and as the final_report artifact.
type FinalReport struct {
	RunID           string             `json:"run_id"`
	Query           string             `json:"query"`
	Iterations      int                `json:"iterations"`
	Converged       bool               `json:"converged"`
	Reason          string             `json:"reason"`
	RankedGaps      []agents.RankedGap `json:"ranked_gaps"`
	Patterns        []string           `json:"patterns"`
	Frontiers       []agents.Frontier  `json:"frontiers"`
	Convergence     []IterationSummary `json:"convergence"`
	Confidence      float64            `json:"confidence"`
	ConfidenceLevel confidence.Level   `json:"confidence_level"`
	GeneratedAt     time.Time          `json:"generated_at"`
}

func (o *Orchestrator) synthesize(persist context.Context, r *run, verdict convergence.Verdict) error {
	if err := o.transition(persist, r, StateSynthesizing); err != nil {
		return err
	}
	r.mu.Lock()
	metas := append([]agents.MetaOutput(nil), r.metas...)
	history := append([]IterationSummary(nil), r.history...)
	r.mu.Unlock()
	if len(metas) == 0 {
		return fmt.Errorf("no meta output to synthesize")
	}
	last := metas[len(metas)-1]

	// later iterations weigh more
	values := make([]float64, len(metas))
	weights := make([]float64, len(metas))
	for i, m := range metas {
		values[i] = m.Confidence.Final
		weights[i] = float64(m.Iteration)
	}
	overall, err := confidence.AggregateConfidences(values, confidence.MethodWeightedAverage, weights)
	if err != nil {
		return err
	}

	report := FinalReport{
		RunID:           r.record.ID,
		Query:           r.record.Query,
		Iterations:      last.Iteration,
		Converged:       verdict.Converged,
		Reason:          string(verdict.Reason),
		RankedGaps:      last.RankedGaps,
		Patterns:        last.Patterns,
		Frontiers:       last.Frontiers,
		Convergence:     history,
		Confidence:      overall,
		ConfidenceLevel: confidence.LevelFor(overall),
		GeneratedAt:     time.Now().UTC(),
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode final report: %w", err)
	}
	o.writeArtifact(persist, r, runArtifactOwner, "final_report", json.RawMessage(raw), artifact.ModeOverwrite)

	r.mu.Lock()
	r.record.FinalReport = raw
	r.mu.Unlock()
	o.finish(persist, r, StateCompleted, "")
	return nil
}
