package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Run statuses mirror the orchestrator state machine.
const (
	RunStatusInitializing = "initializing"
	RunStatusPlanning     = "planning"
	RunStatusExecuting    = "executing"
	RunStatusSynthesizing = "synthesizing"
	RunStatusCompleted    = "completed"
	RunStatusFailed       = "failed"
	RunStatusCancelled    = "cancelled"
)

// Agent statuses.
const (
	AgentStatusPending   = "pending"
	AgentStatusActive    = "active"
	AgentStatusCompleted = "completed"
	AgentStatusFailed    = "failed"
	AgentStatusSkipped   = "skipped"
)

// Log severities.
const (
	SeverityDebug = "debug"
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityError = "error"
)

var ErrNotFound = errors.New("record not found")

// Run is the persisted view of one orchestration.
type Run struct {
	ID            string          `json:"id"`
	Query         string          `json:"query"`
	Status        string          `json:"status"`
	Iteration     int             `json:"iteration"`
	MaxIterations int             `json:"max_iterations"`
	Config        json.RawMessage `json:"config,omitempty"`
	Error         string          `json:"error,omitempty"`
	FinalReport   json.RawMessage `json:"final_report,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty"`
}

// Terminal reports whether the run can no longer change state.
func (r Run) Terminal() bool {
	switch r.Status {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// Agent is one tier job. ParentID is empty for micro agents.
type Agent struct {
	ID         string     `json:"id"`
	RunID      string     `json:"run_id"`
	ParentID   string     `json:"parent_id,omitempty"`
	Tier       string     `json:"tier"`
	Iteration  int        `json:"iteration"`
	ItemID     string     `json:"item_id,omitempty"`
	Status     string     `json:"status"`
	Confidence float64    `json:"confidence"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Result holds a completed agent's output.
type Result struct {
	ID         string          `json:"id"`
	RunID      string          `json:"run_id"`
	AgentID    string          `json:"agent_id"`
	Tier       string          `json:"tier"`
	Iteration  int             `json:"iteration"`
	Output     json.RawMessage `json:"output"`
	Confidence float64         `json:"confidence"`
	CreatedAt  time.Time       `json:"created_at"`
}

type LogEntry struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists run, agent, result and log records.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	UpdateRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns newest first; empty statuses matches every run.
	ListRuns(ctx context.Context, statuses []string, limit int) ([]Run, error)
	UpsertAgent(ctx context.Context, agent Agent) error
	ListAgents(ctx context.Context, runID string) ([]Agent, error)
	SaveResult(ctx context.Context, res Result) error
	// ListResults filters by tier when tier is non-empty.
	ListResults(ctx context.Context, runID, tier string) ([]Result, error)
	AppendLog(ctx context.Context, entry LogEntry) error
	// ListLogs returns the most recent limit entries in chronological order; limit <= 0 returns all.
	ListLogs(ctx context.Context, runID string, limit int) ([]LogEntry, error)
}
