package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrRunExists     = errors.New("run already exists")
	ErrRunNotActive  = errors.New("run is not active")
	ErrInvalidConfig = errors.New("invalid run configuration")
)

// ValidationError rejects a start request before anything is persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// JobTimeoutError marks a single job that exceeded its deadline.
type JobTimeoutError struct {
	Tier    string
	JobID   string
	Timeout time.Duration
}

func (e *JobTimeoutError) Error() string {
	return fmt.Sprintf("%s job %s timed out after %s", e.Tier, e.JobID, e.Timeout)
}

// PhaseToleranceExceeded is returned when too few jobs of a wave succeeded.
type PhaseToleranceExceeded struct {
	Phase     string
	Succeeded int
	Total     int
	Required  float64
}

func (e *PhaseToleranceExceeded) Error() string {
	return fmt.Sprintf("%s phase: %d/%d jobs succeeded, need at least %.0f%%", e.Phase, e.Succeeded, e.Total, e.Required*100)
}

// FatalOrchestrationError terminates a run.
type FatalOrchestrationError struct {
	RunID     string
	Phase     string
	Iteration int
	Err       error
}

func (e *FatalOrchestrationError) Error() string {
	return fmt.Sprintf("run %s failed in %s phase (iteration %d): %v", e.RunID, e.Phase, e.Iteration, e.Err)
}

func (e *FatalOrchestrationError) Unwrap() error { return e.Err }

// InvalidTransitionError reports a state change the machine does not allow.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}
