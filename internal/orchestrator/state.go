package orchestrator

import "github.com/mohammad-safakhou/rmri/internal/store"

// State is a run's position in the orchestration state machine.
type State string

const (
	StateInitializing State = store.RunStatusInitializing
	StatePlanning     State = store.RunStatusPlanning
	StateExecuting    State = store.RunStatusExecuting
	StateSynthesizing State = store.RunStatusSynthesizing
	StateCompleted    State = store.RunStatusCompleted
	StateFailed       State = store.RunStatusFailed
	StateCancelled    State = store.RunStatusCancelled
)

var forward = map[State]State{
	StateInitializing: StatePlanning,
	StatePlanning:     StateExecuting,
	StateExecuting:    StateSynthesizing,
	StateSynthesizing: StateCompleted,
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// CanTransition allows the single forward step, or failed/cancelled from any non-terminal state.
func (s State) CanTransition(to State) bool {
	if s.Terminal() {
		return false
	}
	if to == StateFailed || to == StateCancelled {
		return true
	}
	return forward[s] == to
}
