package orchestrator

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/convergence"
	"github.com/mohammad-safakhou/rmri/internal/llm"
)

// Observer receives queue, job and run measurements.
type Observer interface {
	ObserveQueue(tier string, active, waiting int)
	ObserveJob(tier, outcome string, d time.Duration)
	ObserveRun(status string)
}

type noopObserver struct{}

func (noopObserver) ObserveQueue(string, int, int)            {}
func (noopObserver) ObserveJob(string, string, time.Duration) {}
func (noopObserver) ObserveRun(string)                         {}

// Event is published on every state change and iteration verdict.
type Event struct {
	Type       string    `json:"type"`
	RunID      string    `json:"run_id"`
	Status     string    `json:"status"`
	Iteration  int       `json:"iteration"`
	Similarity float64   `json:"similarity,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message,omitempty"`
	At         time.Time `json:"at"`
}

const (
	EventStateChanged = "run.state_changed"
	EventIteration    = "run.iteration_completed"
)

type EventSink interface {
	Publish(ctx context.Context, ev Event) error
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event) error

func (f EventSinkFunc) Publish(ctx context.Context, ev Event) error { return f(ctx, ev) }

type MicroRunner interface {
	Run(ctx context.Context, in agents.MicroInput) (agents.MicroOutput, error)
}

type MesoRunner interface {
	Run(ctx context.Context, in agents.MesoInput) (agents.MesoOutput, error)
}

type MetaRunner interface {
	Run(ctx context.Context, in agents.MetaInput) (agents.MetaOutput, error)
}

// Workers are the tier workers of one run.
type Workers struct {
	Micro MicroRunner
	Meso  MesoRunner
	Meta  MetaRunner
}

// WorkerFactory builds the workers for a run from its resolved settings.
type WorkerFactory func(settings agents.CallSettings, cfg RunConfig) Workers

// CallerWorkers builds the standard tier workers on top of a model caller.
func CallerWorkers(caller agents.ModelCaller) WorkerFactory {
	engine := confidence.NewEngine()
	return func(settings agents.CallSettings, cfg RunConfig) Workers {
		return Workers{
			Micro: agents.NewMicro(caller, engine, settings),
			Meso:  agents.NewMeso(caller, engine, settings, cfg.ClusterCount, cfg.MinClusterSize),
			Meta:  agents.NewMeta(caller, engine, convergence.NewDetector(cfg.TopK, cfg.ConvergenceThreshold), settings),
		}
	}
}

// HealthSource exposes provider health for HealthCheck; *llm.HealthRegistry satisfies it.
type HealthSource interface {
	Snapshot() []llm.ProviderHealth
}
