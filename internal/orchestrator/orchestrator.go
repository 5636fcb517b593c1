package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/convergence"
	"github.com/mohammad-safakhou/rmri/internal/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var orchestratorTracer trace.Tracer = otel.Tracer("rmri/internal/orchestrator")

// Artifacts that belong to the run rather than to one agent are stored under this owner.
const runArtifactOwner = "run"

const (
	recentLogLimit   = 20
	defaultRetention = time.Hour
)

var errCancelled = errors.New("run cancelled")

// StartRequest describes a new run.
type StartRequest struct {
	RunID  string        `json:"run_id,omitempty"`
	Query  string        `json:"query"`
	Domain string        `json:"domain,omitempty"`
	Items  []agents.Item `json:"items"`
	Model  ModelConfig   `json:"model"`
	Config RunConfig     `json:"config"`
}

// Orchestrator drives runs through the micro, meso and meta tiers until convergence.
type Orchestrator struct {
	base      config.OrchestratorConfig
	store     store.Store
	artifacts artifact.Store
	workers   WorkerFactory
	health    HealthSource
	observer  Observer
	events    EventSink
	logger    *log.Logger
	retention time.Duration
	queues    map[agents.Tier]*TierQueue

	mu   sync.RWMutex
	runs map[string]*run
}

type Option func(*Orchestrator)

func WithWorkers(f WorkerFactory) Option { return func(o *Orchestrator) { o.workers = f } }

func WithHealthSource(h HealthSource) Option { return func(o *Orchestrator) { o.health = h } }

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithEventSink(s EventSink) Option { return func(o *Orchestrator) { o.events = s } }

func WithLogger(l *log.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithRetention controls how long finished runs stay in memory; Status falls back to the store afterwards.
func WithRetention(d time.Duration) Option { return func(o *Orchestrator) { o.retention = d } }

// New builds an orchestrator. The tier queues are shared by every run it starts.
func New(cfg config.OrchestratorConfig, st store.Store, arts artifact.Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		base:      cfg.Normalize(),
		store:     st,
		artifacts: arts,
		observer:  noopObserver{},
		logger:    log.New(os.Stdout, "[ORCH] ", log.LstdFlags),
		retention: defaultRetention,
		runs:      make(map[string]*run),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queues = map[agents.Tier]*TierQueue{
		agents.TierMicro: NewTierQueue(string(agents.TierMicro), o.base.QueueConcurrency.Micro, o.observer),
		agents.TierMeso:  NewTierQueue(string(agents.TierMeso), o.base.QueueConcurrency.Meso, o.observer),
		agents.TierMeta:  NewTierQueue(string(agents.TierMeta), o.base.QueueConcurrency.Meta, o.observer),
	}
	return o
}

// IterationSummary is the convergence record of one iteration.
type IterationSummary struct {
	Iteration      int      `json:"iteration"`
	Similarity     float64  `json:"similarity"`
	Reason         string   `json:"reason"`
	Converged      bool     `json:"converged"`
	TopGaps        []string `json:"top_gaps"`
	Confidence     float64  `json:"confidence"`
	MicroSucceeded int      `json:"micro_succeeded"`
	MicroFailed    int      `json:"micro_failed"`
}

// run is the in-memory state of one orchestration. The agents map is the
// run's arena: agents reference their parent by ID only.
type run struct {
	mu       sync.Mutex
	record   store.Run
	cfg      RunConfig
	domain   string
	items    []agents.Item
	settings agents.CallSettings
	workers  Workers
	detector *convergence.Detector
	started  time.Time
	finished time.Time

	agents   map[string]*store.Agent
	order    []string
	history  []IterationSummary
	previous *agents.MetaOutput
	metas    []agents.MetaOutput

	cancelled atomic.Bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func (r *run) state() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State(r.record.Status)
}

// Start validates the request, persists the run and executes it in the background.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if o.workers == nil {
		return "", fmt.Errorf("orchestrator has no worker factory")
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}
	cfg := req.Config.withDefaults(o.base)
	if err := cfg.validate(); err != nil {
		return "", err
	}
	settings, err := req.Model.settings(cfg)
	if err != nil {
		return "", err
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	items := append([]agents.Item(nil), req.Items...)
	sort.SliceStable(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	rawCfg, _ := json.Marshal(struct {
		Run   RunConfig   `json:"run"`
		Model ModelConfig `json:"model"`
	}{cfg, req.Model})
	r := &run{
		record: store.Run{
			ID:            req.RunID,
			Query:         req.Query,
			Status:        string(StateInitializing),
			MaxIterations: cfg.MaxIterations,
			Config:        rawCfg,
		},
		cfg:      cfg,
		domain:   req.Domain,
		items:    items,
		settings: settings,
		detector: convergence.NewDetector(cfg.TopK, cfg.ConvergenceThreshold),
		started:  time.Now(),
		agents:   make(map[string]*store.Agent),
		done:     make(chan struct{}),
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel

	o.mu.Lock()
	o.sweepLocked()
	if _, exists := o.runs[req.RunID]; exists {
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("%w: %s", ErrRunExists, req.RunID)
	}
	o.runs[req.RunID] = r
	o.mu.Unlock()

	if err := o.store.CreateRun(ctx, r.record); err != nil {
		o.mu.Lock()
		delete(o.runs, req.RunID)
		o.mu.Unlock()
		cancel()
		return "", fmt.Errorf("create run: %w", err)
	}

	o.publish(ctx, r, EventStateChanged, "")
	go o.execute(runCtx, r)
	return req.RunID, nil
}

func validateRequest(req StartRequest) error {
	if strings.TrimSpace(req.Query) == "" {
		return &ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if len(req.Items) == 0 {
		return &ValidationError{Field: "items", Reason: "at least one item is required"}
	}
	seen := make(map[string]struct{}, len(req.Items))
	for i, it := range req.Items {
		if strings.TrimSpace(it.ID) == "" {
			return &ValidationError{Field: fmt.Sprintf("items[%d].id", i), Reason: "must not be empty"}
		}
		if _, dup := seen[it.ID]; dup {
			return &ValidationError{Field: fmt.Sprintf("items[%d].id", i), Reason: fmt.Sprintf("duplicate id %q", it.ID)}
		}
		seen[it.ID] = struct{}{}
	}
	return nil
}

// sweepLocked drops finished runs older than the retention window.
func (o *Orchestrator) sweepLocked() {
	if o.retention <= 0 {
		return
	}
	cutoff := time.Now().Add(-o.retention)
	for id, r := range o.runs {
		r.mu.Lock()
		old := State(r.record.Status).Terminal() && !r.finished.IsZero() && r.finished.Before(cutoff)
		r.mu.Unlock()
		if old {
			delete(o.runs, id)
		}
	}
}

// Cancel requests cancellation. The run stops at its next phase boundary.
func (o *Orchestrator) Cancel(runID string) error {
	r := o.lookup(runID)
	if r == nil {
		return ErrRunNotFound
	}
	if r.state().Terminal() {
		return ErrRunNotActive
	}
	if r.cancelled.CompareAndSwap(false, true) {
		o.logf(context.Background(), r, store.SeverityWarn, "", "cancellation requested")
		r.cancel()
	}
	return nil
}

// Wait blocks until the run is terminal and returns its final status.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (RunStatus, error) {
	r := o.lookup(runID)
	if r == nil {
		return o.Status(ctx, runID)
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		return RunStatus{}, ctx.Err()
	}
	return o.Status(ctx, runID)
}

func (o *Orchestrator) lookup(runID string) *run {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.runs[runID]
}

func (o *Orchestrator) execute(ctx context.Context, r *run) {
	defer close(r.done)
	defer r.cancel()
	persist := context.WithoutCancel(ctx)

	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(
			attribute.String("run.id", r.record.ID),
			attribute.Int("run.items", len(r.items)),
			attribute.Int("run.max_iterations", r.cfg.MaxIterations),
		))
	defer span.End()

	err := o.drive(ctx, persist, r)
	switch {
	case err == nil:
	case r.cancelled.Load() || errors.Is(err, errCancelled):
		o.finish(persist, r, StateCancelled, "")
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logf(persist, r, store.SeverityError, "", "%v", err)
		o.finish(persist, r, StateFailed, err.Error())
	}
}

func (o *Orchestrator) drive(ctx, persist context.Context, r *run) error {
	if err := o.transition(persist, r, StatePlanning); err != nil {
		return err
	}
	r.workers = o.workers(r.settings, r.cfg)
	o.logf(persist, r, store.SeverityInfo, "", "planned %d items, up to %d iterations (threshold %.2f, top_k %d, mode %s)",
		len(r.items), r.cfg.MaxIterations, r.cfg.ConvergenceThreshold, r.cfg.TopK, r.settings.Mode)
	if err := o.checkpoint(r); err != nil {
		return err
	}
	if err := o.transition(persist, r, StateExecuting); err != nil {
		return err
	}

	for iter := 1; ; iter++ {
		if err := o.checkpoint(r); err != nil {
			return err
		}
		o.setIteration(persist, r, iter)

		micro, failed, err := o.microPhase(ctx, persist, r, iter)
		if err != nil {
			return o.fatal(r, "micro", iter, err)
		}
		if err := o.checkpoint(r); err != nil {
			return err
		}
		meso, mesoAgent, err := o.mesoPhase(ctx, persist, r, iter, micro)
		if err != nil {
			return o.fatal(r, "meso", iter, err)
		}
		if err := o.checkpoint(r); err != nil {
			return err
		}
		meta, err := o.metaPhase(ctx, persist, r, iter, meso, mesoAgent)
		if err != nil {
			return o.fatal(r, "meta", iter, err)
		}

		verdict := o.recordIteration(persist, r, iter, meta, len(micro), failed)
		if verdict.Converged || iter >= r.cfg.MaxIterations {
			return o.synthesize(persist, r, verdict)
		}
		if err := o.checkpoint(r); err != nil {
			return err
		}
		if err := pause(ctx, r.cfg.IterationDelay); err != nil {
			return errCancelled
		}
	}
}

func (o *Orchestrator) checkpoint(r *run) error {
	if r.cancelled.Load() {
		return errCancelled
	}
	return nil
}

func (o *Orchestrator) fatal(r *run, phase string, iter int, err error) error {
	if r.cancelled.Load() {
		return errCancelled
	}
	return &FatalOrchestrationError{RunID: r.record.ID, Phase: phase, Iteration: iter, Err: err}
}

func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) microPhase(ctx, persist context.Context, r *run, iter int) ([]agents.MicroOutput, int, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.micro_wave",
		trace.WithAttributes(attribute.Int("iteration", iter), attribute.Int("jobs", len(r.items))))
	defer span.End()

	q := o.queues[agents.TierMicro]
	focus := r.previous.TopDescriptions(r.cfg.TopK)
	outs := make([]*agents.MicroOutput, len(r.items))

	var g errgroup.Group
	g.SetLimit(r.cfg.MicroConcurrency)
	for i, item := range r.items {
		if r.cancelled.Load() {
			break
		}
		agentID := o.newAgent(persist, r, agents.TierMicro, iter, item.ID, "")
		in := agents.MicroInput{RunID: r.record.ID, Iteration: iter, Item: item, Query: r.record.Query, Domain: r.domain, Focus: focus}
		g.Go(func() error {
			out, err := runJob(ctx, q, agentID, r.cfg.JobTimeout, func(jctx context.Context) (agents.MicroOutput, error) {
				o.markActive(persist, r, agentID)
				return r.workers.Micro.Run(jctx, in)
			})
			if err != nil {
				o.markFailed(persist, r, agentID, err)
				return nil
			}
			o.markCompleted(persist, r, agentID, out.Confidence.Final, out, "micro_output", out.ProviderFailures)
			outs[i] = &out
			return nil
		})
	}
	_ = g.Wait()

	var ok []agents.MicroOutput
	for _, out := range outs {
		if out != nil {
			ok = append(ok, *out)
		}
	}
	sort.SliceStable(ok, func(i, j int) bool { return ok[i].ItemID < ok[j].ItemID })
	total := len(r.items)
	failed := total - len(ok)
	span.SetAttributes(attribute.Int("succeeded", len(ok)), attribute.Int("failed", failed))

	if float64(len(ok))/float64(total) < r.cfg.MinMicroSuccess || len(ok) == 0 {
		err := &PhaseToleranceExceeded{Phase: "micro", Succeeded: len(ok), Total: total, Required: r.cfg.MinMicroSuccess}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, failed, err
	}
	severity := store.SeverityInfo
	if failed > 0 {
		severity = store.SeverityWarn
	}
	o.logf(persist, r, severity, "", "iteration %d micro wave: %d/%d succeeded", iter, len(ok), total)
	return ok, failed, nil
}

func (o *Orchestrator) mesoPhase(ctx, persist context.Context, r *run, iter int, micro []agents.MicroOutput) (agents.MesoOutput, string, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.meso", trace.WithAttributes(attribute.Int("iteration", iter)))
	defer span.End()

	agentID := o.newAgent(persist, r, agents.TierMeso, iter, "", "")
	in := agents.MesoInput{RunID: r.record.ID, Iteration: iter, Query: r.record.Query, Micro: micro}
	out, err := runJob(ctx, o.queues[agents.TierMeso], agentID, r.cfg.JobTimeout, func(jctx context.Context) (agents.MesoOutput, error) {
		o.markActive(persist, r, agentID)
		return r.workers.Meso.Run(jctx, in)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.markFailed(persist, r, agentID, err)
		return agents.MesoOutput{}, agentID, err
	}
	o.markCompleted(persist, r, agentID, out.Confidence.Final, out, "meso_output", out.ProviderFailures)
	o.logf(persist, r, store.SeverityInfo, agentID, "iteration %d meso: %d clusters, %d common gaps", iter, len(out.Clusters), len(out.CommonGaps))
	return out, agentID, nil
}

func (o *Orchestrator) metaPhase(ctx, persist context.Context, r *run, iter int, meso agents.MesoOutput, mesoAgent string) (agents.MetaOutput, error) {
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator.meta", trace.WithAttributes(attribute.Int("iteration", iter)))
	defer span.End()

	agentID := o.newAgent(persist, r, agents.TierMeta, iter, "", mesoAgent)
	in := agents.MetaInput{
		RunID:         r.record.ID,
		Iteration:     iter,
		MaxIterations: r.cfg.MaxIterations,
		Query:         r.record.Query,
		Meso:          meso,
		Previous:      r.previous,
	}
	out, err := runJob(ctx, o.queues[agents.TierMeta], agentID, r.cfg.JobTimeout, func(jctx context.Context) (agents.MetaOutput, error) {
		o.markActive(persist, r, agentID)
		return r.workers.Meta.Run(jctx, in)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.markFailed(persist, r, agentID, err)
		return agents.MetaOutput{}, err
	}
	out.Convergence = o.verdictFor(r, iter, out)
	o.markCompleted(persist, r, agentID, out.Confidence.Final, out, "meta_output", out.ProviderFailures)
	return out, nil
}

// verdictFor trusts the meta worker's verdict when it was produced for this
// iteration and recomputes it otherwise.
func (o *Orchestrator) verdictFor(r *run, iter int, meta agents.MetaOutput) convergence.Verdict {
	if v := meta.Convergence; v.Iteration == iter && v.Reason != "" {
		return v
	}
	var prev []string
	if r.previous != nil {
		prev = r.previous.TopDescriptions(r.cfg.TopK)
		if prev == nil {
			prev = []string{}
		}
	}
	return r.detector.Detect(convergence.Input{
		Iteration:     iter,
		MaxIterations: r.cfg.MaxIterations,
		Current:       meta.TopDescriptions(r.cfg.TopK),
		Previous:      prev,
	})
}

func (o *Orchestrator) recordIteration(persist context.Context, r *run, iter int, meta agents.MetaOutput, succeeded, failed int) convergence.Verdict {
	v := meta.Convergence
	summary := IterationSummary{
		Iteration:      iter,
		Similarity:     v.Similarity,
		Reason:         string(v.Reason),
		Converged:      v.Converged,
		TopGaps:        meta.TopDescriptions(r.cfg.TopK),
		Confidence:     meta.Confidence.Final,
		MicroSucceeded: succeeded,
		MicroFailed:    failed,
	}
	snap := meta
	r.mu.Lock()
	r.history = append(r.history, summary)
	r.previous = &snap
	r.metas = append(r.metas, snap)
	r.mu.Unlock()

	o.writeArtifact(persist, r, runArtifactOwner, "ranked_gaps", []interface{}{map[string]interface{}{
		"iteration":   iter,
		"ranked_gaps": meta.RankedGaps,
	}}, artifact.ModeAppend)
	o.logf(persist, r, store.SeverityInfo, "", "iteration %d verdict: %s (similarity %.3f)", iter, v.Reason, v.Similarity)
	o.emit(persist, Event{
		Type:       EventIteration,
		RunID:      r.record.ID,
		Status:     string(r.state()),
		Iteration:  iter,
		Similarity: v.Similarity,
		Reason:     string(v.Reason),
	})
	return v
}

func (o *Orchestrator) setIteration(persist context.Context, r *run, iter int) {
	r.mu.Lock()
	r.record.Iteration = iter
	rec := r.record
	err := o.store.UpdateRun(persist, rec)
	r.mu.Unlock()
	if err != nil {
		o.logger.Printf("warn: run %s: persist iteration %d: %v", rec.ID, iter, err)
	}
}

// transition moves the run to a new state and persists it.
func (o *Orchestrator) transition(persist context.Context, r *run, to State) error {
	r.mu.Lock()
	from := State(r.record.Status)
	if !from.CanTransition(to) {
		r.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	r.record.Status = string(to)
	if to.Terminal() {
		now := time.Now().UTC()
		r.finished = now
		r.record.FinishedAt = &now
	}
	rec := r.record
	err := o.store.UpdateRun(persist, rec)
	r.mu.Unlock()
	if err != nil {
		o.logger.Printf("warn: run %s: persist state %s: %v", rec.ID, to, err)
	}
	if to.Terminal() {
		o.observer.ObserveRun(string(to))
	}
	o.publish(persist, r, EventStateChanged, rec.Error)
	return nil
}

func (o *Orchestrator) finish(persist context.Context, r *run, to State, errMsg string) {
	r.mu.Lock()
	if errMsg != "" {
		r.record.Error = errMsg
	}
	r.mu.Unlock()
	if err := o.transition(persist, r, to); err != nil {
		o.logger.Printf("warn: run %s: %v", r.record.ID, err)
		return
	}
	o.logf(persist, r, store.SeverityInfo, "", "run %s at iteration %d", to, r.iteration())
}

func (r *run) iteration() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Iteration
}

func (o *Orchestrator) publish(ctx context.Context, r *run, typ, msg string) {
	r.mu.Lock()
	ev := Event{Type: typ, RunID: r.record.ID, Status: r.record.Status, Iteration: r.record.Iteration, Message: msg}
	r.mu.Unlock()
	o.emit(ctx, ev)
}

func (o *Orchestrator) emit(ctx context.Context, ev Event) {
	if o.events == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := o.events.Publish(ctx, ev); err != nil {
		o.logger.Printf("warn: publish %s for run %s: %v", ev.Type, ev.RunID, err)
	}
}

// logf writes to the process log and to the run's log stream.
func (o *Orchestrator) logf(ctx context.Context, r *run, severity, agentID, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	o.logger.Printf("%s: run %s: %s", severity, r.record.ID, msg)
	if err := o.store.AppendLog(ctx, store.LogEntry{RunID: r.record.ID, AgentID: agentID, Severity: severity, Message: msg}); err != nil {
		o.logger.Printf("warn: run %s: append log: %v", r.record.ID, err)
	}
}

func (o *Orchestrator) writeArtifact(ctx context.Context, r *run, owner, key string, v interface{}, mode artifact.Mode) {
	if o.artifacts == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		o.logf(ctx, r, store.SeverityError, owner, "encode artifact %s: %v", key, err)
		return
	}
	res, err := o.artifacts.Write(ctx, artifact.WriteRequest{
		RunID:    r.record.ID,
		AgentID:  owner,
		Key:      key,
		Data:     data,
		Mode:     mode,
		Metadata: map[string]string{"iteration": fmt.Sprint(r.iteration())},
	})
	if err != nil {
		o.logf(ctx, r, store.SeverityError, owner, "write artifact %s: %v", key, err)
		return
	}
	o.logf(ctx, r, store.SeverityDebug, owner, "artifact %s v%d (%d bytes)", key, res.Version, res.SizeBytes)
}
