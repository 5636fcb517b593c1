package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mohammad-safakhou/rmri/config"
	"github.com/mohammad-safakhou/rmri/internal/agents"
	"github.com/mohammad-safakhou/rmri/internal/artifact"
	"github.com/mohammad-safakhou/rmri/internal/confidence"
	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/internal/store"
	"github.com/mohammad-safakhou/rmri/provider"
)

type stubMicro struct {
	fail  map[string]bool
	block bool
	start chan struct{}
	once  sync.Once
	calls int32
}

func (s *stubMicro) Run(ctx context.Context, in agents.MicroInput) (agents.MicroOutput, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.start != nil {
		s.once.Do(func() { close(s.start) })
	}
	if s.block {
		<-ctx.Done()
		return agents.MicroOutput{}, ctx.Err()
	}
	if s.fail[in.Item.ID] {
		return agents.MicroOutput{}, fmt.Errorf("model refused item %s", in.Item.ID)
	}
	return agents.MicroOutput{
		ItemID:     in.Item.ID,
		Iteration:  in.Iteration,
		Findings:   agents.Findings{Gaps: []string{"gap in " + in.Item.ID}},
		Confidence: confidence.Result{Final: 0.7},
	}, nil
}

type stubMeso struct {
	err      error
	delay    time.Duration
	mu       sync.Mutex
	received []int
}

func (s *stubMeso) Run(ctx context.Context, in agents.MesoInput) (agents.MesoOutput, error) {
	s.mu.Lock()
	s.received = append(s.received, len(in.Micro))
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-ctx.Done():
			return agents.MesoOutput{}, ctx.Err()
		case <-time.After(s.delay):
		}
	}
	if s.err != nil {
		return agents.MesoOutput{}, s.err
	}
	return agents.MesoOutput{
		RunID:      in.RunID,
		Iteration:  in.Iteration,
		Clusters:   []agents.Cluster{{ID: "c1", Theme: "retrieval"}},
		Confidence: confidence.Result{Final: 0.6},
	}, nil
}

// stubMeta returns the scripted gaps of each iteration and leaves the verdict empty.
type stubMeta struct {
	gaps     map[int][]string
	previous []bool
}

func (s *stubMeta) Run(ctx context.Context, in agents.MetaInput) (agents.MetaOutput, error) {
	s.previous = append(s.previous, in.Previous != nil)
	out := agents.MetaOutput{RunID: in.RunID, Iteration: in.Iteration, Confidence: confidence.Result{Final: 0.5 + 0.1*float64(in.Iteration)}}
	for i, d := range s.gaps[in.Iteration] {
		out.RankedGaps = append(out.RankedGaps, agents.RankedGap{Description: d, Rank: i + 1, Score: 1 - 0.1*float64(i)})
	}
	return out, nil
}

func fixedWorkers(w Workers) WorkerFactory {
	return func(agents.CallSettings, RunConfig) Workers { return w }
}

func newTestOrchestrator(t *testing.T, w Workers, opts ...Option) (*Orchestrator, *store.Memory, *artifact.Memory) {
	t.Helper()
	st := store.NewMemory()
	arts := artifact.NewMemory(0)
	opts = append([]Option{WithWorkers(fixedWorkers(w)), WithLogger(log.New(io.Discard, "", 0))}, opts...)
	return New(config.OrchestratorConfig{IterationDelay: -1}, st, arts, opts...), st, arts
}

func items(n int) []agents.Item {
	out := make([]agents.Item, n)
	for i := range out {
		out[i] = agents.Item{ID: fmt.Sprintf("item-%d", i+1), Title: "paper", Content: "abstract"}
	}
	return out
}

func waitRun(t *testing.T, o *Orchestrator, id string) RunStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := o.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return st
}

func TestRunConvergesOnStableGaps(t *testing.T) {
	meta := &stubMeta{gaps: map[int][]string{
		1: {"missing benchmarks", "no multilingual data", "unclear evaluation"},
		2: {"missing benchmarks", "no multilingual data", "unclear evaluation"},
		3: {"something else"},
	}}
	o, st, arts := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{}, Meta: meta})
	ctx := context.Background()

	id, err := o.Start(ctx, StartRequest{Query: "gaps in retrieval", Items: items(3), Config: RunConfig{MaxIterations: 4}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}
	if status.Iteration != 2 {
		t.Fatalf("expected convergence at iteration 2, got %d", status.Iteration)
	}
	if status.Progress != 100 {
		t.Fatalf("expected progress 100, got %v", status.Progress)
	}
	if len(status.Convergence) != 2 || status.Convergence[0].Reason != "first_iteration" || !status.Convergence[1].Converged {
		t.Fatalf("unexpected convergence history: %+v", status.Convergence)
	}
	if status.Convergence[1].Similarity != 1 {
		t.Fatalf("expected similarity 1, got %v", status.Convergence[1].Similarity)
	}
	if len(meta.previous) != 2 || meta.previous[0] || !meta.previous[1] {
		t.Fatalf("expected previous synthesis only on iteration 2, got %v", meta.previous)
	}
	if got := status.Agents.ByTier["micro"]["completed"]; got != 6 {
		t.Fatalf("expected 6 completed micro agents, got %d", got)
	}

	rec, err := st.GetRun(ctx, id)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if rec.Status != store.RunStatusCompleted || len(rec.FinalReport) == 0 || rec.FinishedAt == nil {
		t.Fatalf("final record not persisted: %+v", rec)
	}
	report, err := arts.Read(ctx, artifact.ReadRequest{RunID: id, AgentID: runArtifactOwner, Key: "final_report"})
	if err != nil {
		t.Fatalf("read final_report: %v", err)
	}
	if !strings.Contains(string(report.Data), "missing benchmarks") {
		t.Fatalf("final report lacks ranked gaps: %s", report.Data)
	}
	ranked, err := arts.Read(ctx, artifact.ReadRequest{RunID: id, AgentID: runArtifactOwner, Key: "ranked_gaps", SummaryOnly: true})
	if err != nil {
		t.Fatalf("read ranked_gaps: %v", err)
	}
	if ranked.Version != 2 || ranked.Summary == nil || ranked.Summary.Length != 2 {
		t.Fatalf("expected two appended iterations, got version %d summary %+v", ranked.Version, ranked.Summary)
	}
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	meta := &stubMeta{gaps: map[int][]string{
		1: {"alpha gap"},
		2: {"beta gap"},
	}}
	o, _, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{}, Meta: meta})
	id, err := o.Start(context.Background(), StartRequest{Query: "q", Items: items(2), Config: RunConfig{MaxIterations: 2}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusCompleted || status.Iteration != 2 {
		t.Fatalf("expected completed at iteration 2, got %s at %d", status.Status, status.Iteration)
	}
	if last := status.Convergence[len(status.Convergence)-1]; last.Reason != "max_iterations_reached" {
		t.Fatalf("expected max iterations verdict, got %+v", last)
	}
}

func TestMicroFailuresWithinTolerance(t *testing.T) {
	meso := &stubMeso{}
	micro := &stubMicro{fail: map[string]bool{"item-3": true}}
	o, st, _ := newTestOrchestrator(t, Workers{Micro: micro, Meso: meso, Meta: &stubMeta{}})
	ctx := context.Background()

	id, err := o.Start(ctx, StartRequest{Query: "q", Items: items(5), Config: RunConfig{MaxIterations: 1}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}
	if len(meso.received) != 1 || meso.received[0] != 4 {
		t.Fatalf("expected meso to receive 4 micro outputs, got %v", meso.received)
	}
	if got := status.Agents.ByTier["micro"]["failed"]; got != 1 {
		t.Fatalf("expected one failed micro agent, got %d", got)
	}
	logs, err := st.ListLogs(ctx, id, 0)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	var warned bool
	for _, l := range logs {
		if l.Severity == store.SeverityWarn && strings.Contains(l.Message, "4/5 succeeded") {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("expected a warning for the partial micro wave, got %+v", logs)
	}
}

func TestMicroFailuresBeyondTolerance(t *testing.T) {
	meso := &stubMeso{}
	micro := &stubMicro{fail: map[string]bool{"item-1": true, "item-2": true, "item-3": true}}
	o, st, _ := newTestOrchestrator(t, Workers{Micro: micro, Meso: meso, Meta: &stubMeta{}})
	ctx := context.Background()

	id, err := o.Start(ctx, StartRequest{Query: "q", Items: items(5)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusFailed {
		t.Fatalf("expected failed, got %s", status.Status)
	}
	if !strings.Contains(status.Error, "2/5 jobs succeeded") {
		t.Fatalf("expected tolerance error, got %q", status.Error)
	}
	if len(meso.received) != 0 {
		t.Fatalf("meso must not run, got %v", meso.received)
	}
	rec, _ := st.GetRun(ctx, id)
	if rec.Status != store.RunStatusFailed || rec.Error == "" {
		t.Fatalf("failure not persisted: %+v", rec)
	}
}

func TestMesoFailureFailsRun(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{err: errors.New("clustering failed")}, Meta: &stubMeta{}})
	ctx := context.Background()

	id, err := o.Start(ctx, StartRequest{Query: "q", Items: items(3)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusFailed || !strings.Contains(status.Error, "clustering failed") {
		t.Fatalf("expected failed run with meso error, got %s %q", status.Status, status.Error)
	}
	if n := len(status.Agents.ByTier["meta"]); n != 0 {
		t.Fatalf("no meta agent expected, got %v", status.Agents.ByTier["meta"])
	}
	results, err := st.ListResults(ctx, id, "micro")
	if err != nil {
		t.Fatalf("ListResults: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 persisted micro results, got %d", len(results))
	}
}

func TestJobTimeoutFailsRun(t *testing.T) {
	meso := &stubMeso{delay: time.Second}
	o, _, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: meso, Meta: &stubMeta{}})
	id, err := o.Start(context.Background(), StartRequest{Query: "q", Items: items(2), Config: RunConfig{JobTimeout: 50 * time.Millisecond}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusFailed || !strings.Contains(status.Error, "timed out") {
		t.Fatalf("expected timeout failure, got %s %q", status.Status, status.Error)
	}
	if got := o.QueueStats()["meso"].TimedOut; got != 1 {
		t.Fatalf("expected one timed out meso job, got %d", got)
	}
}

func TestCancelStopsRun(t *testing.T) {
	micro := &stubMicro{block: true, start: make(chan struct{})}
	o, st, _ := newTestOrchestrator(t, Workers{Micro: micro, Meso: &stubMeso{}, Meta: &stubMeta{}})
	ctx := context.Background()

	id, err := o.Start(ctx, StartRequest{Query: "q", Items: items(4)})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	select {
	case <-micro.start:
	case <-time.After(5 * time.Second):
		t.Fatal("micro wave never started")
	}
	if err := o.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s (%s)", status.Status, status.Error)
	}
	if got := status.Agents.ByStatus["active"] + status.Agents.ByStatus["pending"]; got != 0 {
		t.Fatalf("expected no live agents after cancel, got %v", status.Agents.ByStatus)
	}
	if err := o.Cancel(id); !errors.Is(err, ErrRunNotActive) {
		t.Fatalf("expected ErrRunNotActive on second cancel, got %v", err)
	}
	rec, _ := st.GetRun(ctx, id)
	if rec.Status != store.RunStatusCancelled {
		t.Fatalf("cancel not persisted: %+v", rec)
	}
}

func TestStartValidation(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{}, Meta: &stubMeta{}})
	ctx := context.Background()
	cases := []struct {
		name string
		req  StartRequest
	}{
		{"empty query", StartRequest{Items: items(1)}},
		{"no items", StartRequest{Query: "q"}},
		{"duplicate ids", StartRequest{Query: "q", Items: []agents.Item{{ID: "a"}, {ID: "a"}}}},
		{"unknown provider", StartRequest{Query: "q", Items: items(1), Model: ModelConfig{Providers: []string{"acme"}}}},
		{"unknown mode", StartRequest{Query: "q", Items: items(1), Model: ModelConfig{Mode: "vote"}}},
	}
	for _, tc := range cases {
		if _, err := o.Start(ctx, tc.req); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		} else {
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("%s: expected ValidationError, got %T %v", tc.name, err, err)
			}
		}
	}
	_, err := o.Start(ctx, StartRequest{Query: "q", Items: items(1), Config: RunConfig{ConvergenceThreshold: 1.5}})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestStartRejectsDuplicateRunID(t *testing.T) {
	micro := &stubMicro{block: true}
	o, _, _ := newTestOrchestrator(t, Workers{Micro: micro, Meso: &stubMeso{}, Meta: &stubMeta{}})
	ctx := context.Background()
	if _, err := o.Start(ctx, StartRequest{RunID: "run-1", Query: "q", Items: items(1)}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := o.Start(ctx, StartRequest{RunID: "run-1", Query: "q", Items: items(1)}); !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	_ = o.Cancel("run-1")
	waitRun(t, o, "run-1")
}

func TestStatusFallsBackToStore(t *testing.T) {
	o, st, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{}, Meta: &stubMeta{}}, WithRetention(time.Nanosecond))
	ctx := context.Background()
	id, err := o.Start(ctx, StartRequest{Query: "q", Items: items(2), Config: RunConfig{MaxIterations: 1}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, o, id)

	// the next Start sweeps the finished run out of memory
	time.Sleep(time.Millisecond)
	next, err := o.Start(ctx, StartRequest{Query: "q2", Items: items(1), Config: RunConfig{MaxIterations: 1}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, o, next)
	if o.lookup(id) != nil {
		t.Fatal("expected finished run to be evicted")
	}
	status, err := o.Status(ctx, id)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != store.RunStatusCompleted || status.Progress != 100 || len(status.Convergence) != 1 {
		t.Fatalf("unexpected stored status: %+v", status)
	}
	if status.Agents.Total != 4 {
		t.Fatalf("expected 4 stored agents, got %d", status.Agents.Total)
	}
	if _, err := st.GetRun(ctx, id); err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if _, err := o.Status(ctx, "missing"); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestEventsFollowStateMachine(t *testing.T) {
	var (
		mu     sync.Mutex
		states []string
		iters  int
	)
	sink := EventSinkFunc(func(ctx context.Context, ev Event) error {
		mu.Lock()
		defer mu.Unlock()
		switch ev.Type {
		case EventStateChanged:
			states = append(states, ev.Status)
		case EventIteration:
			iters++
		}
		return nil
	})
	o, _, _ := newTestOrchestrator(t, Workers{Micro: &stubMicro{}, Meso: &stubMeso{}, Meta: &stubMeta{}}, WithEventSink(sink))
	id, err := o.Start(context.Background(), StartRequest{Query: "q", Items: items(1), Config: RunConfig{MaxIterations: 1}})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitRun(t, o, id)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"initializing", "planning", "executing", "synthesizing", "completed"}
	if strings.Join(states, ",") != strings.Join(want, ",") {
		t.Fatalf("expected states %v, got %v", want, states)
	}
	if iters != 1 {
		t.Fatalf("expected one iteration event, got %d", iters)
	}
}

type stubHealth struct{ degraded bool }

func (s stubHealth) Snapshot() []llm.ProviderHealth {
	st := llm.StatusHealthy
	if s.degraded {
		st = llm.StatusDegraded
	}
	return []llm.ProviderHealth{{Provider: provider.OpenAI, Status: st}}
}

func TestHealthCheckReportsDegradedProviders(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, Workers{}, WithHealthSource(stubHealth{}))
	h := o.HealthCheck()
	if h.Status != "ok" || len(h.Queues) != 3 || h.ActiveRuns != 0 {
		t.Fatalf("unexpected health: %+v", h)
	}
	if h.Queues["micro"].Concurrency != 50 {
		t.Fatalf("expected default micro concurrency 50, got %d", h.Queues["micro"].Concurrency)
	}
	o, _, _ = newTestOrchestrator(t, Workers{}, WithHealthSource(stubHealth{degraded: true}))
	if h := o.HealthCheck(); h.Status != "degraded" {
		t.Fatalf("expected degraded, got %s", h.Status)
	}
}

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateInitializing, StatePlanning, true},
		{StatePlanning, StateExecuting, true},
		{StateExecuting, StateSynthesizing, true},
		{StateSynthesizing, StateCompleted, true},
		{StateExecuting, StateCancelled, true},
		{StatePlanning, StateFailed, true},
		{StateInitializing, StateExecuting, false},
		{StateExecuting, StateCompleted, false},
		{StateCompleted, StateFailed, false},
		{StateCancelled, StatePlanning, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.ok {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.ok, got)
		}
	}
}

type tierProvider struct {
	name    provider.Client
	err     error
	replies map[string]string
}

func (p *tierProvider) Name() provider.Client { return p.name }

func (p *tierProvider) Call(ctx context.Context, prompt string, opts provider.Options) (provider.Response, error) {
	if p.err != nil {
		return provider.Response{}, p.err
	}
	return provider.Response{Provider: p.name, Text: p.replies[opts.AgentType], Confidence: 0.85, FinishReason: "stop"}, nil
}

func TestRecoveredProviderFailuresReachRunLog(t *testing.T) {
	limited := &tierProvider{name: provider.OpenAI, err: &provider.RateLimitError{Provider: provider.OpenAI}}
	working := &tierProvider{name: provider.Anthropic, replies: map[string]string{
		"micro": `{"contributions":["cohort design"],"limitations":["small sample"],"gaps":["lack of longitudinal data"],"keywords":["cohort"]}`,
		"meso":  `{"clusters":[{"id":"c1","theme":"Cohorts","summary":"s"}],"patterns":["small samples"]}`,
		"meta":  `{"gaps":[{"description":"Lack of longitudinal data","importance":8,"novelty":6,"feasibility":7,"impact":7}],"patterns":["small samples"]}`,
	}}
	quiet := log.New(io.Discard, "", 0)
	caller := llm.NewCaller([]provider.Provider{limited, working}, llm.WithLogger(quiet))
	st := store.NewMemory()
	o := New(config.OrchestratorConfig{}, st, artifact.NewMemory(0), WithWorkers(CallerWorkers(caller)), WithLogger(quiet))

	ctx := context.Background()
	id, err := o.Start(ctx, StartRequest{
		Query:  "q",
		Items:  items(2),
		Model:  ModelConfig{Providers: []string{"openai", "anthropic"}},
		Config: RunConfig{MaxIterations: 1},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	status := waitRun(t, o, id)
	if status.Status != store.RunStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", status.Status, status.Error)
	}

	logs, err := st.ListLogs(ctx, id, 0)
	if err != nil {
		t.Fatalf("ListLogs: %v", err)
	}
	var recovered int
	for _, e := range logs {
		if e.Severity == store.SeverityWarn && strings.Contains(e.Message, "openai") && strings.Contains(e.Message, "recovered") {
			if e.AgentID == "" {
				t.Fatalf("recovered failure logged without agent id: %+v", e)
			}
			recovered++
		}
	}
	if recovered == 0 {
		t.Fatalf("expected recovered openai failures in run log, got %+v", logs)
	}
}

func TestRunConfigIterationDelay(t *testing.T) {
	base := config.OrchestratorConfig{}
	if d := (RunConfig{}).withDefaults(base).IterationDelay; d != 5*time.Second {
		t.Fatalf("expected service default 5s, got %v", d)
	}
	if d := (RunConfig{IterationDelay: -1}).withDefaults(base).IterationDelay; d != 0 {
		t.Fatalf("expected negative run delay to disable pause, got %v", d)
	}
	if d := (RunConfig{}).withDefaults(config.OrchestratorConfig{IterationDelay: -1}).IterationDelay; d != 0 {
		t.Fatalf("expected disabled service delay to carry over, got %v", d)
	}
	if d := (RunConfig{IterationDelay: time.Second}).withDefaults(base).IterationDelay; d != time.Second {
		t.Fatalf("expected run delay kept, got %v", d)
	}
}

func TestModelSettingsDefaultToFallback(t *testing.T) {
	rc := RunConfig{}.withDefaults(config.OrchestratorConfig{})
	s, err := ModelConfig{}.settings(rc)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.Mode != agents.ModeFallback {
		t.Fatalf("expected fallback by default, got %s", s.Mode)
	}
	s, err = ModelConfig{Mode: "ensemble"}.settings(rc)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if s.Mode != agents.ModeEnsemble || s.Aggregation != llm.AggregateConsensus {
		t.Fatalf("expected ensemble with consensus, got %s/%s", s.Mode, s.Aggregation)
	}
}
