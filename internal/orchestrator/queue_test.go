package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingObserver struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (c *countingObserver) ObserveQueue(string, int, int) {}

func (c *countingObserver) ObserveJob(tier, outcome string, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcomes == nil {
		c.outcomes = map[string]int{}
	}
	c.outcomes[outcome]++
}

func (c *countingObserver) ObserveRun(string) {}

func TestRunJobBoundsConcurrency(t *testing.T) {
	q := NewTierQueue("micro", 2, nil)
	var (
		live, peak atomic.Int32
		wg         sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := runJob(context.Background(), q, "job", time.Second, func(ctx context.Context) (int, error) {
				n := live.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				live.Add(-1)
				return 1, nil
			})
			if err != nil {
				t.Errorf("runJob: %v", err)
			}
		}()
	}
	wg.Wait()
	if p := peak.Load(); p > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", p)
	}
	st := q.Stats()
	if st.Completed != 8 || st.Active != 0 || st.Waiting != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestRunJobTimeout(t *testing.T) {
	obs := &countingObserver{}
	q := NewTierQueue("meso", 1, obs)
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := runJob(context.Background(), q, "meso-1", 20*time.Millisecond, func(ctx context.Context) (string, error) {
		<-release
		return "late", nil
	})
	var te *JobTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected JobTimeoutError, got %v", err)
	}
	if te.Tier != "meso" || te.JobID != "meso-1" {
		t.Fatalf("unexpected timeout error: %+v", te)
	}
	if time.Since(start) > time.Second {
		t.Fatal("runJob waited for the abandoned job")
	}
	if st := q.Stats(); st.TimedOut != 1 || st.Failed != 1 || st.Active != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}

	// the slot is free again
	v, err := runJob(context.Background(), q, "meso-2", time.Second, func(ctx context.Context) (string, error) { return "ok", nil })
	if err != nil || v != "ok" {
		t.Fatalf("expected second job to run, got %q %v", v, err)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.outcomes["timed_out"] != 1 || obs.outcomes["completed"] != 1 {
		t.Fatalf("unexpected outcomes: %v", obs.outcomes)
	}
}

func TestRunJobCancelled(t *testing.T) {
	q := NewTierQueue("meta", 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := runJob(ctx, q, "meta-1", time.Minute, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if st := q.Stats(); st.TimedOut != 0 {
		t.Fatalf("cancellation must not count as timeout: %+v", st)
	}
}

func TestRunJobFailure(t *testing.T) {
	q := NewTierQueue("micro", 1, nil)
	boom := errors.New("boom")
	_, err := runJob(context.Background(), q, "m", time.Second, func(ctx context.Context) (int, error) { return 0, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if st := q.Stats(); st.Failed != 1 || st.Completed != 0 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}
