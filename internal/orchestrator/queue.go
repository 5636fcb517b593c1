package orchestrator

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// QueueStats is a point-in-time view of one tier queue.
type QueueStats struct {
	Tier        string `json:"tier"`
	Concurrency int    `json:"concurrency"`
	Active      int64  `json:"active"`
	Waiting     int64  `json:"waiting"`
	Completed   int64  `json:"completed"`
	Failed      int64  `json:"failed"`
	TimedOut    int64  `json:"timed_out"`
}

// TierQueue bounds the number of concurrently executing jobs of one tier across all runs.
type TierQueue struct {
	tier     string
	limit    int
	sem      *semaphore.Weighted
	observer Observer

	active    atomic.Int64
	waiting   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	timedOut  atomic.Int64
}

func NewTierQueue(tier string, concurrency int, observer Observer) *TierQueue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &TierQueue{tier: tier, limit: concurrency, sem: semaphore.NewWeighted(int64(concurrency)), observer: observer}
}

func (q *TierQueue) Stats() QueueStats {
	return QueueStats{
		Tier:        q.tier,
		Concurrency: q.limit,
		Active:      q.active.Load(),
		Waiting:     q.waiting.Load(),
		Completed:   q.completed.Load(),
		Failed:      q.failed.Load(),
		TimedOut:    q.timedOut.Load(),
	}
}

func (q *TierQueue) report() {
	q.observer.ObserveQueue(q.tier, int(q.active.Load()), int(q.waiting.Load()))
}

type jobResult[T any] struct {
	val T
	err error
}

// runJob waits for a slot on q and runs fn under its own deadline. When the deadline
// passes first, runJob returns a JobTimeoutError at once and the slot is released;
// fn keeps its cancelled context and its late result is discarded.
func runJob[T any](ctx context.Context, q *TierQueue, jobID string, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	q.waiting.Add(1)
	q.report()
	err := q.sem.Acquire(ctx, 1)
	q.waiting.Add(-1)
	if err != nil {
		q.report()
		return zero, err
	}
	defer q.sem.Release(1)

	q.active.Add(1)
	q.report()
	started := time.Now()
	defer func() {
		q.active.Add(-1)
		q.report()
	}()

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	done := make(chan jobResult[T], 1)
	go func() {
		v, err := fn(jobCtx)
		done <- jobResult[T]{val: v, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			q.failed.Add(1)
			q.observer.ObserveJob(q.tier, "failed", time.Since(started))
			return zero, r.err
		}
		q.completed.Add(1)
		q.observer.ObserveJob(q.tier, "completed", time.Since(started))
		return r.val, nil
	case <-jobCtx.Done():
		q.failed.Add(1)
		if ctx.Err() != nil {
			q.observer.ObserveJob(q.tier, "cancelled", time.Since(started))
			return zero, ctx.Err()
		}
		q.timedOut.Add(1)
		q.observer.ObserveJob(q.tier, "timed_out", time.Since(started))
		return zero, &JobTimeoutError{Tier: q.tier, JobID: jobID, Timeout: timeout}
	}
}
