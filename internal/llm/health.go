package llm

import (
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/rmri/provider"
)

// HealthStatus is the coarse state of a provider.
type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
)

// DegradedAfter is the consecutive-failure count a provider must exceed to be degraded.
const DegradedAfter = 3

// ProviderHealth is a point-in-time copy of one provider's health.
type ProviderHealth struct {
	Provider            provider.Client `json:"provider"`
	Status              HealthStatus    `json:"status"`
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastSuccess         time.Time       `json:"last_success,omitempty"`
	LastFailure         time.Time       `json:"last_failure,omitempty"`
	LastError           string          `json:"last_error,omitempty"`
}

type healthEntry struct {
	mu sync.Mutex
	h  ProviderHealth
}

// HealthRegistry tracks provider health for the whole process.
// Updates for a single provider are serialized by that provider's lock.
type HealthRegistry struct {
	mu        sync.RWMutex
	entries   map[provider.Client]*healthEntry
	threshold int
	onChange  func(ProviderHealth)
}

// NewHealthRegistry creates an empty registry. onChange, if set, observes every update.
func NewHealthRegistry(onChange func(ProviderHealth)) *HealthRegistry {
	return &HealthRegistry{
		entries:   make(map[provider.Client]*healthEntry),
		threshold: DegradedAfter,
		onChange:  onChange,
	}
}

func (r *HealthRegistry) entry(c provider.Client) *healthEntry {
	r.mu.RLock()
	e, ok := r.entries[c]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.entries[c]; ok {
		return e
	}
	e = &healthEntry{h: ProviderHealth{Provider: c, Status: StatusHealthy}}
	r.entries[c] = e
	return e
}

// RecordSuccess resets the failure count.
func (r *HealthRegistry) RecordSuccess(c provider.Client) {
	e := r.entry(c)
	e.mu.Lock()
	e.h.ConsecutiveFailures = 0
	e.h.LastSuccess = time.Now().UTC()
	e.h.Status = StatusHealthy
	snap := e.h
	e.mu.Unlock()
	r.notify(snap)
}

// RecordFailure increments the failure count and degrades the provider past the threshold.
func (r *HealthRegistry) RecordFailure(c provider.Client, err error) {
	e := r.entry(c)
	e.mu.Lock()
	e.h.ConsecutiveFailures++
	e.h.LastFailure = time.Now().UTC()
	if err != nil {
		e.h.LastError = err.Error()
	}
	if e.h.ConsecutiveFailures > r.threshold {
		e.h.Status = StatusDegraded
	}
	snap := e.h
	e.mu.Unlock()
	r.notify(snap)
}

// Get returns the health of c (healthy if never seen).
func (r *HealthRegistry) Get(c provider.Client) ProviderHealth {
	e := r.entry(c)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.h
}

// IsDegraded reports whether c is currently degraded.
func (r *HealthRegistry) IsDegraded(c provider.Client) bool {
	return r.Get(c).Status == StatusDegraded
}

// Reset clears the health of one provider.
func (r *HealthRegistry) Reset(c provider.Client) {
	e := r.entry(c)
	e.mu.Lock()
	e.h = ProviderHealth{Provider: c, Status: StatusHealthy}
	snap := e.h
	e.mu.Unlock()
	r.notify(snap)
}

// ResetAll clears every tracked provider.
func (r *HealthRegistry) ResetAll() {
	r.mu.RLock()
	clients := make([]provider.Client, 0, len(r.entries))
	for c := range r.entries {
		clients = append(clients, c)
	}
	r.mu.RUnlock()
	for _, c := range clients {
		r.Reset(c)
	}
}

// Snapshot returns every tracked provider sorted by name.
func (r *HealthRegistry) Snapshot() []ProviderHealth {
	r.mu.RLock()
	entries := make([]*healthEntry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	out := make([]ProviderHealth, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.h)
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// Order moves degraded providers behind healthy ones, keeping relative order.
// Degraded providers are never dropped.
func (r *HealthRegistry) Order(clients []provider.Client) []provider.Client {
	healthy := make([]provider.Client, 0, len(clients))
	var degraded []provider.Client
	for _, c := range clients {
		if r.IsDegraded(c) {
			degraded = append(degraded, c)
			continue
		}
		healthy = append(healthy, c)
	}
	return append(healthy, degraded...)
}

func (r *HealthRegistry) notify(h ProviderHealth) {
	if r.onChange != nil {
		r.onChange(h)
	}
}
