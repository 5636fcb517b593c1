package metrics

import (
	"net/http"
	"time"

	"github.com/mohammad-safakhou/rmri/internal/llm"
	"github.com/mohammad-safakhou/rmri/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collectors groups the service's Prometheus instruments on a dedicated registry.
type Collectors struct {
	Registry *prometheus.Registry

	providerCalls    *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	providerDegraded *prometheus.GaugeVec
	queueActive      *prometheus.GaugeVec
	queueWaiting     *prometheus.GaugeVec
	jobs             *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	runs             *prometheus.CounterVec
}

func New() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rmri_provider_calls_total",
			Help: "Model provider call attempts by outcome.",
		}, []string{"provider", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rmri_provider_call_duration_seconds",
			Help:    "Model provider call latency.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"provider"}),
		providerDegraded: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rmri_provider_degraded",
			Help: "1 when the provider is currently degraded.",
		}, []string{"provider"}),
		queueActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rmri_queue_active",
			Help: "Jobs currently executing per tier queue.",
		}, []string{"tier"}),
		queueWaiting: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rmri_queue_waiting",
			Help: "Jobs waiting for a slot per tier queue.",
		}, []string{"tier"}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rmri_jobs_total",
			Help: "Tier jobs by terminal outcome.",
		}, []string{"tier", "outcome"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rmri_job_duration_seconds",
			Help:    "Tier job wall time.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"tier"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rmri_runs_total",
			Help: "Runs reaching a terminal status.",
		}, []string{"status"}),
	}
	c.Registry.MustRegister(
		c.providerCalls, c.providerLatency, c.providerDegraded,
		c.queueActive, c.queueWaiting, c.jobs, c.jobDuration, c.runs,
		collectors.NewGoCollector(),
	)
	return c
}

// Handler serves the registry in the Prometheus text format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.Registry, promhttp.HandlerOpts{})
}

// ObserveProviderCall implements llm.CallObserver.
func (c *Collectors) ObserveProviderCall(p provider.Client, outcome string, latency time.Duration) {
	c.providerCalls.WithLabelValues(string(p), outcome).Inc()
	c.providerLatency.WithLabelValues(string(p)).Observe(latency.Seconds())
}

// ObserveHealth is meant for llm.NewHealthRegistry's change hook.
func (c *Collectors) ObserveHealth(h llm.ProviderHealth) {
	v := 0.0
	if h.Status == llm.StatusDegraded {
		v = 1
	}
	c.providerDegraded.WithLabelValues(string(h.Provider)).Set(v)
}

func (c *Collectors) ObserveQueue(tier string, active, waiting int) {
	c.queueActive.WithLabelValues(tier).Set(float64(active))
	c.queueWaiting.WithLabelValues(tier).Set(float64(waiting))
}

func (c *Collectors) ObserveJob(tier, outcome string, d time.Duration) {
	c.jobs.WithLabelValues(tier, outcome).Inc()
	c.jobDuration.WithLabelValues(tier).Observe(d.Seconds())
}

func (c *Collectors) ObserveRun(status string) {
	c.runs.WithLabelValues(status).Inc()
}
