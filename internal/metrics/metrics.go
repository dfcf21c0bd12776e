// Package metrics holds the Prometheus collectors for the generation pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry so tests can create as many as they like.
type Collector struct {
	registry *prometheus.Registry

	Generations      *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ModelCalls       *prometheus.CounterVec
	RepairTiers      *prometheus.CounterVec
	NVDLookups       *prometheus.CounterVec
	ProbeResults     *prometheus.CounterVec
	ReferenceRefresh *prometheus.CounterVec
}

// New creates a Collector with every metric registered under namespace.
func New(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Generations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generations_total",
				Help:      "Profile generation requests by outcome",
			},
			[]string{"outcome"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
			},
			[]string{"stage"},
		),
		ModelCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "model_calls_total",
				Help:      "Generative model calls by purpose and outcome",
			},
			[]string{"purpose", "outcome"},
		),
		RepairTiers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "structuring_recovery_total",
				Help:      "Structured output recovery tier that produced a parseable record",
			},
			[]string{"tier"},
		),
		NVDLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "nvd_lookups_total",
				Help:      "Vulnerability authority lookups by status",
			},
			[]string{"status"},
		),
		ProbeResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_probes_total",
				Help:      "Source liveness probes by result",
			},
			[]string{"result"},
		),
		ReferenceRefresh: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reference_refresh_total",
				Help:      "Reference taxonomy refresh attempts by outcome",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		c.Generations,
		c.StageDuration,
		c.ModelCalls,
		c.RepairTiers,
		c.NVDLookups,
		c.ProbeResults,
		c.ReferenceRefresh,
	)
	return c
}

// Registry exposes the underlying registry (used by tests).
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// The helpers below are nil-safe so components can run without metrics.

func (c *Collector) ObserveStage(stage string, d time.Duration) {
	if c == nil {
		return
	}
	c.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (c *Collector) CountGeneration(outcome string) {
	if c == nil {
		return
	}
	c.Generations.WithLabelValues(outcome).Inc()
}

func (c *Collector) CountModelCall(purpose, outcome string) {
	if c == nil {
		return
	}
	c.ModelCalls.WithLabelValues(purpose, outcome).Inc()
}

func (c *Collector) CountRepairTier(tier string) {
	if c == nil {
		return
	}
	c.RepairTiers.WithLabelValues(tier).Inc()
}

func (c *Collector) CountNVDLookup(status string) {
	if c == nil {
		return
	}
	c.NVDLookups.WithLabelValues(status).Inc()
}

func (c *Collector) CountProbe(result string) {
	if c == nil {
		return
	}
	c.ProbeResults.WithLabelValues(result).Inc()
}

func (c *Collector) CountReferenceRefresh(outcome string) {
	if c == nil {
		return
	}
	c.ReferenceRefresh.WithLabelValues(outcome).Inc()
}
