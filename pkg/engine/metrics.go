package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// CacheStats is implemented by the history cache
type CacheStats interface {
	Stats() (hits, misses, resets uint64)
}

// Metrics holds the engine's Prometheus collectors on a private registry.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	cycles         prometheus.Counter
	discarded      prometheus.Counter
	cycleDuration  prometheus.Histogram
	fetchErrors    *prometheus.CounterVec
	fetchedSamples prometheus.Counter
	entitiesDrawn  prometheus.Gauge
}

// NewMetrics creates and registers the engine metrics
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigraph_update_cycles_total",
			Help: "Total update cycles completed.",
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigraph_update_cycles_discarded_total",
			Help: "Update cycles whose results were discarded after shutdown or reconfiguration.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "minigraph_update_cycle_duration_seconds",
			Help:    "Histogram of update cycle durations.",
			Buckets: prometheus.DefBuckets,
		}),
		fetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "minigraph_fetch_errors_total",
			Help: "History fetch failures by entity.",
		}, []string{"entity"}),
		fetchedSamples: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "minigraph_fetched_samples_total",
			Help: "Numeric samples received from the history source.",
		}),
		entitiesDrawn: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "minigraph_entities_drawn",
			Help: "Entities with geometry in the current frame.",
		}),
	}

	m.registry.MustRegister(
		m.cycles,
		m.discarded,
		m.cycleDuration,
		m.fetchErrors,
		m.fetchedSamples,
		m.entitiesDrawn,
	)

	return m
}

// RegisterCache exposes the cache counters
func (m *Metrics) RegisterCache(stats CacheStats) {
	if m == nil || stats == nil {
		return
	}
	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "minigraph_cache_hits_total",
			Help: "History cache hits.",
		}, func() float64 {
			hits, _, _ := stats.Stats()
			return float64(hits)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "minigraph_cache_misses_total",
			Help: "History cache misses.",
		}, func() float64 {
			_, misses, _ := stats.Stats()
			return float64(misses)
		}),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "minigraph_cache_resets_total",
			Help: "History cache clears after failed writes.",
		}, func() float64 {
			_, _, resets := stats.Stats()
			return float64(resets)
		}),
	)
}

// Registry returns the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// CycleCompleted records one finished cycle
func (m *Metrics) CycleCompleted(duration time.Duration, drawn int) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(duration.Seconds())
	m.entitiesDrawn.Set(float64(drawn))
}

// CycleDiscarded records a cycle whose results were dropped
func (m *Metrics) CycleDiscarded() {
	if m == nil {
		return
	}
	m.discarded.Inc()
}

// FetchFailed records a failed history fetch
func (m *Metrics) FetchFailed(entity string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(entity).Inc()
}

// SamplesFetched records received samples
func (m *Metrics) SamplesFetched(n int) {
	if m == nil {
		return
	}
	m.fetchedSamples.Add(float64(n))
}
