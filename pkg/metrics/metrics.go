// Package metrics exports cache and energy counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/greencache-ai/greencache/pkg/models"
)

const namespace = "greencache"

// Energy path labels.
const (
	PathLookup = "lookup"
	PathLLM    = "llm"
)

// OutcomeUncached labels the latency of runs that bypassed the cache.
const OutcomeUncached = "uncached"

// Metrics holds the Prometheus collectors for one router.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
	failures  *prometheus.CounterVec
	energyWh  *prometheus.CounterVec
	carbonG   *prometheus.CounterVec
	savedWh   prometheus.Counter
	latency   *prometheus.HistogramVec
	entries   prometheus.GaugeFunc
}

// New registers the collectors on reg. entries reports the current cache
// size and may be nil.
func New(reg prometheus.Registerer, entries func() int) (*Metrics, error) {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Queries answered from the semantic cache.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Queries that went upstream.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted to make room.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_failures_total",
			Help:      "Failed queries by reason.",
		}, []string{"reason"}),
		energyWh: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "energy_wh_total",
			Help:      "Energy consumed in watt-hours by path.",
		}, []string{"path"}),
		carbonG: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "carbon_grams_total",
			Help:      "Grams of CO2 emitted by path.",
		}, []string{"path"}),
		savedWh: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "energy_saved_wh_total",
			Help:      "Estimated watt-hours avoided by cache hits.",
		}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_latency_seconds",
			Help:      "End-to-end query latency by outcome.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		entries: prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_entries",
			Help:      "Entries currently cached.",
		}, func() float64 {
			if entries == nil {
				return 0
			}
			return float64(entries())
		}),
	}

	for _, c := range []prometheus.Collector{
		m.hits, m.misses, m.evictions, m.failures, m.energyWh, m.carbonG, m.savedWh, m.latency, m.entries,
	} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "register metrics")
		}
	}
	return m, nil
}

// Record implements the router's event sink. Uncached comparison runs add
// energy and failures but not cache hits or misses.
func (m *Metrics) Record(_ context.Context, ev models.QueryEvent) error {
	if ev.Failed() {
		reason := ev.Reason
		if reason == "" {
			reason = models.ReasonInternal
		}
		m.failures.WithLabelValues(reason).Inc()
	}

	outcome := string(ev.Outcome)
	switch {
	case ev.Uncached:
		outcome = OutcomeUncached
	case ev.Failed():
		m.misses.Inc()
	case ev.Outcome == models.OutcomeHit:
		m.hits.Inc()
		m.savedWh.Add(ev.SavedWh)
	default:
		m.misses.Inc()
	}

	m.energyWh.WithLabelValues(PathLookup).Add(ev.Lookup.EnergyWh)
	m.carbonG.WithLabelValues(PathLookup).Add(ev.Lookup.CarbonG)
	m.energyWh.WithLabelValues(PathLLM).Add(ev.LLM.EnergyWh)
	m.carbonG.WithLabelValues(PathLLM).Add(ev.LLM.CarbonG)

	m.latency.WithLabelValues(outcome).Observe(ev.LatencyMs / 1000)
	return nil
}

// Evicted counts a cache eviction. It matches the cache's evict hook.
func (m *Metrics) Evicted(models.CacheEntry) {
	m.evictions.Inc()
}

// Handler serves the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
