package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencache-ai/greencache/pkg/models"
)

func newTestMetrics(t *testing.T, size int) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m, err := New(reg, func() int { return size })
	require.NoError(t, err)
	return m, reg
}

func TestRecordCountsOutcomes(t *testing.T) {
	m, _ := newTestMetrics(t, 3)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome: models.OutcomeMiss,
		Lookup:  models.EnergyRecord{EnergyWh: 0.01, CarbonG: 0.005},
		LLM:     models.EnergyRecord{EnergyWh: 2, CarbonG: 0.95},
	}))
	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome: models.OutcomeHit,
		Lookup:  models.EnergyRecord{EnergyWh: 0.01, CarbonG: 0.005},
		SavedWh: 1.99,
	}))
	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome: models.OutcomeMiss,
		Error:   "llm request timed out",
		Reason:  models.ReasonTimeout,
	}))
	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome: models.OutcomeMiss,
		Error:   "no terms in input",
		Reason:  models.ReasonEmbedding,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(models.ReasonTimeout)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(models.ReasonEmbedding)))
	assert.InDelta(t, 0.02, testutil.ToFloat64(m.energyWh.WithLabelValues(PathLookup)), 1e-12)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.energyWh.WithLabelValues(PathLLM)), 1e-12)
	assert.InDelta(t, 0.95, testutil.ToFloat64(m.carbonG.WithLabelValues(PathLLM)), 1e-12)
	assert.InDelta(t, 1.99, testutil.ToFloat64(m.savedWh), 1e-12)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.entries))
	assert.Equal(t, 2, testutil.CollectAndCount(m.latency))
}

func TestRecordUncachedRunsSkipCacheCounters(t *testing.T) {
	m, _ := newTestMetrics(t, 0)
	ctx := context.Background()

	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome:  models.OutcomeMiss,
		Uncached: true,
		LLM:      models.EnergyRecord{EnergyWh: 2, CarbonG: 0.95},
	}))
	require.NoError(t, m.Record(ctx, models.QueryEvent{
		Outcome:  models.OutcomeMiss,
		Uncached: true,
		Error:    "llm request timed out",
		Reason:   models.ReasonTimeout,
	}))

	assert.Equal(t, 0.0, testutil.ToFloat64(m.hits))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.misses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues(models.ReasonTimeout)))
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.energyWh.WithLabelValues(PathLLM)), 1e-12)
	assert.Equal(t, 1, testutil.CollectAndCount(m.latency))
}

func TestEvicted(t *testing.T) {
	m, _ := newTestMetrics(t, 0)
	m.Evicted(models.CacheEntry{ID: 1})
	m.Evicted(models.CacheEntry{ID: 2})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.evictions))
}

func TestNewRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, nil)
	require.NoError(t, err)
	_, err = New(reg, nil)
	require.Error(t, err)
}

func TestHandler(t *testing.T) {
	m, reg := newTestMetrics(t, 5)
	m.hits.Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "greencache_cache_hits_total 1")
	assert.Contains(t, string(body), "greencache_cache_entries 5")
}
