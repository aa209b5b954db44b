package energy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencache-ai/greencache/pkg/models"
)

type fakeSampler struct {
	mu    sync.Mutex
	watts []float64
	err   error
}

func (f *fakeSampler) Sample(context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	w := f.watts[0]
	if len(f.watts) > 1 {
		f.watts = f.watts[1:]
	}
	return w, nil
}

type fakeUtil struct {
	frac float64
	err  error
}

func (f fakeUtil) Utilization(context.Context) (float64, error) { return f.frac, f.err }

// stepClock advances by step on every call.
func stepClock(step time.Duration) func() time.Time {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(step)
		return t
	}
}

var testProfile = Profile{IdleWatts: 10, TDPWatts: 50, CarbonIntensity: 0.475}

func TestMeasureEstimatesFromUtilization(t *testing.T) {
	e := NewEstimator(None{}, fakeUtil{frac: 0.5}, testProfile, WithClock(stepClock(time.Hour)))

	v, rec, err := Measure(context.Background(), e, func(context.Context) (string, error) {
		return "answer", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "answer", v)
	assert.Equal(t, 30.0, rec.Watts)
	assert.Equal(t, models.ConfidenceEstimated, rec.Confidence)
	assert.Equal(t, 3600.0, rec.ElapsedSeconds)
	assert.Equal(t, 30.0, rec.EnergyWh)
	assert.InDelta(t, 14.25, rec.CarbonG, 1e-9)
}

func TestMeasureUsesDirectSamples(t *testing.T) {
	s := &fakeSampler{watts: []float64{100, 200}}
	e := NewEstimator(s, fakeUtil{frac: 0.9}, testProfile, WithClock(stepClock(36*time.Second)))

	_, rec, err := Measure(context.Background(), e, func(context.Context) (int, error) { return 1, nil })
	require.NoError(t, err)
	assert.Equal(t, 150.0, rec.Watts, "mean of the edge samples")
	assert.Equal(t, models.ConfidenceMeasured, rec.Confidence)
	assert.InDelta(t, 1.5, rec.EnergyWh, 1e-12)
}

func TestMeasureUnavailable(t *testing.T) {
	e := NewEstimator(None{}, fakeUtil{err: errors.New("no /proc")}, testProfile, WithClock(stepClock(time.Second)))

	_, rec, err := Measure(context.Background(), e, func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, 0.0, rec.Watts)
	assert.Equal(t, 0.0, rec.EnergyWh)
	assert.Equal(t, models.ConfidenceUnavailable, rec.Confidence)
}

func TestMeasureNilUtilization(t *testing.T) {
	e := NewEstimator(nil, nil, testProfile)
	_, rec, err := Measure(context.Background(), e, func(context.Context) (int, error) { return 0, nil })
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceUnavailable, rec.Confidence)
	assert.GreaterOrEqual(t, rec.EnergyWh, 0.0)
}

func TestMeasurePassesScopeError(t *testing.T) {
	e := NewEstimator(None{}, fakeUtil{frac: 0.25}, testProfile, WithClock(stepClock(time.Second)))
	boom := errors.New("boom")

	_, rec, err := Measure(context.Background(), e, func(context.Context) (string, error) { return "", boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, models.ConfidenceEstimated, rec.Confidence)
	assert.Equal(t, 20.0, rec.Watts)
}

func TestMeasureSamplesAfterCancellation(t *testing.T) {
	s := &fakeSampler{watts: []float64{40}}
	e := NewEstimator(s, nil, testProfile, WithClock(stepClock(time.Second)))
	ctx, cancel := context.WithCancel(context.Background())

	_, rec, err := Measure(ctx, e, func(ctx context.Context) (int, error) {
		cancel()
		return 0, ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.ConfidenceMeasured, rec.Confidence)
}

func TestMeasureConcurrent(t *testing.T) {
	e := NewEstimator(None{}, fakeUtil{frac: 1}, testProfile)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, rec, err := Measure(context.Background(), e, func(context.Context) (int, error) {
				time.Sleep(time.Millisecond)
				return 0, nil
			})
			assert.NoError(t, err)
			assert.Equal(t, 50.0, rec.Watts)
			assert.Greater(t, rec.ElapsedSeconds, 0.0)
		}()
	}
	wg.Wait()
}

func TestEstimatedWattsClamps(t *testing.T) {
	assert.Equal(t, 10.0, testProfile.EstimatedWatts(-1))
	assert.Equal(t, 50.0, testProfile.EstimatedWatts(3))
}

func TestCombine(t *testing.T) {
	a := testProfile.Record(36, 100*time.Second, models.ConfidenceMeasured)
	b := testProfile.Record(72, 100*time.Second, models.ConfidenceEstimated)

	c := Combine(a, b)
	assert.Equal(t, 200.0, c.ElapsedSeconds)
	assert.InDelta(t, 3.0, c.EnergyWh, 1e-12)
	assert.InDelta(t, 54.0, c.Watts, 1e-9)
	assert.InDelta(t, a.CarbonG+b.CarbonG, c.CarbonG, 1e-12)
	assert.Equal(t, models.ConfidenceEstimated, c.Confidence)

	assert.Equal(t, models.ConfidenceUnavailable, Combine().Confidence)
}
