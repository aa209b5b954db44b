package energy

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/greencache-ai/greencache/pkg/config"
	"github.com/greencache-ai/greencache/pkg/logging"
	"github.com/greencache-ai/greencache/pkg/models"
)

const defaultSampleTimeout = 2 * time.Second

// Profile is the platform power profile used when no direct sample exists.
type Profile struct {
	IdleWatts       float64 `json:"idle_watts"`
	TDPWatts        float64 `json:"tdp_watts"`
	CarbonIntensity float64 `json:"carbon_intensity_g_per_wh"` // grams CO2 per watt-hour
}

// ProfileFrom extracts the power profile from cfg.
func ProfileFrom(cfg config.EnergyConfig) Profile {
	return Profile{
		IdleWatts:       cfg.IdleWatts,
		TDPWatts:        cfg.TDPWatts,
		CarbonIntensity: cfg.CarbonIntensity,
	}
}

// EstimatedWatts interpolates between idle and TDP by utilization.
func (p Profile) EstimatedWatts(utilization float64) float64 {
	return p.IdleWatts + clamp01(utilization)*(p.TDPWatts-p.IdleWatts)
}

// Record builds an EnergyRecord for watts drawn over elapsed.
func (p Profile) Record(watts float64, elapsed time.Duration, c models.Confidence) models.EnergyRecord {
	if watts < 0 {
		watts = 0
	}
	secs := elapsed.Seconds()
	if secs < 0 {
		secs = 0
	}
	wh := watts * secs / 3600
	return models.EnergyRecord{
		Watts:          watts,
		ElapsedSeconds: secs,
		EnergyWh:       wh,
		CarbonG:        wh * p.CarbonIntensity,
		Confidence:     c,
	}
}

// Estimator turns elapsed time and samples into energy records. It holds no
// per-measurement state and is safe for concurrent use.
type Estimator struct {
	sampler       Sampler
	util          UtilizationSampler
	profile       Profile
	now           func() time.Time
	sampleTimeout time.Duration
	logger        *zap.Logger
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Estimator) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Estimator) { e.logger = logging.OrNop(l) }
}

// WithSampleTimeout bounds each individual sensor read.
func WithSampleTimeout(d time.Duration) Option {
	return func(e *Estimator) { e.sampleTimeout = d }
}

// NewEstimator creates an Estimator. Either sampler may be nil.
func NewEstimator(s Sampler, u UtilizationSampler, p Profile, opts ...Option) *Estimator {
	if s == nil {
		s = None{}
	}
	e := &Estimator{
		sampler:       s,
		util:          u,
		profile:       p,
		now:           time.Now,
		sampleTimeout: defaultSampleTimeout,
		logger:        zap.NewNop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Profile returns the estimator's power profile.
func (e *Estimator) Profile() Profile { return e.profile }

type edge struct {
	watts    float64
	hasWatts bool
	util     float64
	hasUtil  bool
}

func (e *Estimator) sampleEdge(ctx context.Context) edge {
	// readings are taken even when the scope's context was cancelled
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.sampleTimeout)
	defer cancel()

	var s edge
	if w, err := e.sampler.Sample(sctx); err == nil {
		s.watts, s.hasWatts = w, true
	} else if !errors.Is(err, ErrSamplerUnavailable) {
		e.logger.Debug("power sample failed", zap.Error(err))
	}
	if e.util != nil {
		if u, err := e.util.Utilization(sctx); err == nil {
			s.util, s.hasUtil = u, true
		} else {
			e.logger.Debug("utilization sample failed", zap.Error(err))
		}
	}
	return s
}

// record prefers direct power (mean of available edge samples), then the
// utilization estimate (closing sample first), then reports Unavailable.
func (e *Estimator) record(start, end edge, elapsed time.Duration) models.EnergyRecord {
	var sum float64
	var n int
	for _, s := range []edge{start, end} {
		if s.hasWatts {
			sum += s.watts
			n++
		}
	}
	if n > 0 {
		return e.profile.Record(sum/float64(n), elapsed, models.ConfidenceMeasured)
	}

	switch {
	case end.hasUtil:
		return e.profile.Record(e.profile.EstimatedWatts(end.util), elapsed, models.ConfidenceEstimated)
	case start.hasUtil:
		return e.profile.Record(e.profile.EstimatedWatts(start.util), elapsed, models.ConfidenceEstimated)
	}
	return e.profile.Record(0, elapsed, models.ConfidenceUnavailable)
}

// Measure runs scope and returns its result with the energy it consumed.
// Energy accounting never fails: the scope's own error is returned unchanged.
func Measure[T any](ctx context.Context, e *Estimator, scope func(context.Context) (T, error)) (T, models.EnergyRecord, error) {
	start := e.sampleEdge(ctx)
	t0 := e.now()
	v, err := scope(ctx)
	elapsed := e.now().Sub(t0)
	end := e.sampleEdge(ctx)
	return v, e.record(start, end, elapsed), err
}

// Combine sums records into one. Watts becomes the time-weighted mean and
// confidence the lowest among the inputs.
func Combine(records ...models.EnergyRecord) models.EnergyRecord {
	if len(records) == 0 {
		return models.EnergyRecord{Confidence: models.ConfidenceUnavailable}
	}
	out := models.EnergyRecord{Confidence: records[0].Confidence}
	for _, r := range records {
		out.ElapsedSeconds += r.ElapsedSeconds
		out.EnergyWh += r.EnergyWh
		out.CarbonG += r.CarbonG
		out.Confidence = out.Confidence.Lower(r.Confidence)
	}
	if out.ElapsedSeconds > 0 {
		out.Watts = out.EnergyWh * 3600 / out.ElapsedSeconds
	}
	return out
}
