package router

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/greencache-ai/greencache/pkg/models"
)

// Compare runs query through the cache and directly upstream at the same time
// and reports what the cached path saved. Both events are always returned;
// the error is set when either path failed, in which case Savings is zero.
func (r *Router) Compare(ctx context.Context, query, model string) (models.Comparison, error) {
	cmp := models.Comparison{
		ID:        uuid.NewString(),
		Timestamp: r.now().UTC(),
		Query:     query,
		Model:     model,
	}
	if cmp.Model == "" {
		cmp.Model = r.defaultModel
	}

	var g errgroup.Group
	g.Go(func() error {
		cmp.Cached = r.Handle(ctx, query, model)
		if cmp.Cached.Failed() {
			return errors.Newf("cached path: %s", cmp.Cached.Error)
		}
		return nil
	})
	g.Go(func() error {
		cmp.Uncached = r.Direct(ctx, query, model)
		if cmp.Uncached.Failed() {
			return errors.Newf("uncached path: %s", cmp.Uncached.Error)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return cmp, err
	}

	cmp.Savings = Savings(cmp.Cached, cmp.Uncached, r.estimator.Profile().CarbonIntensity)
	return cmp, nil
}

// Savings compares a cached event against an uncached one at the given
// carbon intensity in g/Wh.
func Savings(cached, uncached models.QueryEvent, intensity float64) models.Savings {
	saved := max(0, uncached.Energy.EnergyWh-cached.Energy.EnergyWh)
	s := models.Savings{
		EnergySavedWh: saved,
		TimeSavedMs:   max(0, uncached.LatencyMs-cached.LatencyMs),
		CarbonSavedG:  saved * intensity,
	}
	if uncached.Energy.EnergyWh > 0 {
		s.PercentSaved = saved / uncached.Energy.EnergyWh * 100
	}
	s.Equivalents = models.EquivalentsFor(s.CarbonSavedG)
	return s
}
