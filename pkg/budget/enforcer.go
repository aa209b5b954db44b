// Package budget caps the carbon emitted by upstream LLM calls.
package budget

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/greencache-ai/greencache/pkg/models"
	"github.com/greencache-ai/greencache/pkg/tracker"
)

// ErrCarbonBudgetExceeded is returned when a policy's carbon cap has been reached.
var ErrCarbonBudgetExceeded = errors.New("carbon budget exceeded")

// CarbonSource reports grams of CO2 emitted since a point in time.
type CarbonSource interface {
	TotalCarbonByModel(ctx context.Context, model string, since time.Time) (float64, error)
}

var _ CarbonSource = (tracker.Tracker)(nil)

// Enforcer checks emitted carbon against budget policies.
type Enforcer struct {
	policies []models.BudgetPolicy
	source   CarbonSource
	now      func() time.Time
}

// New creates an Enforcer with the given policies and carbon source.
func New(policies []models.BudgetPolicy, src CarbonSource) *Enforcer {
	return &Enforcer{policies: policies, source: src, now: time.Now}
}

// Check returns ErrCarbonBudgetExceeded if any policy covering model is spent.
func (e *Enforcer) Check(ctx context.Context, model string) error {
	for _, p := range e.applicablePolicies(model) {
		used, err := e.used(ctx, p)
		if err != nil {
			return errors.Wrap(err, "budget check")
		}
		if used >= p.MaxCarbonG {
			scope := p.Model
			if scope == "" {
				scope = "all models"
			}
			return errors.Mark(
				errors.Newf("%s carbon budget for %s spent: %.2fg of %.2fg", p.Period, scope, used, p.MaxCarbonG),
				ErrCarbonBudgetExceeded)
		}
	}
	return nil
}

// Status returns used and remaining grams for every policy.
func (e *Enforcer) Status(ctx context.Context) ([]models.BudgetStatus, error) {
	statuses := make([]models.BudgetStatus, 0, len(e.policies))
	for _, p := range e.policies {
		used, err := e.used(ctx, p)
		if err != nil {
			return nil, errors.Wrap(err, "budget status")
		}
		statuses = append(statuses, models.BudgetStatus{
			Policy:     p,
			UsedG:      used,
			RemainingG: max(0, p.MaxCarbonG-used),
		})
	}
	return statuses, nil
}

func (e *Enforcer) used(ctx context.Context, p models.BudgetPolicy) (float64, error) {
	return e.source.TotalCarbonByModel(ctx, p.Model, periodStart(e.now(), p.Period))
}

func (e *Enforcer) applicablePolicies(model string) []models.BudgetPolicy {
	var result []models.BudgetPolicy
	for _, p := range e.policies {
		if p.Model == "" || p.Model == model {
			result = append(result, p)
		}
	}
	return result
}

func periodStart(now time.Time, period models.BudgetPeriod) time.Time {
	now = now.UTC()
	switch period {
	case models.BudgetMonthly:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default: // daily
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
}
