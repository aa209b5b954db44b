package budget

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greencache-ai/greencache/pkg/models"
	"github.com/greencache-ai/greencache/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "budget_test.db")
	tr, err := tracker.New(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { tr.Close() })
	return tr, context.Background()
}

func emit(t *testing.T, tr tracker.Tracker, model string, carbonG float64) {
	t.Helper()
	require.NoError(t, tr.Record(context.Background(), models.QueryEvent{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Model:     model,
		Outcome:   models.OutcomeMiss,
		Energy:    models.EnergyRecord{CarbonG: carbonG, Confidence: models.ConfidenceEstimated},
	}))
}

func TestCheckUnderBudget(t *testing.T) {
	tr, ctx := setup(t)
	emit(t, tr, "llama3", 4)

	e := New([]models.BudgetPolicy{{MaxCarbonG: 10, Period: models.BudgetDaily}}, tr)
	assert.NoError(t, e.Check(ctx, "llama3"))
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	emit(t, tr, "llama3", 6)
	emit(t, tr, "gpt-4o", 4)

	e := New([]models.BudgetPolicy{{MaxCarbonG: 10, Period: models.BudgetDaily}}, tr)
	err := e.Check(ctx, "llama3")
	require.ErrorIs(t, err, ErrCarbonBudgetExceeded)
	assert.Contains(t, err.Error(), "all models")
}

func TestModelPolicyOnlyAppliesToItsModel(t *testing.T) {
	tr, ctx := setup(t)
	emit(t, tr, "gpt-4o", 5)

	e := New([]models.BudgetPolicy{{Model: "gpt-4o", MaxCarbonG: 5, Period: models.BudgetMonthly}}, tr)
	require.ErrorIs(t, e.Check(ctx, "gpt-4o"), ErrCarbonBudgetExceeded)
	assert.NoError(t, e.Check(ctx, "llama3"))
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)
	emit(t, tr, "llama3", 1.5)
	emit(t, tr, "gpt-4o", 20)

	e := New([]models.BudgetPolicy{
		{Model: "llama3", MaxCarbonG: 10, Period: models.BudgetDaily},
		{MaxCarbonG: 15, Period: models.BudgetMonthly},
	}, tr)

	statuses, err := e.Status(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	assert.InDelta(t, 1.5, statuses[0].UsedG, 1e-9)
	assert.InDelta(t, 8.5, statuses[0].RemainingG, 1e-9)
	assert.InDelta(t, 21.5, statuses[1].UsedG, 1e-9)
	assert.Zero(t, statuses[1].RemainingG)
}

type brokenSource struct{}

func (brokenSource) TotalCarbonByModel(context.Context, string, time.Time) (float64, error) {
	return 0, errors.New("database is locked")
}

func TestCheckSourceError(t *testing.T) {
	e := New([]models.BudgetPolicy{{MaxCarbonG: 1, Period: models.BudgetDaily}}, brokenSource{})
	err := e.Check(context.Background(), "llama3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCarbonBudgetExceeded)
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 3, 17, 15, 4, 5, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 17, 0, 0, 0, 0, time.UTC), periodStart(now, models.BudgetDaily))
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), periodStart(now, models.BudgetMonthly))
}
