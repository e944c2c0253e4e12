package meter

import (
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/models"
)

func seqOf(evs []models.UsageEvent, err error) iter.Seq2[models.UsageEvent, error] {
	return func(yield func(models.UsageEvent, error) bool) {
		for _, ev := range evs {
			if !yield(ev, nil) {
				return
			}
		}
		if err != nil {
			yield(models.UsageEvent{}, err)
		}
	}
}

func event(actor, model string, in, out int, at time.Time) models.UsageEvent {
	return models.UsageEvent{
		OrganizationID: "acme",
		ActorID:        actor,
		Action:         models.ActionChatQuery,
		CreatedAt:      at,
		Details:        map[string]any{"model": model, "input_tokens": in, "output_tokens": out},
	}
}

var (
	jan1  = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	month = ledger.Window{Start: jan1, End: jan1.AddDate(0, 1, 0)}
)

func TestAggregateFortyQueriesAtOneThirty(t *testing.T) {
	var evs []models.UsageEvent
	for i := range 40 {
		evs = append(evs, event("u1", "gpt-4o", 120_000, 100_000, jan1.Add(time.Duration(i)*time.Hour)))
	}
	agg, err := Aggregate(seqOf(evs, nil), NewEstimator(0, 0), month)
	require.NoError(t, err)
	assert.True(t, agg.Totals.Cost.Equal(decimal.NewFromInt(52)), agg.Totals.Cost.String())
	assert.Equal(t, 40, agg.Totals.Events)
	assert.Equal(t, int64(40*120_000), agg.Totals.InputTokens)
}

func TestAggregateAdditiveAndWindowed(t *testing.T) {
	evs := []models.UsageEvent{
		event("u1", "gpt-4o", 1000, 1000, jan1.Add(2*time.Hour)),
		event("u2", "claude-4-sonnet", 2000, 500, jan1.Add(26*time.Hour)),
		event("", "gpt-4o-mini", 500, 500, jan1.Add(50*time.Hour)),
		event("u1", "gpt-4o", 1000, 1000, jan1.Add(-time.Hour)),
		event("u1", "gpt-4o", 1000, 1000, month.End),
	}
	est := NewEstimator(0, 0)
	agg, err := Aggregate(seqOf(evs, nil), est, month)
	require.NoError(t, err)

	want := decimal.Zero
	for _, ev := range evs[:3] {
		want = want.Add(est.Estimate(ev).Cost)
	}
	assert.True(t, want.Equal(agg.Totals.Cost), "%s != %s", want, agg.Totals.Cost)
	assert.Equal(t, 3, agg.Totals.Events)

	for _, view := range [][]Breakdown{agg.ByModel, agg.ByDay, agg.ByActor} {
		sum := decimal.Zero
		n := 0
		for _, b := range view {
			sum = sum.Add(b.Cost)
			n += b.Events
		}
		assert.True(t, sum.Equal(agg.Totals.Cost))
		assert.Equal(t, 3, n)
	}
	assert.Equal(t, jan1.Add(2*time.Hour), agg.Totals.Earliest)
	assert.Equal(t, 2, agg.Totals.Actors)
	assert.Len(t, agg.ActorIDs, 2)
}

func TestAggregateViewsOrdering(t *testing.T) {
	evs := []models.UsageEvent{
		event("cheap", "gpt-4o-mini", 1000, 1000, jan1.Add(72*time.Hour)),
		event("pricey", "claude-4-opus", 1000, 1000, jan1),
		event("", "gpt-4o", 1000, 1000, jan1.Add(24*time.Hour)),
	}
	agg, err := Aggregate(seqOf(evs, nil), NewEstimator(0, 0), month)
	require.NoError(t, err)

	require.Len(t, agg.ByModel, 3)
	assert.Equal(t, "claude-4-opus", agg.ByModel[0].Key)
	assert.Equal(t, "gpt-4o-mini", agg.ByModel[2].Key)

	require.Len(t, agg.ByDay, 3)
	assert.Equal(t, []string{"2025-01-01", "2025-01-02", "2025-01-04"},
		[]string{agg.ByDay[0].Key, agg.ByDay[1].Key, agg.ByDay[2].Key})

	require.Len(t, agg.ByActor, 3)
	assert.Equal(t, "pricey", agg.ByActor[0].Key)
	assert.Equal(t, UnknownLabel, agg.ByActor[1].Key)
}

func TestAggregateByModelUsesRecordedLabel(t *testing.T) {
	evs := []models.UsageEvent{
		event("u1", "GPT-4o", 10, 10, jan1),
		event("u1", "gpt-4o", 10, 10, jan1),
	}
	agg, err := Aggregate(seqOf(evs, nil), NewEstimator(0, 0), month)
	require.NoError(t, err)
	assert.Len(t, agg.ByModel, 2)
}

func TestAggregateProvenanceCounts(t *testing.T) {
	evs := []models.UsageEvent{
		{ActorID: "u1", CreatedAt: jan1, Details: map[string]any{"model": "gpt-4o"}},
		event("u1", "who-knows", 1, 1, jan1),
	}
	agg, err := Aggregate(seqOf(evs, nil), NewEstimator(0, 0), month)
	require.NoError(t, err)
	assert.Equal(t, 1, agg.Totals.EstimatedEvents)
	assert.Equal(t, 1, agg.Totals.UnknownModelEvents)
}

func TestAggregateSpendWindow(t *testing.T) {
	feb1 := jan1.AddDate(0, 1, 0)
	report := ledger.Window{Start: feb1.AddDate(0, 0, -3), End: feb1.AddDate(0, 0, 4)}
	mtd := ledger.Window{Start: feb1, End: report.End}
	evs := []models.UsageEvent{
		event("u1", "gpt-4o", 120_000, 100_000, feb1.AddDate(0, 0, -2)),
		event("u1", "gpt-4o", 120_000, 100_000, feb1.AddDate(0, 0, 1)),
		event("u1", "gpt-4o", 120_000, 100_000, feb1.AddDate(0, 0, 2)),
	}
	agg, err := Aggregate(seqOf(evs, nil), NewEstimator(0, 0), report, WithSpendWindow(mtd))
	require.NoError(t, err)
	assert.Equal(t, "3.9", agg.Totals.Cost.String())
	assert.Equal(t, "2.6", agg.SpendWindowCost.String())
}

func TestAggregateAbortsOnError(t *testing.T) {
	boom := errors.New("read failed")
	agg, err := Aggregate(seqOf([]models.UsageEvent{event("u1", "gpt-4o", 1, 1, jan1)}, boom), NewEstimator(0, 0), month)
	assert.ErrorIs(t, err, boom)
	assert.Nil(t, agg)
}

func TestAggregateEmpty(t *testing.T) {
	agg, err := Aggregate(seqOf(nil, nil), NewEstimator(0, 0), month)
	require.NoError(t, err)
	assert.True(t, agg.Totals.Cost.IsZero())
	assert.Empty(t, agg.ByModel)
	assert.True(t, agg.Totals.Earliest.IsZero())
}
