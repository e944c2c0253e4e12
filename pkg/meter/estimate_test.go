package meter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pario-ai/tollgate/pkg/models"
)

func chat(details map[string]any) models.UsageEvent {
	return models.UsageEvent{Action: models.ActionChatQuery, Details: details}
}

func TestEstimateExplicitTokens(t *testing.T) {
	e := NewEstimator(0, 0)
	got := e.Estimate(chat(map[string]any{"model": "gpt-4o", "input_tokens": json.Number("120000"), "output_tokens": float64(100000)}))
	assert.False(t, got.Estimated)
	assert.False(t, got.UnknownModel)
	assert.Equal(t, int64(120000), got.InputTokens)
	assert.Equal(t, "gpt-4o", got.PricedAs)
	assert.Equal(t, "1.3", got.Cost.String())
}

func TestEstimateFallbackProvenance(t *testing.T) {
	e := NewEstimator(0, 0)
	cases := []map[string]any{
		nil,
		{"model": "gpt-4o"},
		{"model": "gpt-4o", "input_tokens": 10},
		{"model": "gpt-4o", "input_tokens": 10, "output_tokens": "lots"},
		{"model": "gpt-4o", "input_tokens": -1, "output_tokens": 5},
		{"model": "gpt-4o", "input_tokens": 10, "output_tokens": true},
	}
	for _, d := range cases {
		got := e.Estimate(chat(d))
		assert.True(t, got.Estimated, "%v", d)
		assert.Equal(t, DefaultFallbackInputTokens, got.InputTokens)
		assert.Equal(t, DefaultFallbackOutputTokens, got.OutputTokens)
	}
}

func TestEstimateIntegerStrings(t *testing.T) {
	got := NewEstimator(0, 0).Estimate(chat(map[string]any{"model": "gpt-4o-mini", "input_tokens": "1000", "output_tokens": " 0 "}))
	assert.False(t, got.Estimated)
	assert.Equal(t, int64(1000), got.InputTokens)
	assert.Equal(t, int64(0), got.OutputTokens)
}

func TestEstimateConfiguredFallback(t *testing.T) {
	got := NewEstimator(1000, 500).Estimate(chat(nil))
	assert.Equal(t, int64(1000), got.InputTokens)
	assert.Equal(t, int64(500), got.OutputTokens)
}

func TestEstimateUnknownModel(t *testing.T) {
	e := NewEstimator(0, 0)

	got := e.Estimate(chat(map[string]any{"model": "mystery-9000", "input_tokens": 1_000_000, "output_tokens": 0}))
	assert.True(t, got.UnknownModel)
	assert.Equal(t, "mystery-9000", got.Model)
	assert.Equal(t, "gpt-4o-mini", got.PricedAs)
	assert.Equal(t, "0.15", got.Cost.String())

	got = e.Estimate(chat(map[string]any{"input_tokens": 1, "output_tokens": 1}))
	assert.Equal(t, UnknownLabel, got.Model)
	assert.True(t, got.UnknownModel)
}

func TestEstimateKeepsRecordedLabel(t *testing.T) {
	got := NewEstimator(0, 0).Estimate(chat(map[string]any{"model": "Claude 4 Sonnet", "input_tokens": 0, "output_tokens": 0}))
	assert.Equal(t, "Claude 4 Sonnet", got.Model)
	assert.Equal(t, "claude-4-sonnet", got.PricedAs)
	assert.False(t, got.UnknownModel)
}
