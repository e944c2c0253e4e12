// Package meter prices usage events and folds them into spend reports.
package meter

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/tollgate/pkg/catalog"
	"github.com/pario-ai/tollgate/pkg/models"
)

const (
	// DefaultFallbackInputTokens is assumed when an event lacks usable token counts.
	DefaultFallbackInputTokens int64 = 650
	// DefaultFallbackOutputTokens is assumed when an event lacks usable token counts.
	DefaultFallbackOutputTokens int64 = 300

	// UnknownLabel stands in for a missing model or actor.
	UnknownLabel = "unknown"
)

// Estimate is the priced view of one usage event.
type Estimate struct {
	InputTokens  int64
	OutputTokens int64
	// Model is the label recorded on the event, not normalized.
	Model string
	// PricedAs is the catalog id whose rates were applied.
	PricedAs     string
	Cost         decimal.Decimal
	Estimated    bool
	UnknownModel bool
}

// Estimator prices events against the catalog.
type Estimator struct {
	fallbackIn  int64
	fallbackOut int64
}

// NewEstimator creates an Estimator. Non-positive fallbacks use the defaults.
func NewEstimator(fallbackIn, fallbackOut int64) *Estimator {
	if fallbackIn <= 0 {
		fallbackIn = DefaultFallbackInputTokens
	}
	if fallbackOut <= 0 {
		fallbackOut = DefaultFallbackOutputTokens
	}
	return &Estimator{fallbackIn: fallbackIn, fallbackOut: fallbackOut}
}

// Estimate prices ev. It never fails: missing or malformed data is replaced by
// fallbacks and flagged on the result.
func (e *Estimator) Estimate(ev models.UsageEvent) Estimate {
	var est Estimate

	in, okIn := tokenCount(ev.Details["input_tokens"])
	out, okOut := tokenCount(ev.Details["output_tokens"])
	if okIn && okOut {
		est.InputTokens, est.OutputTokens = in, out
	} else {
		est.InputTokens, est.OutputTokens = e.fallbackIn, e.fallbackOut
		est.Estimated = true
	}

	est.Model = UnknownLabel
	if s, ok := ev.Details["model"].(string); ok && strings.TrimSpace(s) != "" {
		est.Model = s
	}

	m, ok := catalog.Lookup(est.Model)
	if !ok {
		m = catalog.Cheapest()
		est.UnknownModel = true
	}
	est.PricedAs = m.ID
	est.Cost = m.Cost(est.InputTokens, est.OutputTokens)
	return est
}

// tokenCount accepts non-negative numbers and integer strings.
func tokenCount(v any) (int64, bool) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return nonNegative(i)
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return fromFloat(f)
	case float64:
		return fromFloat(n)
	case float32:
		return fromFloat(float64(n))
	case int:
		return nonNegative(int64(n))
	case int32:
		return nonNegative(int64(n))
	case int64:
		return nonNegative(n)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return nonNegative(i)
	default:
		return 0, false
	}
}

func fromFloat(f float64) (int64, bool) {
	if math.IsNaN(f) || f < 0 || f > math.MaxInt64 {
		return 0, false
	}
	return nonNegative(int64(f))
}

func nonNegative(i int64) (int64, bool) {
	if i < 0 {
		return 0, false
	}
	return i, true
}
