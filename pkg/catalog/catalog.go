// Package catalog holds the compiled-in model catalog and the tier/lock access rules over it.
package catalog

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/tollgate/pkg/tier"
)

// Model is a catalog entry. Rates are in USD per million tokens.
type Model struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Provider   string    `json:"provider"`
	CostTier   string    `json:"cost_tier"`
	MinTier    tier.Tier `json:"min_tier"`
	InputRate  float64   `json:"input_rate"`
	OutputRate float64   `json:"output_rate"`
}

// FormattedRates renders the model's rates for display.
func (m Model) FormattedRates() string {
	return fmt.Sprintf("$%.2f/1M in · $%.2f/1M out", m.InputRate, m.OutputRate)
}

var million = decimal.NewFromInt(1_000_000)

// Cost prices a token exchange at this model's rates.
func (m Model) Cost(inputTokens, outputTokens int64) decimal.Decimal {
	in := decimal.NewFromInt(inputTokens).Mul(decimal.NewFromFloat(m.InputRate))
	out := decimal.NewFromInt(outputTokens).Mul(decimal.NewFromFloat(m.OutputRate))
	return in.Add(out).Div(million)
}

// models is ordered by cost, cheapest first.
var models = []Model{
	{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "OpenAI", CostTier: "$", MinTier: tier.Staff, InputRate: 0.15, OutputRate: 0.60},
	{ID: "llama-4-maverick", Name: "Llama 4 Maverick", Provider: "Meta", CostTier: "$", MinTier: tier.Staff, InputRate: 0.27, OutputRate: 0.85},
	{ID: "gemini-2.5-flash", Name: "Gemini 2.5 Flash", Provider: "Google", CostTier: "$", MinTier: tier.Manager, InputRate: 0.30, OutputRate: 2.50},
	{ID: "claude-3.5-haiku", Name: "Claude 3.5 Haiku", Provider: "Anthropic", CostTier: "$$", MinTier: tier.Manager, InputRate: 0.80, OutputRate: 4.00},
	{ID: "gpt-4o", Name: "GPT-4o", Provider: "OpenAI", CostTier: "$$", MinTier: tier.DepartmentHead, InputRate: 2.50, OutputRate: 10.00},
	{ID: "claude-4-sonnet", Name: "Claude 4 Sonnet", Provider: "Anthropic", CostTier: "$$$", MinTier: tier.DepartmentHead, InputRate: 3.00, OutputRate: 15.00},
	{ID: "claude-4-opus", Name: "Claude 4 Opus", Provider: "Anthropic", CostTier: "$$$$", MinTier: tier.Owner, InputRate: 15.00, OutputRate: 75.00},
}

// All returns a copy of the catalog in cost-ascending order.
func All() []Model {
	out := make([]Model, len(models))
	copy(out, models)
	return out
}

// Cheapest returns the lowest-cost catalog entry.
func Cheapest() Model { return models[0] }

// Normalize lower-cases an id, trims it and collapses inner whitespace to '-'.
func Normalize(id string) string {
	return strings.ToLower(strings.Join(strings.Fields(id), "-"))
}

// Lookup finds a model by id after normalization.
func Lookup(id string) (Model, bool) {
	n := Normalize(id)
	if n == "" {
		return Model{}, false
	}
	for _, m := range models {
		if m.ID == n {
			return m, true
		}
	}
	return Model{}, false
}
