package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// BudgetKey is the settings key holding the usage budget policy.
const BudgetKey = "usageBudget"

// BudgetPolicy is an organization's spend limit and related controls.
// Monetary amounts are in catalog currency units (USD).
type BudgetPolicy struct {
	MonthlyLimit    float64   `json:"monthlyLimit"`
	DailyUserLimit  *int      `json:"dailyUserLimit,omitempty"`
	AutoReload      bool      `json:"autoReload"`
	ReloadAmount    float64   `json:"reloadAmount"`
	ReloadThreshold float64   `json:"reloadThreshold"`
	ModelLock       string    `json:"modelLock,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// BudgetPatch is a partial BudgetPolicy update. Nil fields are left unchanged.
type BudgetPatch struct {
	MonthlyLimit    *float64 `json:"monthlyLimit,omitempty"`
	DailyUserLimit  *int     `json:"dailyUserLimit,omitempty"`
	AutoReload      *bool    `json:"autoReload,omitempty"`
	ReloadAmount    *float64 `json:"reloadAmount,omitempty"`
	ReloadThreshold *float64 `json:"reloadThreshold,omitempty"`
	ModelLock       *string  `json:"modelLock,omitempty"`
}

// IsEmpty reports whether the patch carries no fields.
func (p BudgetPatch) IsEmpty() bool {
	return p.MonthlyLimit == nil && p.DailyUserLimit == nil && p.AutoReload == nil &&
		p.ReloadAmount == nil && p.ReloadThreshold == nil && p.ModelLock == nil
}

// Merge applies the present fields of p onto base and reports whether anything changed.
// A daily user limit of 0 and an empty model lock clear those fields.
func (p BudgetPatch) Merge(base BudgetPolicy) (BudgetPolicy, bool) {
	out := base
	if p.MonthlyLimit != nil {
		out.MonthlyLimit = *p.MonthlyLimit
	}
	if p.DailyUserLimit != nil {
		if *p.DailyUserLimit == 0 {
			out.DailyUserLimit = nil
		} else {
			v := *p.DailyUserLimit
			out.DailyUserLimit = &v
		}
	}
	if p.AutoReload != nil {
		out.AutoReload = *p.AutoReload
	}
	if p.ReloadAmount != nil {
		out.ReloadAmount = *p.ReloadAmount
	}
	if p.ReloadThreshold != nil {
		out.ReloadThreshold = *p.ReloadThreshold
	}
	if p.ModelLock != nil {
		out.ModelLock = *p.ModelLock
	}
	return out, !samePolicy(base, out)
}

func samePolicy(a, b BudgetPolicy) bool {
	if a.MonthlyLimit != b.MonthlyLimit || a.AutoReload != b.AutoReload ||
		a.ReloadAmount != b.ReloadAmount || a.ReloadThreshold != b.ReloadThreshold ||
		a.ModelLock != b.ModelLock {
		return false
	}
	switch {
	case a.DailyUserLimit == nil && b.DailyUserLimit == nil:
		return true
	case a.DailyUserLimit == nil || b.DailyUserLimit == nil:
		return false
	default:
		return *a.DailyUserLimit == *b.DailyUserLimit
	}
}

// Settings is an organization's settings object. Only BudgetKey is interpreted;
// every other key is carried through verbatim.
type Settings map[string]json.RawMessage

// BudgetPolicy decodes the nested budget policy. It returns nil when none is stored.
func (s Settings) BudgetPolicy() (*BudgetPolicy, error) {
	raw, ok := s[BudgetKey]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var p BudgetPolicy
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode %s: %w", BudgetKey, err)
	}
	return &p, nil
}

// WithBudgetPolicy returns a copy of s with the budget policy replaced.
func (s Settings) WithBudgetPolicy(p BudgetPolicy) (Settings, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", BudgetKey, err)
	}
	out := make(Settings, len(s)+1)
	for k, v := range s {
		out[k] = v
	}
	out[BudgetKey] = raw
	return out, nil
}

// ParseSettings decodes a stored settings blob. Empty input yields empty settings.
func ParseSettings(data []byte) (Settings, error) {
	s := Settings{}
	if len(data) == 0 || string(data) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}
