package metering

import (
	"context"

	"github.com/pario-ai/tollgate/pkg/catalog"
)

// ModelInfo is an allowed catalog entry as presented to callers.
type ModelInfo struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
	CostTier string `json:"cost_tier"`
	Rates    string `json:"rates"`
}

// RestrictedModel is a catalog entry the caller cannot use.
type RestrictedModel struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	CostTier     string `json:"cost_tier"`
	RequiredTier int    `json:"required_tier"`
}

// ModelsView lists what an actor may run in an organization.
type ModelsView struct {
	OrganizationID string            `json:"organization_id"`
	Tier           int               `json:"tier"`
	TierLabel      string            `json:"tier_label"`
	ModelLock      string            `json:"model_lock,omitempty"`
	DefaultModel   string            `json:"default_model"`
	Allowed        []ModelInfo       `json:"allowed"`
	Restricted     []RestrictedModel `json:"restricted"`
}

// Models returns the models visible to actorID.
func (s *Service) Models(ctx context.Context, actorID, orgID string) (*ModelsView, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	res, org, policy, err := s.membership(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	var lock string
	if policy != nil {
		lock = policy.ModelLock
	}

	v := &ModelsView{
		OrganizationID: org.ID,
		Tier:           int(res.Tier),
		TierLabel:      res.Tier.Label(),
		ModelLock:      lock,
		DefaultModel:   catalog.Default(res.Tier, lock),
		Allowed:        []ModelInfo{},
		Restricted:     []RestrictedModel{},
	}
	for _, m := range catalog.Allowed(res.Tier, lock) {
		v.Allowed = append(v.Allowed, ModelInfo{
			ID: m.ID, Name: m.Name, Provider: m.Provider, CostTier: m.CostTier, Rates: m.FormattedRates(),
		})
	}
	for _, r := range catalog.Restricted(res.Tier, lock) {
		v.Restricted = append(v.Restricted, RestrictedModel{
			ID: r.Model.ID, Name: r.Model.Name, CostTier: r.Model.CostTier, RequiredTier: int(r.Required),
		})
	}
	return v, nil
}
