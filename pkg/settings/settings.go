// Package settings applies budget policy updates to an organization's settings.
package settings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/catalog"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
	"github.com/pario-ai/tollgate/pkg/tier"
)

// MaxAttempts bounds re-merge retries after a concurrent write.
const MaxAttempts = 3

// TierError is returned when the actor's tier is insufficient.
type TierError struct {
	Required tier.Tier
	Actual   tier.Tier
}

func (e *TierError) Error() string {
	return fmt.Sprintf("tier %d (%s) required", int(e.Required), e.Required.Label())
}

// ValidationError rejects a malformed patch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Resolver resolves an actor's tier.
type Resolver interface {
	Resolve(ctx context.Context, actorID, orgID string) (tier.Resolution, error)
}

// Store is the subset of store.Store the mutator writes through.
type Store interface {
	Organization(ctx context.Context, orgID string) (*models.Organization, error)
	UpdateSettings(ctx context.Context, orgID string, s models.Settings, expectedVersion int64) (int64, error)
}

// Result is the outcome of Apply.
type Result struct {
	OrganizationID string              `json:"organization_id"`
	Policy         models.BudgetPolicy `json:"policy"`
	Version        int64               `json:"version"`
	Changed        bool                `json:"changed"`
}

// Mutator is the write path for budget policies.
type Mutator struct {
	resolver Resolver
	store    Store
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a Mutator.
func New(resolver Resolver, st Store, logger *zap.Logger) *Mutator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mutator{
		resolver: resolver,
		store:    st,
		logger:   logger.With(zap.String("component", "settings")),
		now:      time.Now,
	}
}

// Apply merges patch into the organization's budget policy.
//
// When ifVersion is set the write succeeds only against that settings version and a
// conflict is returned as store.ErrVersionConflict. Without it, concurrent writes are
// re-read and re-merged up to MaxAttempts times.
func (m *Mutator) Apply(ctx context.Context, actorID, orgID string, patch models.BudgetPatch, ifVersion *int64) (*Result, error) {
	res, err := m.resolver.Resolve(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	if res.Tier != tier.Owner {
		return nil, &TierError{Required: tier.Owner, Actual: res.Tier}
	}
	if err := Validate(patch); err != nil {
		return nil, err
	}
	patch = canonical(patch)
	orgID = res.OrganizationID

	for attempt := 1; ; attempt++ {
		out, err := m.apply(ctx, orgID, patch, ifVersion)
		if err == nil {
			if out.Changed {
				m.logger.Info("budget policy updated",
					zap.String("org_id", orgID),
					zap.String("actor_id", actorID),
					zap.Int64("version", out.Version),
				)
			}
			return out, nil
		}
		if !errors.Is(err, store.ErrVersionConflict) || ifVersion != nil || attempt >= MaxAttempts {
			return nil, err
		}
		m.logger.Debug("settings write conflict, retrying",
			zap.String("org_id", orgID), zap.Int("attempt", attempt))
	}
}

func (m *Mutator) apply(ctx context.Context, orgID string, patch models.BudgetPatch, ifVersion *int64) (*Result, error) {
	org, err := m.store.Organization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	if ifVersion != nil && *ifVersion != org.SettingsVersion {
		return nil, store.ErrVersionConflict
	}

	current, err := org.Settings.BudgetPolicy()
	if err != nil {
		return nil, err
	}
	var base models.BudgetPolicy
	if current != nil {
		base = *current
	}
	merged, changed := patch.Merge(base)
	if !changed && current != nil {
		return &Result{OrganizationID: orgID, Policy: base, Version: org.SettingsVersion}, nil
	}

	merged.UpdatedAt = m.now().UTC()
	next, err := org.Settings.WithBudgetPolicy(merged)
	if err != nil {
		return nil, err
	}
	version, err := m.store.UpdateSettings(ctx, orgID, next, org.SettingsVersion)
	if err != nil {
		return nil, err
	}
	return &Result{OrganizationID: orgID, Policy: merged, Version: version, Changed: true}, nil
}

// Validate checks a patch without applying it.
func Validate(p models.BudgetPatch) error {
	if p.IsEmpty() {
		return &ValidationError{Reason: "no budget fields supplied"}
	}
	if p.MonthlyLimit != nil {
		if err := nonNegative("monthlyLimit", *p.MonthlyLimit); err != nil {
			return err
		}
	}
	if p.ReloadAmount != nil {
		if err := nonNegative("reloadAmount", *p.ReloadAmount); err != nil {
			return err
		}
	}
	if p.DailyUserLimit != nil && *p.DailyUserLimit < 0 {
		return &ValidationError{Field: "dailyUserLimit", Reason: "must be zero or greater"}
	}
	if p.ReloadThreshold != nil {
		v := *p.ReloadThreshold
		if math.IsNaN(v) || v < 0 || v > 100 {
			return &ValidationError{Field: "reloadThreshold", Reason: "must be between 0 and 100"}
		}
	}
	if p.ModelLock != nil && *p.ModelLock != "" {
		if _, ok := catalog.Lookup(*p.ModelLock); !ok {
			return &ValidationError{Field: "modelLock", Reason: fmt.Sprintf("unknown model %q", *p.ModelLock)}
		}
	}
	return nil
}

// canonical stores the lock as its catalog id.
func canonical(p models.BudgetPatch) models.BudgetPatch {
	if p.ModelLock != nil {
		if m, ok := catalog.Lookup(*p.ModelLock); ok {
			id := m.ID
			p.ModelLock = &id
		}
	}
	return p
}

func nonNegative(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return &ValidationError{Field: field, Reason: "must be zero or greater"}
	}
	return nil
}
