// Package reload raises an organization's monthly limit when auto-reload triggers.
package reload

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/store"
)

// ClaimTTL is how long a reload claim is held.
const ClaimTTL = 24 * time.Hour

// Outcome describes what Evaluate did.
type Outcome string

const (
	OutcomeNotTriggered Outcome = "not_triggered"
	OutcomeApplied      Outcome = "applied"
	// OutcomeSkipped means another caller already claimed this settings version.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeConflict means settings changed since the trigger was observed.
	OutcomeConflict Outcome = "conflict"
	OutcomeFailed   Outcome = "failed"
)

// Result reports a reload evaluation.
type Result struct {
	Outcome     Outcome `json:"outcome"`
	OperationID string  `json:"operation_id,omitempty"`
	Previous    float64 `json:"previous_limit"`
	Limit       float64 `json:"limit"`
	Version     int64   `json:"version"`
	PctUsed     float64 `json:"pct_used"`
	// Spent is rounded to six decimal places.
	Spent float64 `json:"spent"`
}

// SettingsWriter persists settings under the version guard.
type SettingsWriter interface {
	UpdateSettings(ctx context.Context, orgID string, s models.Settings, expectedVersion int64) (int64, error)
}

// Executor applies auto-reloads.
type Executor struct {
	store     SettingsWriter
	claimer   Claimer
	logger    *zap.Logger
	now       func() time.Time
	onOutcome func(Outcome)
}

// Option configures an Executor.
type Option func(*Executor)

// WithClaimer enables the Redis claim. Without one, the settings version alone
// prevents double application.
func WithClaimer(c Claimer) Option {
	return func(e *Executor) { e.claimer = c }
}

// WithOutcomeHook registers a callback invoked after every evaluation.
func WithOutcomeHook(fn func(Outcome)) Option {
	return func(e *Executor) { e.onOutcome = fn }
}

// New creates an Executor.
func New(st SettingsWriter, logger *zap.Logger, opts ...Option) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Executor{
		store:  st,
		logger: logger.With(zap.String("component", "reload")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Triggered reports whether policy calls for a reload at the given spend.
// A zero threshold means 100 percent.
func Triggered(policy *models.BudgetPolicy, spent decimal.Decimal) bool {
	if policy == nil || !policy.AutoReload || policy.ReloadAmount <= 0 || policy.MonthlyLimit <= 0 {
		return false
	}
	threshold := policy.ReloadThreshold
	if threshold <= 0 {
		threshold = budget.ExceededPct
	}
	pct := spent.Div(decimal.NewFromFloat(policy.MonthlyLimit)).Mul(decimal.NewFromInt(100))
	return pct.GreaterThanOrEqual(decimal.NewFromFloat(threshold))
}

// Evaluate applies a reload to org if its policy triggers at the month-to-date spend.
// org must be the snapshot the spend was computed against.
func (e *Executor) Evaluate(ctx context.Context, org *models.Organization, spent decimal.Decimal) (*Result, error) {
	res, err := e.evaluate(ctx, org, spent)
	if e.onOutcome != nil && res != nil {
		e.onOutcome(res.Outcome)
	}
	return res, err
}

func (e *Executor) evaluate(ctx context.Context, org *models.Organization, spent decimal.Decimal) (*Result, error) {
	policy, err := org.Settings.BudgetPolicy()
	if err != nil {
		return &Result{Outcome: OutcomeFailed}, err
	}
	res := &Result{Outcome: OutcomeNotTriggered, Version: org.SettingsVersion, Spent: spent.Round(6).InexactFloat64()}
	if policy != nil {
		res.Previous = policy.MonthlyLimit
		res.Limit = policy.MonthlyLimit
		if policy.MonthlyLimit > 0 {
			res.PctUsed = spent.Div(decimal.NewFromFloat(policy.MonthlyLimit)).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
	}
	if !Triggered(policy, spent) {
		return res, nil
	}

	opID := uuid.NewString()
	key := Key(org.ID, org.SettingsVersion)
	res.OperationID = opID
	log := e.logger.With(zap.String("org_id", org.ID), zap.String("op_id", opID), zap.Int64("version", org.SettingsVersion))

	if e.claimer != nil {
		ok, err := e.claimer.Claim(ctx, key, opID, ClaimTTL)
		if err != nil {
			res.Outcome = OutcomeFailed
			return res, err
		}
		if !ok {
			log.Debug("reload already claimed")
			res.Outcome = OutcomeSkipped
			return res, nil
		}
	}

	next := *policy
	next.MonthlyLimit = decimal.NewFromFloat(policy.MonthlyLimit).Add(decimal.NewFromFloat(policy.ReloadAmount)).InexactFloat64()
	next.UpdatedAt = e.now().UTC()
	settings, err := org.Settings.WithBudgetPolicy(next)
	if err != nil {
		e.release(ctx, key, opID, log)
		res.Outcome = OutcomeFailed
		return res, err
	}

	version, err := e.store.UpdateSettings(ctx, org.ID, settings, org.SettingsVersion)
	if errors.Is(err, store.ErrVersionConflict) {
		log.Info("reload lost race with settings write")
		res.Outcome = OutcomeConflict
		return res, nil
	}
	if err != nil {
		e.release(ctx, key, opID, log)
		res.Outcome = OutcomeFailed
		return res, fmt.Errorf("apply reload: %w", err)
	}

	res.Outcome = OutcomeApplied
	res.Limit = next.MonthlyLimit
	res.Version = version
	log.Info("auto-reload applied",
		zap.Float64("previous_limit", res.Previous),
		zap.Float64("limit", res.Limit),
		zap.String("spent", spent.StringFixed(2)),
	)
	return res, nil
}

func (e *Executor) release(ctx context.Context, key, opID string, log *zap.Logger) {
	if e.claimer == nil {
		return
	}
	if err := e.claimer.Release(context.WithoutCancel(ctx), key, opID); err != nil {
		log.Warn("release reload claim", zap.Error(err))
	}
}
