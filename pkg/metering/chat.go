package metering

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/catalog"
	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/meter"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/reload"
)

// ChatRequest describes one chat exchange to admit and record.
type ChatRequest struct {
	ActorID        string `json:"-"`
	OrganizationID string `json:"org_id"`
	Model          string `json:"model"`
	InputTokens    *int64 `json:"input_tokens,omitempty"`
	OutputTokens   *int64 `json:"output_tokens,omitempty"`
}

// ChatReceipt is the outcome of a recorded chat.
type ChatReceipt struct {
	EventID        int64          `json:"event_id"`
	OrganizationID string         `json:"organization_id"`
	Model          string         `json:"model"`
	InputTokens    int64          `json:"input_tokens"`
	OutputTokens   int64          `json:"output_tokens"`
	Estimated      bool           `json:"estimated"`
	Cost           float64        `json:"cost"`
	BudgetStatus   budget.Status  `json:"budget_status,omitempty"`
	Reload         *reload.Result `json:"reload,omitempty"`
}

// RecordChat admits a chat exchange and appends it to the usage log.
//
// The checks run in order: model access, monthly budget, daily user allowance.
// A refused request leaves no trace in the log.
func (s *Service) RecordChat(ctx context.Context, req ChatRequest) (*ChatReceipt, error) {
	if req.InputTokens != nil && *req.InputTokens < 0 {
		return nil, &InputError{Field: "input_tokens", Reason: "must not be negative"}
	}
	if req.OutputTokens != nil && *req.OutputTokens < 0 {
		return nil, &InputError{Field: "output_tokens", Reason: "must not be negative"}
	}

	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	res, org, policy, err := s.membership(ctx, req.ActorID, req.OrganizationID)
	if err != nil {
		return nil, err
	}
	var lock string
	if policy != nil {
		lock = policy.ModelLock
	}
	model := req.Model
	if model == "" {
		model = catalog.Default(res.Tier, lock)
	}
	if err := catalog.Authorize(model, res.Tier, lock); err != nil {
		return nil, err
	}
	if m, ok := catalog.Lookup(model); ok {
		model = m.ID
	}

	now := s.now().UTC()
	mtd := ledger.MonthToDate(now)
	spent, err := s.spend(ctx, org.ID, mtd)
	if err != nil {
		return nil, err
	}
	report := budget.Evaluate(policy, spent, mtd.Start, now)
	if report != nil {
		s.observer.ObserveBudget(report.Status)
	}
	if err := budget.Check(report); err != nil {
		return nil, err
	}

	if policy != nil && policy.DailyUserLimit != nil && *policy.DailyUserLimit > 0 {
		limit := *policy.DailyUserLimit
		used, err := s.reader.Count(ctx, org.ID, req.ActorID, ledger.Today(now), limit)
		if err != nil {
			return nil, err
		}
		if used >= limit {
			return nil, fmt.Errorf("%w: %d of %d queries used today", ErrDailyLimit, used, limit)
		}
	}

	details := map[string]any{"model": model}
	if req.InputTokens != nil {
		details["input_tokens"] = *req.InputTokens
	}
	if req.OutputTokens != nil {
		details["output_tokens"] = *req.OutputTokens
	}
	ev := models.UsageEvent{
		OrganizationID: org.ID,
		ActorID:        req.ActorID,
		Action:         models.ActionChatQuery,
		CreatedAt:      now,
		Details:        details,
	}
	id, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("record chat: %w", err)
	}
	est := s.estimator.Estimate(ev)

	receipt := &ChatReceipt{
		EventID:        id,
		OrganizationID: org.ID,
		Model:          model,
		InputTokens:    est.InputTokens,
		OutputTokens:   est.OutputTokens,
		Estimated:      est.Estimated,
		Cost:           money(est.Cost),
	}
	if report != nil {
		receipt.BudgetStatus = budget.Classify(pct(spent.Add(est.Cost), report.Limit))
	}

	if s.reloader != nil {
		r, err := s.reload(ctx, org, spent.Add(est.Cost))
		if err != nil {
			s.logger.Warn("auto-reload failed", zap.String("org_id", org.ID), zap.Error(err))
		} else if r.Outcome != reload.OutcomeNotTriggered {
			receipt.Reload = r
		}
	}
	return receipt, nil
}

// Reload evaluates the auto-reload policy of orgID against month-to-date spend.
func (s *Service) Reload(ctx context.Context, orgID string) (*reload.Result, error) {
	if s.reloader == nil {
		return nil, fmt.Errorf("auto-reload is not configured")
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	org, err := s.store.Organization(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("load organization: %w", err)
	}
	spent, err := s.spend(ctx, org.ID, ledger.MonthToDate(s.now()))
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, org, spent)
}

// reload evaluates the executor and records an applied reload in the audit log.
func (s *Service) reload(ctx context.Context, org *models.Organization, spent decimal.Decimal) (*reload.Result, error) {
	r, err := s.reloader.Evaluate(ctx, org, spent)
	if err != nil {
		return r, err
	}
	if err := s.audit.Reloaded(ctx, org.ID, r); err != nil {
		s.logger.Warn("audit reload", zap.String("org_id", org.ID), zap.Error(err))
	}
	return r, nil
}

// spend sums every chat event in w, ignoring the row cap.
func (s *Service) spend(ctx context.Context, orgID string, w ledger.Window) (decimal.Decimal, error) {
	agg, err := meter.Aggregate(s.reader.Uncapped().Scan(ctx, orgID, w).All(), s.estimator, w)
	if err != nil {
		return decimal.Zero, err
	}
	s.observer.ObserveScan(agg.Totals.Events, agg.Totals.EstimatedEvents)
	return agg.Totals.Cost, nil
}

func pct(spent, limit decimal.Decimal) float64 {
	if limit.IsZero() {
		return 0
	}
	return spent.Div(limit).Mul(decimal.NewFromInt(100)).InexactFloat64()
}
