package metering

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/meter"
	"github.com/pario-ai/tollgate/pkg/models"
)

// OrgSummary identifies the reported organization.
type OrgSummary struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// TotalsView is the headline block of a report.
type TotalsView struct {
	Queries             int     `json:"queries"`
	InputTokens         int64   `json:"input_tokens"`
	OutputTokens        int64   `json:"output_tokens"`
	TotalTokens         int64   `json:"total_tokens"`
	Cost                float64 `json:"cost"`
	CostPerQuery        float64 `json:"cost_per_query"`
	ProjectedMonthly    float64 `json:"projected_monthly"`
	ActiveUsers         int     `json:"active_users"`
	TotalUsers          int     `json:"total_users"`
	EstimatedQueries    int     `json:"estimated_queries"`
	UnknownModelQueries int     `json:"unknown_model_queries"`
}

// BudgetView is the evaluated budget. It is absent from a report when no budget is set.
type BudgetView struct {
	MonthlyLimit     float64       `json:"monthly_limit"`
	Spent            float64       `json:"spent"`
	Remaining        float64       `json:"remaining"`
	PctUsed          float64       `json:"pct_used"`
	Status           budget.Status `json:"status"`
	PeriodStart      time.Time     `json:"period_start"`
	DaysElapsed      int           `json:"days_elapsed"`
	DailyAverage     float64       `json:"daily_average"`
	ProjectedMonthly float64       `json:"projected_monthly"`
	DailyUserLimit   *int          `json:"daily_user_limit,omitempty"`
	AutoReload       bool          `json:"auto_reload"`
	ReloadAmount     float64       `json:"reload_amount"`
	ReloadThreshold  float64       `json:"reload_threshold"`
	ModelLock        string        `json:"model_lock,omitempty"`
}

// UsageRow is one entry of a grouped view.
type UsageRow struct {
	Key          string  `json:"key"`
	Queries      int     `json:"queries"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
}

// Report is an organization's usage over a period.
type Report struct {
	Organization OrgSummary    `json:"organization"`
	Period       ledger.Period `json:"period"`
	Since        *time.Time    `json:"since,omitempty"`
	Until        time.Time     `json:"until"`
	Totals       TotalsView    `json:"totals"`
	Budget       *BudgetView   `json:"budget"`
	ByModel      []UsageRow    `json:"by_model"`
	ByDay        []UsageRow    `json:"by_day"`
	ByActor      []UsageRow    `json:"by_actor"`
	Approximate  bool          `json:"approximate"`
	DataState    ledger.State  `json:"data_state"`
}

// Report builds actorID's view of an organization's usage. Any member may read it.
func (s *Service) Report(ctx context.Context, actorID, orgID, period string) (*Report, error) {
	p, err := ledger.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	_, org, policy, err := s.membership(ctx, actorID, orgID)
	if err != nil {
		return nil, err
	}
	members, err := s.store.MemberCount(ctx, org.ID)
	if err != nil {
		return nil, fmt.Errorf("count members: %w", err)
	}
	return s.orgReport(ctx, org, policy, members, p)
}

func (s *Service) orgReport(ctx context.Context, org *models.Organization, policy *models.BudgetPolicy, members int, p ledger.Period) (*Report, error) {
	now := s.now().UTC()
	window := p.Window(now)
	mtd := ledger.MonthToDate(now)

	scanWindow := window
	if scanWindow.Bounded() && mtd.Start.Before(scanWindow.Start) {
		scanWindow.Start = mtd.Start
	}
	scan := s.reader.Scan(ctx, org.ID, scanWindow)
	agg, err := meter.Aggregate(scan.All(), s.estimator, window, meter.WithSpendWindow(mtd))
	if err != nil {
		s.logger.Warn("usage scan failed", zap.String("org_id", org.ID), zap.Error(err))
		return nil, err
	}
	s.observer.ObserveScan(agg.Totals.Events, agg.Totals.EstimatedEvents)

	r := &Report{
		Organization: OrgSummary{ID: org.ID, Name: org.Name, Members: members},
		Period:       p,
		Until:        window.End,
		Totals:       totalsView(agg.Totals, members, projectionStart(window, agg.Totals), now),
		ByModel:      rows(agg.ByModel),
		ByDay:        rows(agg.ByDay),
		ByActor:      rows(agg.ByActor),
		Approximate:  scan.Truncated(),
		DataState:    ledger.StateOf(agg.Totals.Events, nil),
	}
	if window.Bounded() {
		since := window.Start
		r.Since = &since
	}
	spent := agg.SpendWindowCost
	if policy != nil && scan.Truncated() {
		// the capped scan may have dropped month-to-date events
		spent, err = s.spend(ctx, org.ID, mtd)
		if err != nil {
			return nil, err
		}
	}
	if rep := budget.Evaluate(policy, spent, mtd.Start, now); rep != nil {
		s.observer.ObserveBudget(rep.Status)
		r.Budget = budgetView(rep)
	}
	return r, nil
}

// projectionStart is the window start, or the earliest event for unbounded windows.
func projectionStart(w ledger.Window, t meter.Totals) time.Time {
	if w.Bounded() {
		return w.Start
	}
	if !t.Earliest.IsZero() {
		return t.Earliest
	}
	return w.End
}

func totalsView(t meter.Totals, members int, start, now time.Time) TotalsView {
	v := TotalsView{
		Queries:             t.Events,
		InputTokens:         t.InputTokens,
		OutputTokens:        t.OutputTokens,
		TotalTokens:         t.InputTokens + t.OutputTokens,
		Cost:                money(t.Cost),
		ProjectedMonthly:    money(budget.Project(t.Cost, start, now).ProjectedMonthly),
		ActiveUsers:         t.Actors,
		TotalUsers:          members,
		EstimatedQueries:    t.EstimatedEvents,
		UnknownModelQueries: t.UnknownModelEvents,
	}
	if t.Events > 0 {
		v.CostPerQuery = money(t.Cost.Div(decimal.NewFromInt(int64(t.Events))))
	}
	return v
}

func budgetView(r *budget.Report) *BudgetView {
	return &BudgetView{
		MonthlyLimit:     money(r.Limit),
		Spent:            money(r.Spent),
		Remaining:        money(r.Remaining),
		PctUsed:          decimal.NewFromFloat(r.PctUsed).Round(2).InexactFloat64(),
		Status:           r.Status,
		PeriodStart:      r.PeriodStart,
		DaysElapsed:      r.Forecast.DaysElapsed,
		DailyAverage:     money(r.Forecast.DailyAverage),
		ProjectedMonthly: money(r.Forecast.ProjectedMonthly),
		DailyUserLimit:   r.Policy.DailyUserLimit,
		AutoReload:       r.Policy.AutoReload,
		ReloadAmount:     r.Policy.ReloadAmount,
		ReloadThreshold:  r.Policy.ReloadThreshold,
		ModelLock:        r.Policy.ModelLock,
	}
}

func rows(bs []meter.Breakdown) []UsageRow {
	out := make([]UsageRow, 0, len(bs))
	for _, b := range bs {
		out = append(out, UsageRow{
			Key:          b.Key,
			Queries:      b.Events,
			InputTokens:  b.InputTokens,
			OutputTokens: b.OutputTokens,
			Cost:         money(b.Cost),
		})
	}
	return out
}

// money rounds to six decimal places for presentation.
func money(d decimal.Decimal) float64 {
	return d.Round(6).InexactFloat64()
}

// OrgUsage is one organization's line in the platform summary.
type OrgUsage struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Queries      int     `json:"queries"`
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	ActiveUsers  int     `json:"active_users"`
	Approximate  bool    `json:"approximate,omitempty"`

	cost decimal.Decimal
}

// PlatformSummary is usage across every organization.
type PlatformSummary struct {
	Period        ledger.Period `json:"period"`
	Since         *time.Time    `json:"since,omitempty"`
	Until         time.Time     `json:"until"`
	Organizations []OrgUsage    `json:"organizations"`
	Totals        TotalsView    `json:"totals"`
	Approximate   bool          `json:"approximate"`
	DataState     ledger.State  `json:"data_state"`
}

// PlatformSummary reports usage across all organizations. Only the configured
// platform owner may call it.
func (s *Service) PlatformSummary(ctx context.Context, actorID, period string) (*PlatformSummary, error) {
	if s.cfg.PlatformOwnerID == "" || actorID != s.cfg.PlatformOwnerID {
		return nil, ErrNotPlatformOwner
	}
	return s.Summary(ctx, period)
}

// Summary is PlatformSummary without the caller check, for operator tooling.
func (s *Service) Summary(ctx context.Context, period string) (*PlatformSummary, error) {
	p, err := ledger.ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()

	orgs, err := s.store.Organizations(ctx)
	if err != nil {
		return nil, fmt.Errorf("list organizations: %w", err)
	}

	now := s.now().UTC()
	window := p.Window(now)
	out := &PlatformSummary{Period: p, Until: window.End, Organizations: []OrgUsage{}}
	if window.Bounded() {
		since := window.Start
		out.Since = &since
	}

	var grand meter.Totals
	active := map[string]struct{}{}
	for _, org := range orgs {
		scan := s.reader.Scan(ctx, org.ID, window)
		agg, err := meter.Aggregate(scan.All(), s.estimator, window)
		if err != nil {
			return nil, fmt.Errorf("organization %s: %w", org.ID, err)
		}
		t := agg.Totals
		s.observer.ObserveScan(t.Events, t.EstimatedEvents)
		out.Organizations = append(out.Organizations, OrgUsage{
			ID: org.ID, Name: org.Name,
			Queries:      t.Events,
			InputTokens:  t.InputTokens,
			OutputTokens: t.OutputTokens,
			Cost:         money(t.Cost),
			ActiveUsers:  t.Actors,
			Approximate:  scan.Truncated(),
			cost:         t.Cost,
		})
		out.Approximate = out.Approximate || scan.Truncated()

		grand.Cost = grand.Cost.Add(t.Cost)
		grand.InputTokens += t.InputTokens
		grand.OutputTokens += t.OutputTokens
		grand.Events += t.Events
		grand.EstimatedEvents += t.EstimatedEvents
		grand.UnknownModelEvents += t.UnknownModelEvents
		for _, id := range agg.ActorIDs {
			active[id] = struct{}{}
		}
		if !t.Earliest.IsZero() && (grand.Earliest.IsZero() || t.Earliest.Before(grand.Earliest)) {
			grand.Earliest = t.Earliest
		}
	}

	slices.SortFunc(out.Organizations, func(a, b OrgUsage) int {
		if c := b.cost.Cmp(a.cost); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	grand.Actors = len(active)
	out.Totals = totalsView(grand, 0, projectionStart(window, grand), now)
	out.DataState = ledger.StateOf(grand.Events, nil)
	return out, nil
}
