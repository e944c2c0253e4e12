// Package budget evaluates an organization's spend against its monthly policy.
package budget

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pario-ai/tollgate/pkg/models"
)

// ErrBudgetExceeded is returned when spend has reached the monthly limit.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Status classifies spend against the limit.
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusExceeded Status = "exceeded"
)

// Thresholds in percent of the monthly limit.
const (
	WarningPct  = 80.0
	ExceededPct = 100.0
)

// ProjectionDays is the month length used for projections.
const ProjectionDays = 30

// Classify maps a percentage used to a status.
func Classify(pct float64) Status {
	switch {
	case pct >= ExceededPct:
		return StatusExceeded
	case pct >= WarningPct:
		return StatusWarning
	default:
		return StatusOK
	}
}

// Forecast extrapolates spend to a full month.
type Forecast struct {
	DaysElapsed      int
	DailyAverage     decimal.Decimal
	ProjectedMonthly decimal.Decimal
}

// Project computes a forecast for spend accrued between start and now.
// Elapsed time counts UTC calendar days and is never less than one.
func Project(spent decimal.Decimal, start, now time.Time) Forecast {
	days := calendarDays(start, now)
	avg := spent.Div(decimal.NewFromInt(int64(days)))
	return Forecast{
		DaysElapsed:      days,
		DailyAverage:     avg,
		ProjectedMonthly: avg.Mul(decimal.NewFromInt(ProjectionDays)),
	}
}

func calendarDays(start, now time.Time) int {
	s := start.UTC()
	n := now.UTC()
	sd := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	nd := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
	days := int(nd.Sub(sd).Hours() / 24)
	return max(1, days)
}

// Report is the evaluated state of a budget policy.
type Report struct {
	Policy      models.BudgetPolicy
	Spent       decimal.Decimal
	Limit       decimal.Decimal
	Remaining   decimal.Decimal
	PctUsed     float64
	Status      Status
	PeriodStart time.Time
	Forecast    Forecast
}

// Evaluate folds month-to-date spend into policy. It returns nil when no budget
// is configured, which is distinct from being under budget.
func Evaluate(policy *models.BudgetPolicy, spent decimal.Decimal, periodStart, now time.Time) *Report {
	if policy == nil || policy.MonthlyLimit <= 0 {
		return nil
	}
	limit := decimal.NewFromFloat(policy.MonthlyLimit)
	pct := spent.Div(limit).Mul(decimal.NewFromInt(100)).InexactFloat64()
	return &Report{
		Policy:      *policy,
		Spent:       spent,
		Limit:       limit,
		Remaining:   limit.Sub(spent),
		PctUsed:     pct,
		Status:      Classify(pct),
		PeriodStart: periodStart,
		Forecast:    Project(spent, periodStart, now),
	}
}

// Check returns ErrBudgetExceeded when r reports an exceeded budget.
// A nil report never blocks.
func Check(r *Report) error {
	if r != nil && r.Status == StatusExceeded {
		return ErrBudgetExceeded
	}
	return nil
}

// PeriodStart returns the start of the UTC calendar month containing now.
func PeriodStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
