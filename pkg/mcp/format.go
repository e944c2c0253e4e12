package mcp

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/models"
)

func formatModels(v *metering.ModelsView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Organization %s, tier %d (%s)\n", v.OrganizationID, v.Tier, v.TierLabel)
	if v.ModelLock != "" {
		fmt.Fprintf(&b, "Locked to %s\n", v.ModelLock)
	}
	fmt.Fprintf(&b, "Default model: %s\n\n", v.DefaultModel)

	fmt.Fprintf(&b, "%-20s %-20s %-10s %-5s %s\n", "Model", "Name", "Provider", "Cost", "Rates")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, m := range v.Allowed {
		fmt.Fprintf(&b, "%-20s %-20s %-10s %-5s %s\n", m.ID, m.Name, m.Provider, m.CostTier, m.Rates)
	}
	if len(v.Restricted) > 0 {
		b.WriteString("\nRestricted:\n")
		for _, m := range v.Restricted {
			fmt.Fprintf(&b, "  %-20s requires tier %d\n", m.ID, m.RequiredTier)
		}
	}
	return b.String()
}

func formatReport(r *metering.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage for %s (%s), period %s\n", r.Organization.Name, r.Organization.ID, r.Period)
	if r.DataState == ledger.StateEmpty {
		b.WriteString("No usage recorded in this period.\n")
	}
	t := r.Totals
	fmt.Fprintf(&b, "  Queries:     %d (%d estimated, %d unknown model)\n", t.Queries, t.EstimatedQueries, t.UnknownModelQueries)
	fmt.Fprintf(&b, "  Tokens:      %d in, %d out\n", t.InputTokens, t.OutputTokens)
	fmt.Fprintf(&b, "  Cost:        $%.4f ($%.4f/query)\n", t.Cost, t.CostPerQuery)
	fmt.Fprintf(&b, "  Projected:   $%.2f/month\n", t.ProjectedMonthly)
	fmt.Fprintf(&b, "  Active users %d of %d\n", t.ActiveUsers, t.TotalUsers)
	if r.Approximate {
		b.WriteString("  (approximate: scan hit the row cap)\n")
	}

	if bv := r.Budget; bv != nil {
		fmt.Fprintf(&b, "\nBudget: $%.2f of $%.2f (%.1f%%) %s, remaining $%.2f\n",
			bv.Spent, bv.MonthlyLimit, bv.PctUsed, bv.Status, bv.Remaining)
	}

	if len(r.ByModel) > 0 {
		fmt.Fprintf(&b, "\n%-20s %8s %12s %12s %10s\n", "Model", "Queries", "Input", "Output", "Cost")
		b.WriteString(strings.Repeat("-", 66) + "\n")
		for _, row := range r.ByModel {
			fmt.Fprintf(&b, "%-20s %8d %12d %12d %10.4f\n", row.Key, row.Queries, row.InputTokens, row.OutputTokens, row.Cost)
		}
	}
	if len(r.ByActor) > 0 {
		fmt.Fprintf(&b, "\n%-20s %8s %10s\n", "Member", "Queries", "Cost")
		b.WriteString(strings.Repeat("-", 40) + "\n")
		for _, row := range r.ByActor {
			fmt.Fprintf(&b, "%-20s %8d %10.4f\n", row.Key, row.Queries, row.Cost)
		}
	}
	return b.String()
}

func formatSummary(s *metering.PlatformSummary) string {
	if len(s.Organizations) == 0 {
		return "No organizations found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-24s %8s %8s %12s\n", "Organization", "Name", "Queries", "Users", "Cost")
	b.WriteString(strings.Repeat("-", 76) + "\n")
	for _, o := range s.Organizations {
		fmt.Fprintf(&b, "%-20s %-24s %8d %8d %12.4f\n", o.ID, o.Name, o.Queries, o.ActiveUsers, o.Cost)
	}
	b.WriteString(strings.Repeat("-", 76) + "\n")
	fmt.Fprintf(&b, "%-20s %-24s %8d %8d %12.4f\n", "Total", "", s.Totals.Queries, s.Totals.ActiveUsers, s.Totals.Cost)
	return b.String()
}

func formatAuditEntries(entries []models.UsageEvent) string {
	if len(entries) == 0 {
		return "No audit entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-12s %-16s %-12s %s\n", "Time", "Org", "Action", "Actor", "Details")
	b.WriteString(strings.Repeat("-", 100) + "\n")
	for _, e := range entries {
		actor := e.ActorID
		if actor == "" {
			actor = "-"
		}
		details, _ := json.Marshal(e.Details)
		fmt.Fprintf(&b, "%-20s %-12s %-16s %-12s %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.OrganizationID, e.Action, actor, details)
	}
	return b.String()
}
