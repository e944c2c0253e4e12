package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/tollgate/pkg/audit"
)

type accessArgs struct {
	ActorID        string `json:"actor_id"`
	OrganizationID string `json:"org_id"`
}

type reportArgs struct {
	ActorID        string `json:"actor_id"`
	OrganizationID string `json:"org_id"`
	Period         string `json:"period"`
}

type summaryArgs struct {
	Period string `json:"period"`
}

type auditSearchArgs struct {
	OrganizationID string `json:"org_id"`
	Action         string `json:"action"`
	Since          string `json:"since"`
	Limit          int    `json:"limit"`
}

// toolHandler is a function that handles a tool call.
type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"tollgate_models":       handleModels,
	"tollgate_usage_report": handleUsageReport,
	"tollgate_org_summary":  handleOrgSummary,
	"tollgate_audit_search": handleAuditSearch,
}

var periodSchema = map[string]any{
	"type":        "string",
	"enum":        []string{"7d", "30d", "90d", "all"},
	"description": "Reporting period (optional, defaults to 30d)",
}

var allTools = []ToolDefinition{
	{
		Name:        "tollgate_models",
		Description: "List the models an organization member may use, and the ones restricted above their tier.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"actor_id"},
			"properties": map[string]any{
				"actor_id": map[string]any{
					"type":        "string",
					"description": "The member whose access to list",
				},
				"org_id": map[string]any{
					"type":        "string",
					"description": "Organization (optional, defaults to the member's primary organization)",
				},
			},
		},
	},
	{
		Name:        "tollgate_usage_report",
		Description: "Show an organization's usage and cost report with budget status, broken down by model, day and member.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"actor_id"},
			"properties": map[string]any{
				"actor_id": map[string]any{
					"type":        "string",
					"description": "The member requesting the report",
				},
				"org_id": map[string]any{
					"type":        "string",
					"description": "Organization (optional)",
				},
				"period": periodSchema,
			},
		},
	},
	{
		Name:        "tollgate_org_summary",
		Description: "Show usage and cost totals for every organization, most expensive first.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"period": periodSchema,
			},
		},
	},
	{
		Name:        "tollgate_audit_search",
		Description: "Search recorded budget policy changes and auto-reloads.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"org_id": map[string]any{
					"type":        "string",
					"description": "Filter by organization (optional)",
				},
				"action": map[string]any{
					"type":        "string",
					"enum":        audit.Actions,
					"description": "Filter by action (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum entries (optional, default 50)",
				},
			},
		},
	},
}

func handleModels(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args accessArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ActorID == "" {
		return errorResult("actor_id is required")
	}
	v, err := s.svc.Models(ctx, args.ActorID, args.OrganizationID)
	if err != nil {
		return errorResult("Error listing models: " + err.Error())
	}
	return textResult(formatModels(v))
}

func handleUsageReport(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args reportArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	if args.ActorID == "" {
		return errorResult("actor_id is required")
	}
	rep, err := s.svc.Report(ctx, args.ActorID, args.OrganizationID, args.Period)
	if err != nil {
		return errorResult("Error building usage report: " + err.Error())
	}
	return textResult(formatReport(rep))
}

func handleOrgSummary(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args summaryArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	sum, err := s.svc.Summary(ctx, args.Period)
	if err != nil {
		return errorResult("Error building summary: " + err.Error())
	}
	return textResult(formatSummary(sum))
}

func handleAuditSearch(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args auditSearchArgs
	if len(rawArgs) > 0 {
		_ = json.Unmarshal(rawArgs, &args)
	}
	q := audit.Query{OrganizationID: args.OrganizationID, Action: args.Action, Limit: args.Limit}
	if q.Limit <= 0 {
		q.Limit = 50
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		q.Since = t
	}
	entries, err := s.svc.AuditLog(ctx, q)
	if err != nil {
		return errorResult("Error searching audit log: " + err.Error())
	}
	return textResult(formatAuditEntries(entries))
}
