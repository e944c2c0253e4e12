package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/pario-ai/tollgate/pkg/audit"
	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/metering"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/tier"
)

// fakeMetering implements Metering for testing.
type fakeMetering struct {
	models  *metering.ModelsView
	report  *metering.Report
	summary *metering.PlatformSummary

	entries   []models.UsageEvent
	gotActor  string
	gotPeriod string
	gotQuery  audit.Query
}

func (f *fakeMetering) Models(_ context.Context, actorID, _ string) (*metering.ModelsView, error) {
	f.gotActor = actorID
	if f.models == nil {
		return nil, tier.ErrNoMembership
	}
	return f.models, nil
}

func (f *fakeMetering) Report(_ context.Context, actorID, _, period string) (*metering.Report, error) {
	f.gotActor, f.gotPeriod = actorID, period
	if _, err := ledger.ParsePeriod(period); err != nil {
		return nil, err
	}
	return f.report, nil
}

func (f *fakeMetering) Summary(_ context.Context, period string) (*metering.PlatformSummary, error) {
	f.gotPeriod = period
	return f.summary, nil
}

func (f *fakeMetering) AuditLog(_ context.Context, q audit.Query) ([]models.UsageEvent, error) {
	f.gotQuery = q
	return f.entries, nil
}

func sendAndReceive(t *testing.T, srv *Server, req Request) Response {
	t.Helper()
	line, err := json.Marshal(req)
	if err != nil {
		t.Fatal(err)
	}
	line = append(line, '\n')

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}

	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v\nraw: %s", err, out.String())
	}
	return resp
}

func callTool(t *testing.T, srv *Server, name, args string) ToolCallResult {
	t.Helper()
	params, _ := json.Marshal(ToolCallParams{Name: name, Arguments: json.RawMessage(args)})
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`3`),
		Method:  "tools/call",
		Params:  params,
	})
	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}
	data, _ := json.Marshal(resp.Result)
	var result ToolCallResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatal(err)
	}
	if len(result.Content) == 0 {
		t.Fatal("expected content")
	}
	return result
}

func TestInitialize(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  "initialize",
	})

	if resp.Error != nil {
		t.Fatalf("unexpected error: %v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result InitializeResult
	json.Unmarshal(data, &result)

	if result.ProtocolVersion != "2024-11-05" {
		t.Errorf("protocol version = %s, want 2024-11-05", result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "tollgate" {
		t.Errorf("server name = %s, want tollgate", result.ServerInfo.Name)
	}
}

func TestToolsList(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`2`),
		Method:  "tools/list",
	})

	data, _ := json.Marshal(resp.Result)
	var result ToolsListResult
	json.Unmarshal(data, &result)

	names := make(map[string]bool)
	for _, tool := range result.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"tollgate_models", "tollgate_usage_report", "tollgate_org_summary", "tollgate_audit_search"} {
		if !names[want] {
			t.Errorf("missing tool: %s", want)
		}
	}
	if len(result.Tools) != len(toolHandlers) {
		t.Errorf("listed %d tools, %d handlers", len(result.Tools), len(toolHandlers))
	}
}

func TestToolCallModels(t *testing.T) {
	fm := &fakeMetering{models: &metering.ModelsView{
		OrganizationID: "acme", Tier: 4, TierLabel: "Staff",
		ModelLock: "claude-4-sonnet", DefaultModel: "claude-4-sonnet",
		Allowed: []metering.ModelInfo{{ID: "claude-4-sonnet", Name: "Claude 4 Sonnet", Provider: "Anthropic", CostTier: "$$$"}},
	}}
	srv := New(fm, "test", nil)

	result := callTool(t, srv, "tollgate_models", `{"actor_id":"sam","org_id":"acme"}`)
	text := result.Content[0].Text
	if !strings.Contains(text, "Locked to claude-4-sonnet") {
		t.Errorf("expected lock line, got: %s", text)
	}
	if fm.gotActor != "sam" {
		t.Errorf("actor = %q, want sam", fm.gotActor)
	}
}

func TestToolCallModelsRequiresActor(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	result := callTool(t, srv, "tollgate_models", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for missing actor_id")
	}
}

func TestToolCallModelsNoMembership(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	result := callTool(t, srv, "tollgate_models", `{"actor_id":"stranger"}`)
	if !result.IsError || !strings.Contains(result.Content[0].Text, "membership") {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestToolCallUsageReport(t *testing.T) {
	fm := &fakeMetering{report: &metering.Report{
		Organization: metering.OrgSummary{ID: "acme", Name: "Acme"},
		Period:       ledger.Period30d,
		Totals:       metering.TotalsView{Queries: 40, Cost: 52},
		Budget:       &metering.BudgetView{MonthlyLimit: 50, Spent: 52, Remaining: -2, PctUsed: 104, Status: budget.StatusExceeded},
		ByModel:      []metering.UsageRow{{Key: "gpt-4o", Queries: 40, Cost: 52}},
		DataState:    ledger.StateOK,
	}}
	srv := New(fm, "test", nil)

	result := callTool(t, srv, "tollgate_usage_report", `{"actor_id":"olivia","period":"30d"}`)
	text := result.Content[0].Text
	for _, want := range []string{"Acme", "exceeded", "remaining $-2.00", "gpt-4o"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in output, got: %s", want, text)
		}
	}
	if fm.gotPeriod != "30d" {
		t.Errorf("period = %q, want 30d", fm.gotPeriod)
	}
}

func TestToolCallUsageReportBadPeriod(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	result := callTool(t, srv, "tollgate_usage_report", `{"actor_id":"olivia","period":"1y"}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown period")
	}
}

func TestToolCallOrgSummary(t *testing.T) {
	fm := &fakeMetering{summary: &metering.PlatformSummary{
		Organizations: []metering.OrgUsage{
			{ID: "acme", Name: "Acme", Queries: 3, Cost: 1.5},
			{ID: "beta", Name: "Beta", Queries: 1, Cost: 0.25},
		},
		Totals: metering.TotalsView{Queries: 4, Cost: 1.75},
	}}
	srv := New(fm, "test", nil)

	text := callTool(t, srv, "tollgate_org_summary", `{"period":"all"}`).Content[0].Text
	if strings.Index(text, "acme") > strings.Index(text, "beta") {
		t.Errorf("expected acme before beta: %s", text)
	}
	if !strings.Contains(text, "1.7500") {
		t.Errorf("expected grand total, got: %s", text)
	}
}

func TestUnknownTool(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	result := callTool(t, srv, "tollgate_stats", `{}`)
	if !result.IsError {
		t.Error("expected isError=true for unknown tool")
	}
}

func TestNotificationNoResponse(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)

	line, _ := json.Marshal(Request{
		JSONRPC: "2.0",
		Method:  "notifications/initialized",
	})
	line = append(line, '\n')

	var out bytes.Buffer
	_ = srv.Run(context.Background(), bytes.NewReader(line), &out)

	if out.Len() != 0 {
		t.Errorf("expected no output for notification, got: %s", out.String())
	}
}

func TestUnknownMethod(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	resp := sendAndReceive(t, srv, Request{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`9`),
		Method:  "unknown/method",
	})

	if resp.Error == nil {
		t.Fatal("expected error for unknown method")
	}
	if resp.Error.Code != CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", resp.Error.Code, CodeMethodNotFound)
	}
}

func TestParseError(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)

	var out bytes.Buffer
	if err := srv.Run(context.Background(), strings.NewReader("{not json\n"), &out); err != nil {
		t.Fatal(err)
	}
	var resp Response
	if err := json.Unmarshal(out.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error == nil || resp.Error.Code != CodeParseError {
		t.Errorf("expected parse error, got %+v", resp)
	}
}

func TestToolCallAuditSearch(t *testing.T) {
	fm := &fakeMetering{entries: []models.UsageEvent{{
		OrganizationID: "acme", ActorID: "olivia", Action: audit.ActionBudgetUpdated,
		CreatedAt: time.Date(2025, 1, 11, 12, 0, 0, 0, time.UTC),
		Details:   map[string]any{"version": 2},
	}}}
	srv := New(fm, "test", nil)

	text := callTool(t, srv, "tollgate_audit_search", `{"org_id":"acme","since":"2025-01-01"}`).Content[0].Text
	if !strings.Contains(text, "budget_updated") || !strings.Contains(text, "olivia") {
		t.Errorf("unexpected audit output: %s", text)
	}
	if fm.gotQuery.Limit != 50 || fm.gotQuery.Since.IsZero() {
		t.Errorf("unexpected query: %+v", fm.gotQuery)
	}
}

func TestToolCallAuditSearchBadDate(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	result := callTool(t, srv, "tollgate_audit_search", `{"since":"yesterday"}`)
	if !result.IsError {
		t.Error("expected isError=true for bad since date")
	}
}

func TestUnknownNotificationIsSilent(t *testing.T) {
	srv := New(&fakeMetering{}, "test", nil)
	line := []byte(`{"jsonrpc":"2.0","method":"notifications/cancelled","params":{"requestId":3}}` + "\n")

	var out bytes.Buffer
	if err := srv.Run(context.Background(), bytes.NewReader(line), &out); err != nil {
		t.Fatal(err)
	}
	if out.Len() != 0 {
		t.Errorf("expected no output, got: %s", out.String())
	}
}
