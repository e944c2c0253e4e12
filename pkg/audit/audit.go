// Package audit records administrative actions on the usage event log.
package audit

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/reload"
	"github.com/pario-ai/tollgate/pkg/settings"
	"github.com/pario-ai/tollgate/pkg/store"
)

// Audited action kinds. They share the log with chat_query events but are never metered.
const (
	ActionBudgetUpdated  = "budget_updated"
	ActionBudgetReloaded = "budget_reloaded"
)

// Actions lists every audited action kind.
var Actions = []string{ActionBudgetUpdated, ActionBudgetReloaded}

const defaultLimit = 100

// EventLog is the append-only log audit entries are written to.
type EventLog interface {
	AppendEvent(ctx context.Context, ev models.UsageEvent) (int64, error)
	Events(ctx context.Context, q store.EventQuery) iter.Seq2[models.UsageEvent, error]
}

// Query filters audit entries. An empty Action matches every audited action.
type Query struct {
	OrganizationID string
	Action         string
	Since          time.Time
	Limit          int
}

// Logger writes and queries audit entries.
type Logger struct {
	log    EventLog
	logger *zap.Logger
	now    func() time.Time
}

// New creates a Logger over log.
func New(log EventLog, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		log:    log,
		logger: logger.With(zap.String("component", "audit")),
		now:    time.Now,
	}
}

// BudgetUpdated records a budget policy change made by actorID.
func (l *Logger) BudgetUpdated(ctx context.Context, actorID string, res *settings.Result) error {
	return l.append(ctx, models.UsageEvent{
		OrganizationID: res.OrganizationID,
		ActorID:        actorID,
		Action:         ActionBudgetUpdated,
		Details: map[string]any{
			"version": res.Version,
			"policy":  res.Policy,
		},
	})
}

// Reloaded records an applied auto-reload. Other outcomes are not recorded.
func (l *Logger) Reloaded(ctx context.Context, orgID string, r *reload.Result) error {
	if r == nil || r.Outcome != reload.OutcomeApplied {
		return nil
	}
	return l.append(ctx, models.UsageEvent{
		OrganizationID: orgID,
		Action:         ActionBudgetReloaded,
		Details: map[string]any{
			"operation_id":   r.OperationID,
			"previous_limit": r.Previous,
			"limit":          r.Limit,
			"version":        r.Version,
			"spent":          r.Spent,
		},
	})
}

func (l *Logger) append(ctx context.Context, ev models.UsageEvent) error {
	ev.CreatedAt = l.now().UTC()
	id, err := l.log.AppendEvent(ctx, ev)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	l.logger.Debug("audit entry recorded",
		zap.Int64("id", id),
		zap.String("org_id", ev.OrganizationID),
		zap.String("action", ev.Action),
	)
	return nil
}

// Query returns matching audit entries, newest first.
func (l *Logger) Query(ctx context.Context, q Query) ([]models.UsageEvent, error) {
	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	actions := Actions
	if q.Action != "" {
		if !slices.Contains(Actions, q.Action) {
			return nil, fmt.Errorf("unknown audit action %q", q.Action)
		}
		actions = []string{q.Action}
	}

	var entries []models.UsageEvent
	for _, action := range actions {
		seq := l.log.Events(ctx, store.EventQuery{
			OrganizationID: q.OrganizationID,
			Action:         action,
			Since:          q.Since,
			Limit:          limit,
		})
		for ev, err := range seq {
			if err != nil {
				return nil, fmt.Errorf("query audit: %w", err)
			}
			entries = append(entries, ev)
		}
	}

	slices.SortFunc(entries, func(a, b models.UsageEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}
