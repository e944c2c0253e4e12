// Package metering wires tier resolution, the access filter, the usage ledger and
// the budget engine into per-request operations.
package metering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/pario-ai/tollgate/pkg/audit"
	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/ledger"
	"github.com/pario-ai/tollgate/pkg/meter"
	"github.com/pario-ai/tollgate/pkg/models"
	"github.com/pario-ai/tollgate/pkg/reload"
	"github.com/pario-ai/tollgate/pkg/settings"
	"github.com/pario-ai/tollgate/pkg/store"
	"github.com/pario-ai/tollgate/pkg/tier"
)

var (
	// ErrDailyLimit is returned when an actor has used its daily query allowance.
	ErrDailyLimit = errors.New("daily user limit reached")
	// ErrNotPlatformOwner guards the cross-organization summary.
	ErrNotPlatformOwner = errors.New("platform owner required")
)

// InputError reports a malformed request field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DefaultScanTimeout bounds a metering request when none is configured.
const DefaultScanTimeout = 10 * time.Second

// Config holds the service's tunables.
type Config struct {
	PlatformOwnerID      string
	MaxEvents            int
	FallbackInputTokens  int64
	FallbackOutputTokens int64
	ScanTimeout          time.Duration
}

// Observer receives measurements for metrics.
type Observer interface {
	ObserveScan(events, estimated int)
	ObserveBudget(status budget.Status)
}

type nopObserver struct{}

func (nopObserver) ObserveScan(int, int)        {}
func (nopObserver) ObserveBudget(budget.Status) {}

// Service is stateless between calls; every request re-reads the store.
type Service struct {
	store     store.Store
	resolver  *tier.Resolver
	reader    *ledger.Reader
	estimator *meter.Estimator
	mutator   *settings.Mutator
	reloader  *reload.Executor
	audit     *audit.Logger
	observer  Observer
	cfg       Config
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithReloader enables auto-reload evaluation after recorded chats.
func WithReloader(r *reload.Executor) Option {
	return func(s *Service) { s.reloader = r }
}

// WithObserver attaches a metrics observer.
func WithObserver(o Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New creates a Service over st.
func New(st store.Store, cfg Config, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	resolver := tier.NewResolver(st)
	s := &Service{
		store:     st,
		resolver:  resolver,
		reader:    ledger.NewReader(st, cfg.MaxEvents),
		estimator: meter.NewEstimator(cfg.FallbackInputTokens, cfg.FallbackOutputTokens),
		mutator:   settings.New(resolver, st, logger),
		audit:     audit.New(st, logger),
		observer:  nopObserver{},
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "metering")),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.ScanTimeout)
}

// membership resolves the actor and loads the organization it resolved to.
func (s *Service) membership(ctx context.Context, actorID, orgID string) (tier.Resolution, *models.Organization, *models.BudgetPolicy, error) {
	res, err := s.resolver.Resolve(ctx, actorID, orgID)
	if err != nil {
		return res, nil, nil, err
	}
	org, err := s.store.Organization(ctx, res.OrganizationID)
	if err != nil {
		return res, nil, nil, fmt.Errorf("load organization: %w", err)
	}
	policy, err := org.Settings.BudgetPolicy()
	if err != nil {
		return res, nil, nil, err
	}
	return res, org, policy, nil
}

// UpdateBudget applies a budget patch on behalf of actorID.
func (s *Service) UpdateBudget(ctx context.Context, actorID, orgID string, patch models.BudgetPatch, ifVersion *int64) (*settings.Result, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	res, err := s.mutator.Apply(ctx, actorID, orgID, patch, ifVersion)
	if err != nil {
		return nil, err
	}
	if res.Changed {
		if err := s.audit.BudgetUpdated(ctx, actorID, res); err != nil {
			s.logger.Warn("audit budget update", zap.String("org_id", res.OrganizationID), zap.Error(err))
		}
	}
	return res, nil
}

// AuditLog returns recorded budget changes and reloads, newest first.
func (s *Service) AuditLog(ctx context.Context, q audit.Query) ([]models.UsageEvent, error) {
	ctx, cancel := s.withDeadline(ctx)
	defer cancel()
	return s.audit.Query(ctx, q)
}

// Ping checks the store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}
