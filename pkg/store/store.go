// Package store defines the persistence boundary for organizations, memberships and the usage log.
package store

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/pario-ai/tollgate/pkg/models"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a settings write observes a different version than expected.
	ErrVersionConflict = errors.New("settings version conflict")
)

// EventQuery selects usage events. Results are ordered newest first.
type EventQuery struct {
	OrganizationID string
	ActorID        string
	Action         string
	Since          time.Time
	Until          time.Time
	Limit          int
}

// Store is the relational store consumed by the metering engine.
type Store interface {
	// Memberships returns every membership held by an actor.
	Memberships(ctx context.Context, actorID string) ([]models.Membership, error)
	// MemberCount returns the number of members in an organization.
	MemberCount(ctx context.Context, orgID string) (int, error)
	// Organization returns one organization or ErrNotFound.
	Organization(ctx context.Context, orgID string) (*models.Organization, error)
	// Organizations returns all organizations ordered by id.
	Organizations(ctx context.Context) ([]models.Organization, error)
	// UpdateSettings replaces the settings blob if the stored version equals expectedVersion
	// and returns the new version. A mismatch yields ErrVersionConflict.
	UpdateSettings(ctx context.Context, orgID string, settings models.Settings, expectedVersion int64) (int64, error)
	// Events streams matching usage events. Each range runs a fresh query.
	Events(ctx context.Context, q EventQuery) iter.Seq2[models.UsageEvent, error]
	// AppendEvent adds an event to the usage log and returns its id.
	AppendEvent(ctx context.Context, ev models.UsageEvent) (int64, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases resources.
	Close() error
}

// Seeder creates organizations and memberships. Used by the seed command and tests.
type Seeder interface {
	CreateOrganization(ctx context.Context, org models.Organization) error
	AddMembership(ctx context.Context, m models.Membership) error
}
