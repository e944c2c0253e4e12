// Package tier derives an actor's effective permission tier from its organization memberships.
package tier

import (
	"context"
	"errors"
	"fmt"

	"github.com/pario-ai/tollgate/pkg/models"
)

// Tier is a privilege level from 1 (most privileged) to 4 (least).
type Tier int

const (
	Owner          Tier = 1
	DepartmentHead Tier = 2
	Manager        Tier = 3
	Staff          Tier = 4
)

// LeastPrivileged is the most restrictive tier.
const LeastPrivileged = Staff

// defaultTier applies to non-owner memberships without a usable explicit tier.
const defaultTier = Manager

var (
	// ErrNoMembership is returned when the actor has no membership to resolve against.
	ErrNoMembership = errors.New("no organization membership")
	// ErrActorRequired is returned for an empty actor id.
	ErrActorRequired = errors.New("actor id required")
)

// Valid reports whether t is within [1,4].
func (t Tier) Valid() bool { return t >= Owner && t <= Staff }

// Label returns a human-readable tier name.
func (t Tier) Label() string {
	switch t {
	case Owner:
		return "Owner"
	case DepartmentHead:
		return "Department Head"
	case Manager:
		return "Manager"
	case Staff:
		return "Staff"
	default:
		return fmt.Sprintf("Tier %d", int(t))
	}
}

// MembershipSource loads an actor's memberships.
type MembershipSource interface {
	Memberships(ctx context.Context, actorID string) ([]models.Membership, error)
}

// Resolution is the outcome of resolving an actor against an organization.
type Resolution struct {
	ActorID        string      `json:"actor_id"`
	OrganizationID string      `json:"organization_id"`
	Role           models.Role `json:"role"`
	Tier           Tier        `json:"tier"`
}

// Resolver computes effective tiers. It holds no state between calls.
type Resolver struct {
	src MembershipSource
}

// NewResolver creates a Resolver reading memberships from src.
func NewResolver(src MembershipSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the actor's effective tier. When orgID is empty the owner
// membership is preferred, then the first membership found.
func (r *Resolver) Resolve(ctx context.Context, actorID, orgID string) (Resolution, error) {
	if actorID == "" {
		return Resolution{}, ErrActorRequired
	}
	ms, err := r.src.Memberships(ctx, actorID)
	if err != nil {
		return Resolution{}, fmt.Errorf("load memberships: %w", err)
	}
	m, ok := choose(ms, orgID)
	if !ok {
		return Resolution{}, ErrNoMembership
	}
	return Resolution{
		ActorID:        actorID,
		OrganizationID: m.OrganizationID,
		Role:           m.Role,
		Tier:           Of(m),
	}, nil
}

func choose(ms []models.Membership, orgID string) (models.Membership, bool) {
	if len(ms) == 0 {
		return models.Membership{}, false
	}
	if orgID != "" {
		for _, m := range ms {
			if m.OrganizationID == orgID {
				return m, true
			}
		}
		return models.Membership{}, false
	}
	for _, m := range ms {
		if m.Role == models.RoleOwner {
			return m, true
		}
	}
	return ms[0], true
}

// Of computes the tier carried by a single membership.
func Of(m models.Membership) Tier {
	if m.Role == models.RoleOwner {
		return Owner
	}
	if m.PermissionTier != nil {
		if t := Tier(*m.PermissionTier); t.Valid() {
			return t
		}
	}
	return defaultTier
}
