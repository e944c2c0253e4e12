package models

import "time"

// Role is an actor's role inside an organization.
type Role string

const (
	RoleOwner          Role = "owner"
	RoleDepartmentHead Role = "department_head"
	RoleManager        Role = "manager"
	RoleStaff          Role = "staff"
	RoleOther          Role = "other"
)

// ParseRole maps a stored role string to a Role. Unknown values become RoleOther.
func ParseRole(s string) Role {
	switch r := Role(s); r {
	case RoleOwner, RoleDepartmentHead, RoleManager, RoleStaff:
		return r
	default:
		return RoleOther
	}
}

// Membership links an actor to an organization.
type Membership struct {
	ActorID        string    `json:"actor_id"`
	OrganizationID string    `json:"organization_id"`
	Role           Role      `json:"role"`
	PermissionTier *int      `json:"permission_tier,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Organization is a tenant record with its opaque settings blob.
type Organization struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Settings        Settings  `json:"settings"`
	SettingsVersion int64     `json:"settings_version"`
	CreatedAt       time.Time `json:"created_at"`
}
