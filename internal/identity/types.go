package identity

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity record. Accounts are never physically removed;
// Deleted marks them as soft-deleted.
type User struct {
	ID                  uuid.UUID  `json:"id"`
	Email               string     `json:"email"`
	FirstName           string     `json:"first_name,omitempty"`
	MiddleName          string     `json:"middle_name,omitempty"`
	LastName            string     `json:"last_name,omitempty"`
	PasswordHash        string     `json:"-"`
	Active              bool       `json:"is_active"`
	Verified            bool       `json:"is_verified"`
	FailedLoginAttempts int        `json:"-"`
	LockedUntil         *time.Time `json:"-"`
	Deleted             bool       `json:"-"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// Service is a tenant scope. Each service owns its roles and permissions
// and forms an independent RBAC namespace.
type Service struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	URL         string    `json:"url,omitempty"`
	Port        int       `json:"port,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Role belongs to exactly one service; (service, name) is unique.
// ServiceName is populated on reads that join the owning service.
type Role struct {
	ID          uuid.UUID `json:"id"`
	ServiceID   uuid.UUID `json:"service_id"`
	ServiceName string    `json:"service_name,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Active      bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

// Permission is a (resource, action) capability within a service;
// (service, resource, action) is unique.
type Permission struct {
	ID          uuid.UUID `json:"id"`
	ServiceID   uuid.UUID `json:"service_id"`
	Name        string    `json:"name"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// GrantSource tags how a permission reached the user.
type GrantSource string

const (
	SourceRole   GrantSource = "role"
	SourceDirect GrantSource = "direct"
)

// PermissionGrant is one resolved permission entry. A permission reachable
// through both a role and a direct grant yields two entries differing only
// in Source; provenance is kept for auditing.
type PermissionGrant struct {
	Service  string      `json:"service"`
	Resource string      `json:"resource"`
	Action   string      `json:"action"`
	Name     string      `json:"name"`
	Source   GrantSource `json:"source"`
}

// UserRoleAssignment links a user to a role.
type UserRoleAssignment struct {
	UserID     uuid.UUID `json:"user_id"`
	RoleID     uuid.UUID `json:"role_id"`
	AssignedAt time.Time `json:"assigned_at"`
}

// DirectGrant links a user straight to a permission, bypassing roles.
// ExpiresAt, when set, bounds the grant in time.
type DirectGrant struct {
	UserID       uuid.UUID  `json:"user_id"`
	PermissionID uuid.UUID  `json:"permission_id"`
	AssignedAt   time.Time  `json:"assigned_at"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// UserWithRoles is the authenticated principal: the user record plus the
// roles snapshot fetched at token resolution time.
type UserWithRoles struct {
	User  User   `json:"user"`
	Roles []Role `json:"roles"`
}

// HasRole reports whether the principal holds roleName in serviceName.
func (u UserWithRoles) HasRole(serviceName, roleName string) bool {
	for _, r := range u.Roles {
		if r.ServiceName == serviceName && r.Name == roleName {
			return true
		}
	}
	return false
}

// UserUpdate carries optional profile mutations.
type UserUpdate struct {
	Email     *string
	FirstName *string
	LastName  *string
	Active    *bool
	Verified  *bool
}
