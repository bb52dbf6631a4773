package identity

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store describes the persistence operations the identity core depends on.
// Implementations must translate their own failures into the sentinel errors
// of this package; raw driver errors never cross this boundary unwrapped.
type Store interface {
	// Users.
	CreateUser(ctx context.Context, u *User) error
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*User, error)
	// UpdateUser persists profile fields, the password hash and the
	// failed-attempts/lock-expiry pair.
	UpdateUser(ctx context.Context, u *User) error
	ListUsers(ctx context.Context) ([]User, error)

	// Services (tenants).
	CreateService(ctx context.Context, svc *Service) error
	GetServiceByName(ctx context.Context, name string) (*Service, error)
	GetServiceByID(ctx context.Context, id uuid.UUID) (*Service, error)
	ListServices(ctx context.Context) ([]Service, error)

	// Roles.
	CreateRole(ctx context.Context, role *Role) error
	GetRoleByName(ctx context.Context, serviceID uuid.UUID, name string) (*Role, error)
	GetUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error)
	AssignRole(ctx context.Context, userID, roleID uuid.UUID) error
	UnassignRole(ctx context.Context, userID, roleID uuid.UUID) error

	// Permissions.
	CreatePermission(ctx context.Context, perm *Permission) error
	SetRolePermissions(ctx context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error
	GrantPermission(ctx context.Context, userID, permissionID uuid.UUID, expiresAt *time.Time) error
	RevokePermission(ctx context.Context, userID, permissionID uuid.UUID) error

	// CheckUserPermission evaluates the role path first, then the direct
	// grant path; the result is the OR of the two.
	CheckUserPermission(ctx context.Context, userID, serviceID uuid.UUID, resource, action string) (bool, error)
	// GetUserPermissions enumerates role-derived and direct grants, tagged
	// with their source. A nil serviceID returns grants across all services.
	GetUserPermissions(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) ([]PermissionGrant, error)
}
