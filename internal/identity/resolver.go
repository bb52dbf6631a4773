package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Resolver answers permission and role queries against current persisted
// state. It performs no caching: every call reflects what the store holds
// at that moment.
type Resolver struct {
	store Store
}

// NewResolver constructs a Resolver.
func NewResolver(store Store) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("identity: resolver store is required")
	}
	return &Resolver{store: store}, nil
}

// HasPermission reports whether the user holds (resource, action) in the
// given service, either through a role or through a direct grant. The store
// evaluates the role path first; the result is the OR of the two paths.
func (r *Resolver) HasPermission(ctx context.Context, userID, serviceID uuid.UUID, resource, action string) (bool, error) {
	if userID == uuid.Nil || serviceID == uuid.Nil {
		return false, fmt.Errorf("%w: user_id and service_id are required", ErrInvalidInput)
	}
	if resource == "" || action == "" {
		return false, fmt.Errorf("%w: resource and action are required", ErrInvalidInput)
	}
	ok, err := r.store.CheckUserPermission(ctx, userID, serviceID, resource, action)
	if err != nil {
		return false, fmt.Errorf("check permission: %w", err)
	}
	return ok, nil
}

// ListUserPermissions enumerates the union of role-derived and direct
// grants. Entries are tagged with their source and deliberately not
// de-duplicated across sources. A nil serviceID spans all services.
func (r *Resolver) ListUserPermissions(ctx context.Context, userID uuid.UUID, serviceID *uuid.UUID) ([]PermissionGrant, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	grants, err := r.store.GetUserPermissions(ctx, userID, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list permissions: %w", err)
	}
	return grants, nil
}

// ListUserRoles returns the user's roles across all services; the token
// service uses it to build the roles-by-service claim.
func (r *Resolver) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidInput)
	}
	roles, err := r.store.GetUserRoles(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	return roles, nil
}
