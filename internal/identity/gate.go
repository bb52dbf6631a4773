package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Gate is the request-time enforcement point. Role checks read the roles
// snapshot carried by the principal (stale until token expiry by design);
// permission checks always go through the resolver, so they see revocations
// immediately.
type Gate struct {
	resolver    *Resolver
	serviceID   uuid.UUID
	serviceName string
}

// NewGate constructs a Gate bound to the service this deployment instance
// represents.
func NewGate(resolver *Resolver, serviceID uuid.UUID, serviceName string) (*Gate, error) {
	if resolver == nil {
		return nil, errors.New("identity: gate resolver is required")
	}
	if serviceID == uuid.Nil || serviceName == "" {
		return nil, errors.New("identity: gate service identity is required")
	}
	return &Gate{resolver: resolver, serviceID: serviceID, serviceName: serviceName}, nil
}

// RequireRole checks the principal's roles snapshot for roleName, filtered
// to serviceName when given, otherwise to this instance's own service.
func (g *Gate) RequireRole(principal UserWithRoles, roleName string, serviceName ...string) error {
	target := g.serviceName
	if len(serviceName) > 0 && serviceName[0] != "" {
		target = serviceName[0]
	}
	if !principal.HasRole(target, roleName) {
		return &MissingRoleError{Role: roleName, Service: target}
	}
	return nil
}

// RequirePermission resolves (resource, action) freshly against the store,
// scoped to this instance's service.
func (g *Gate) RequirePermission(ctx context.Context, principal UserWithRoles, resource, action string) error {
	return g.RequirePermissionForService(ctx, principal, g.serviceID, resource, action)
}

// RequirePermissionForService is the cross-service variant of
// RequirePermission.
func (g *Gate) RequirePermissionForService(ctx context.Context, principal UserWithRoles, serviceID uuid.UUID, resource, action string) error {
	ok, err := g.resolver.HasPermission(ctx, principal.User.ID, serviceID, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return &MissingPermissionError{Resource: resource, Action: action}
	}
	return nil
}

// ServiceID returns the tenant id this deployment enforces against.
func (g *Gate) ServiceID() uuid.UUID { return g.serviceID }

// ServiceName returns the tenant name this deployment enforces against.
func (g *Gate) ServiceName() string { return g.serviceName }
