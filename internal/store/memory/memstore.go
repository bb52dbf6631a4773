// Package memory provides an in-memory Store used by tests and by the API
// binary when no database DSN is configured.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"identity.org/internal/identity"
)

// Store implements identity.Store with plain maps. Safe for concurrent use.
type Store struct {
	mu sync.RWMutex

	users       map[uuid.UUID]identity.User
	services    map[uuid.UUID]identity.Service
	roles       map[uuid.UUID]identity.Role
	permissions map[uuid.UUID]identity.Permission

	userRoles map[uuid.UUID]map[uuid.UUID]identity.UserRoleAssignment // user -> role
	rolePerms map[uuid.UUID]map[uuid.UUID]struct{}                    // role -> permission
	grants    map[uuid.UUID]map[uuid.UUID]identity.DirectGrant        // user -> permission

	now func() time.Time
}

var _ identity.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		users:       make(map[uuid.UUID]identity.User),
		services:    make(map[uuid.UUID]identity.Service),
		roles:       make(map[uuid.UUID]identity.Role),
		permissions: make(map[uuid.UUID]identity.Permission),
		userRoles:   make(map[uuid.UUID]map[uuid.UUID]identity.UserRoleAssignment),
		rolePerms:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		grants:      make(map[uuid.UUID]map[uuid.UUID]identity.DirectGrant),
		now:         time.Now,
	}
}

// SetClock overrides the time source used for grant expiry (tests).
func (s *Store) SetClock(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Users ---------------------------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return identity.ErrConflict
		}
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.now().UTC()
	}
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = *u
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) && !u.Deleted {
			out := u
			return &out, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) GetUserByID(_ context.Context, id uuid.UUID) (*identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok || u.Deleted {
		return nil, identity.ErrNotFound
	}
	out := u
	return &out, nil
}

func (s *Store) UpdateUser(_ context.Context, u *identity.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; !ok {
		return identity.ErrNotFound
	}
	u.UpdatedAt = s.now().UTC()
	s.users[u.ID] = *u
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]identity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.User, 0, len(s.users))
	for _, u := range s.users {
		if !u.Deleted {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// Services ------------------------------------------------------------------

func (s *Store) CreateService(_ context.Context, svc *identity.Service) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	for _, existing := range s.services {
		if existing.Name == svc.Name {
			return identity.ErrConflict
		}
	}
	if svc.CreatedAt.IsZero() {
		svc.CreatedAt = s.now().UTC()
	}
	svc.UpdatedAt = svc.CreatedAt
	s.services[svc.ID] = *svc
	return nil
}

func (s *Store) GetServiceByName(_ context.Context, name string) (*identity.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svc := range s.services {
		if svc.Name == name {
			out := svc
			return &out, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) GetServiceByID(_ context.Context, id uuid.UUID) (*identity.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	out := svc
	return &out, nil
}

func (s *Store) ListServices(_ context.Context) ([]identity.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.Service, 0, len(s.services))
	for _, svc := range s.services {
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Roles ---------------------------------------------------------------------

func (s *Store) CreateRole(_ context.Context, role *identity.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[role.ServiceID]
	if !ok {
		return identity.ErrNotFound
	}
	if role.ID == uuid.Nil {
		role.ID = uuid.New()
	}
	for _, existing := range s.roles {
		if existing.ServiceID == role.ServiceID && existing.Name == role.Name {
			return identity.ErrConflict
		}
	}
	if role.CreatedAt.IsZero() {
		role.CreatedAt = s.now().UTC()
	}
	role.ServiceName = svc.Name
	s.roles[role.ID] = *role
	return nil
}

func (s *Store) GetRoleByName(_ context.Context, serviceID uuid.UUID, name string) (*identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, role := range s.roles {
		if role.ServiceID == serviceID && role.Name == name {
			out := role
			return &out, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (s *Store) GetUserRoles(_ context.Context, userID uuid.UUID) ([]identity.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []identity.Role
	for roleID := range s.userRoles[userID] {
		if role, ok := s.roles[roleID]; ok {
			out = append(out, role)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceName != out[j].ServiceName {
			return out[i].ServiceName < out[j].ServiceName
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Store) AssignRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return identity.ErrNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return identity.ErrNotFound
	}
	if s.userRoles[userID] == nil {
		s.userRoles[userID] = make(map[uuid.UUID]identity.UserRoleAssignment)
	}
	if _, ok := s.userRoles[userID][roleID]; ok {
		return identity.ErrConflict
	}
	s.userRoles[userID][roleID] = identity.UserRoleAssignment{
		UserID:     userID,
		RoleID:     roleID,
		AssignedAt: s.now().UTC(),
	}
	return nil
}

func (s *Store) UnassignRole(_ context.Context, userID, roleID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.userRoles[userID][roleID]; !ok {
		return identity.ErrNotFound
	}
	delete(s.userRoles[userID], roleID)
	return nil
}

// Permissions ---------------------------------------------------------------

func (s *Store) CreatePermission(_ context.Context, perm *identity.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.services[perm.ServiceID]; !ok {
		return identity.ErrNotFound
	}
	if perm.ID == uuid.Nil {
		perm.ID = uuid.New()
	}
	for _, existing := range s.permissions {
		if existing.ServiceID == perm.ServiceID && existing.Resource == perm.Resource && existing.Action == perm.Action {
			return identity.ErrConflict
		}
	}
	if perm.CreatedAt.IsZero() {
		perm.CreatedAt = s.now().UTC()
	}
	s.permissions[perm.ID] = *perm
	return nil
}

func (s *Store) SetRolePermissions(_ context.Context, roleID uuid.UUID, permissionIDs []uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return identity.ErrNotFound
	}
	next := make(map[uuid.UUID]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		if _, ok := s.permissions[id]; !ok {
			return identity.ErrNotFound
		}
		next[id] = struct{}{}
	}
	s.rolePerms[roleID] = next
	return nil
}

func (s *Store) GrantPermission(_ context.Context, userID, permissionID uuid.UUID, expiresAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		return identity.ErrNotFound
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return identity.ErrNotFound
	}
	if s.grants[userID] == nil {
		s.grants[userID] = make(map[uuid.UUID]identity.DirectGrant)
	}
	if _, ok := s.grants[userID][permissionID]; ok {
		return identity.ErrConflict
	}
	s.grants[userID][permissionID] = identity.DirectGrant{
		UserID:       userID,
		PermissionID: permissionID,
		AssignedAt:   s.now().UTC(),
		ExpiresAt:    expiresAt,
	}
	return nil
}

func (s *Store) RevokePermission(_ context.Context, userID, permissionID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.grants[userID][permissionID]; !ok {
		return identity.ErrNotFound
	}
	delete(s.grants[userID], permissionID)
	return nil
}

func (s *Store) CheckUserPermission(_ context.Context, userID, serviceID uuid.UUID, resource, action string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Role path first; most grants are role-based.
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if s.permissionMatches(permID, serviceID, resource, action) {
				return true, nil
			}
		}
	}
	for permID, grant := range s.grants[userID] {
		if !s.grantLive(grant) {
			continue
		}
		if s.permissionMatches(permID, serviceID, resource, action) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetUserPermissions(_ context.Context, userID uuid.UUID, serviceID *uuid.UUID) ([]identity.PermissionGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []identity.PermissionGrant

	// Role-derived entries, de-duplicated within the source.
	seen := make(map[uuid.UUID]struct{})
	for roleID := range s.userRoles[userID] {
		for permID := range s.rolePerms[roleID] {
			if _, dup := seen[permID]; dup {
				continue
			}
			if grant, ok := s.toGrant(permID, serviceID, identity.SourceRole); ok {
				seen[permID] = struct{}{}
				out = append(out, grant)
			}
		}
	}
	for permID, grant := range s.grants[userID] {
		if !s.grantLive(grant) {
			continue
		}
		if entry, ok := s.toGrant(permID, serviceID, identity.SourceDirect); ok {
			out = append(out, entry)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Service != b.Service {
			return a.Service < b.Service
		}
		if a.Resource != b.Resource {
			return a.Resource < b.Resource
		}
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		return a.Source < b.Source
	})
	return out, nil
}

// helpers -------------------------------------------------------------------

func (s *Store) permissionMatches(permID, serviceID uuid.UUID, resource, action string) bool {
	perm, ok := s.permissions[permID]
	return ok && perm.ServiceID == serviceID && perm.Resource == resource && perm.Action == action
}

func (s *Store) grantLive(grant identity.DirectGrant) bool {
	return grant.ExpiresAt == nil || grant.ExpiresAt.After(s.now())
}

func (s *Store) toGrant(permID uuid.UUID, serviceID *uuid.UUID, source identity.GrantSource) (identity.PermissionGrant, bool) {
	perm, ok := s.permissions[permID]
	if !ok {
		return identity.PermissionGrant{}, false
	}
	if serviceID != nil && perm.ServiceID != *serviceID {
		return identity.PermissionGrant{}, false
	}
	svc, ok := s.services[perm.ServiceID]
	if !ok {
		return identity.PermissionGrant{}, false
	}
	return identity.PermissionGrant{
		Service:  svc.Name,
		Resource: perm.Resource,
		Action:   perm.Action,
		Name:     perm.Name,
		Source:   source,
	}, true
}
