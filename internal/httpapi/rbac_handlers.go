package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"identity.org/internal/audit"
	"identity.org/internal/identity"
)

type createServiceRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	Port        int    `json:"port"`
}

type createRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type createPermissionRequest struct {
	Name        string `json:"name"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description"`
}

type updateRolePermissionsRequest struct {
	PermissionIDs []uuid.UUID `json:"permission_ids"`
}

type createUserRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	MiddleName string `json:"middle_name"`
	LastName   string `json:"last_name"`
}

type assignRoleRequest struct {
	RoleID uuid.UUID `json:"role_id"`
}

type grantPermissionRequest struct {
	PermissionID uuid.UUID  `json:"permission_id"`
	ExpiresAt    *time.Time `json:"expires_at"`
}

func (a *API) handleServices(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createServiceRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeError(w, r, http.StatusBadRequest, "name is required")
			return
		}
		svc := &identity.Service{
			Name:        req.Name,
			Description: req.Description,
			Active:      true,
			URL:         req.URL,
			Port:        req.Port,
		}
		if err := a.store.CreateService(r.Context(), svc); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.service.create", map[string]any{
			"service_id": svc.ID.String(),
			"name":       svc.Name,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/services/%s", svc.ID))
		writeJSON(w, http.StatusCreated, svc)
	case http.MethodGet:
		services, err := a.store.ListServices(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"services": services})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleServiceScoped(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/services/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) != 2 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	serviceID, ok := parseID(w, r, parts[0])
	if !ok {
		return
	}
	switch parts[1] {
	case "roles":
		a.handleServiceRoles(w, r, serviceID)
	case "permissions":
		a.handleServicePermissions(w, r, serviceID)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleServiceRoles(w http.ResponseWriter, r *http.Request, serviceID uuid.UUID) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	var req createRoleRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "name is required")
		return
	}
	role := &identity.Role{
		ServiceID:   serviceID,
		Name:        req.Name,
		Description: req.Description,
		Active:      true,
	}
	if err := a.store.CreateRole(r.Context(), role); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.create", map[string]any{
		"role_id":    role.ID.String(),
		"service_id": serviceID.String(),
		"name":       role.Name,
	})
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleServicePermissions(w http.ResponseWriter, r *http.Request, serviceID uuid.UUID) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	var req createPermissionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	req.Resource = strings.TrimSpace(req.Resource)
	req.Action = strings.TrimSpace(req.Action)
	if req.Resource == "" || req.Action == "" {
		writeError(w, r, http.StatusBadRequest, "resource and action are required")
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		req.Name = req.Resource + ":" + req.Action
	}
	perm := &identity.Permission{
		ServiceID:   serviceID,
		Name:        req.Name,
		Resource:    req.Resource,
		Action:      req.Action,
		Description: req.Description,
	}
	if err := a.store.CreatePermission(r.Context(), perm); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.permission.create", map[string]any{
		"permission_id": perm.ID.String(),
		"service_id":    serviceID.String(),
		"name":          perm.Name,
	})
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleRoleResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/roles/")
	path = strings.Trim(path, "/")
	parts := strings.Split(path, "/")
	if path == "" || len(parts) != 2 || parts[1] != "permissions" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	roleID, ok := parseID(w, r, parts[0])
	if !ok {
		return
	}
	if r.Method != http.MethodPut {
		methodNotAllowed(w, r, http.MethodPut)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	var req updateRolePermissionsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if err := a.store.SetRolePermissions(r.Context(), roleID, req.PermissionIDs); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "rbac.role.permissions.update", map[string]any{
		"role_id": roleID.String(),
		"count":   len(req.PermissionIDs),
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req createUserRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		user := &identity.User{
			Email:      req.Email,
			FirstName:  req.FirstName,
			MiddleName: req.MiddleName,
			LastName:   req.LastName,
			Active:     true,
		}
		created, err := a.users.CreateWithDefaultRole(r.Context(), user, req.Password)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.create", map[string]any{
			"user_id": created.ID.String(),
			"email":   created.Email,
		})
		w.Header().Set("Location", fmt.Sprintf("/v1/users/%s", created.ID))
		writeJSON(w, http.StatusCreated, created)
	case http.MethodGet:
		users, err := a.users.List(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodGet)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/users/")
	path = strings.Trim(path, "/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	parts := strings.Split(path, "/")
	userID, ok := parseID(w, r, parts[0])
	if !ok {
		return
	}

	if len(parts) == 1 {
		a.handleUser(w, r, userID)
		return
	}

	switch parts[1] {
	case "roles":
		a.handleUserRoles(w, r, userID, parts[2:])
	case "permissions":
		a.handleUserPermissions(w, r, userID, parts[2:])
	case "unlock":
		a.handleUserUnlock(w, r, userID, parts[2:])
	case "activate":
		a.handleUserActive(w, r, userID, parts[2:], true)
	case "deactivate":
		a.handleUserActive(w, r, userID, parts[2:], false)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUser(w http.ResponseWriter, r *http.Request, userID uuid.UUID) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.users.Get(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodDelete:
		if err := a.users.Delete(r.Context(), userID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.delete", map[string]any{
			"user_id": userID.String(),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) handleUserRoles(w http.ResponseWriter, r *http.Request, userID uuid.UUID, rest []string) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req assignRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.RoleID == uuid.Nil {
			writeError(w, r, http.StatusBadRequest, "role_id is required")
			return
		}
		if err := a.store.AssignRole(r.Context(), userID, req.RoleID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.assign_role", map[string]any{
			"user_id": userID.String(),
			"role_id": req.RoleID.String(),
		})
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0 && r.Method == http.MethodGet:
		roles, err := a.resolver.ListUserRoles(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"roles": roles})
	case len(rest) == 1 && r.Method == http.MethodDelete:
		roleID, ok := parseID(w, r, rest[0])
		if !ok {
			return
		}
		if err := a.store.UnassignRole(r.Context(), userID, roleID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.unassign_role", map[string]any{
			"user_id": userID.String(),
			"role_id": roleID.String(),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request, userID uuid.UUID, rest []string) {
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	switch {
	case len(rest) == 0 && r.Method == http.MethodPost:
		var req grantPermissionRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if req.PermissionID == uuid.Nil {
			writeError(w, r, http.StatusBadRequest, "permission_id is required")
			return
		}
		if err := a.store.GrantPermission(r.Context(), userID, req.PermissionID, req.ExpiresAt); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		fields := map[string]any{
			"user_id":       userID.String(),
			"permission_id": req.PermissionID.String(),
		}
		if req.ExpiresAt != nil {
			fields["expires_at"] = req.ExpiresAt.UTC().Format(time.RFC3339)
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.grant_permission", fields)
		w.WriteHeader(http.StatusCreated)
	case len(rest) == 0 && r.Method == http.MethodGet:
		grants, err := a.resolver.ListUserPermissions(r.Context(), userID, nil)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		if grants == nil {
			grants = []identity.PermissionGrant{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"permissions": grants})
	case len(rest) == 1 && r.Method == http.MethodDelete:
		permID, ok := parseID(w, r, rest[0])
		if !ok {
			return
		}
		if err := a.store.RevokePermission(r.Context(), userID, permID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "rbac.user.revoke_permission", map[string]any{
			"user_id":       userID.String(),
			"permission_id": permID.String(),
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleUserUnlock(w http.ResponseWriter, r *http.Request, userID uuid.UUID, rest []string) {
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if err := a.auth.UnlockAccount(r.Context(), userID); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleUserActive(w http.ResponseWriter, r *http.Request, userID uuid.UUID, rest []string, active bool) {
	if len(rest) != 0 {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	if err := a.users.SetActive(r.Context(), userID, active); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	event := "rbac.user.deactivate"
	if active {
		event = "rbac.user.activate"
	}
	_ = audit.LogEvent(r.Context(), event, map[string]any{
		"user_id": userID.String(),
	})
	w.WriteHeader(http.StatusNoContent)
}

func parseID(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed id")
		return uuid.Nil, false
	}
	return id, true
}
