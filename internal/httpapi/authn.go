package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"identity.org/internal/identity"
	"identity.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var publicPaths = []string{
	"/v1/auth/token",
	"/metrics",
	"/healthz",
	"/readyz",
	"/openapi.yaml",
	"/v1/info",
	"/",
}

// withAuth resolves the bearer token into a principal and attaches it to the
// request context. The principal's user record and roles come from current
// store state, not from the claims snapshot.
func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.tokens == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		principal, err := a.tokens.Resolve(r.Context(), token)
		if err != nil {
			switch {
			case errors.Is(err, identity.ErrInvalidToken):
				obs.RecordTokenResolution("invalid")
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				obs.RecordTokenResolution("error")
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		if !principal.User.Active {
			writeError(w, r, http.StatusForbidden, "account is disabled")
			return
		}
		obs.RecordTokenResolution("ok")

		ctx := identity.ContextWithPrincipal(r.Context(), principal)
		ctx = identity.ContextWithToken(ctx, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// principal returns the authenticated caller or writes 401.
func (a *API) principal(w http.ResponseWriter, r *http.Request) (identity.UserWithRoles, bool) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return identity.UserWithRoles{}, false
	}
	return principal, true
}

// requireAdmin gates the administration surface on the admin role in this
// deployment's own service.
func (a *API) requireAdmin(w http.ResponseWriter, r *http.Request) (identity.UserWithRoles, bool) {
	principal, ok := a.principal(w, r)
	if !ok {
		return identity.UserWithRoles{}, false
	}
	if err := a.gate.RequireRole(principal, "admin"); err != nil {
		obs.RecordPermissionCheck("denied")
		handleIdentityError(w, r, err)
		return identity.UserWithRoles{}, false
	}
	obs.RecordPermissionCheck("allowed")
	return principal, true
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
