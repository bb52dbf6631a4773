package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"identity.org/internal/audit"
	"identity.org/internal/identity"
	"identity.org/internal/obs"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string    `json:"access_token"`
	TokenType string    `json:"token_type"`
	ExpiresAt time.Time `json:"expires_at"`
}

// handleAuthToken is the password login endpoint. Wrong password and unknown
// email produce the same 401; a locked account is the one distinguishable
// failure, returned as 423 with the unlock time.
func (a *API) handleAuthToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.auth.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		var locked *identity.AccountLockedError
		if errors.As(err, &locked) {
			obs.RecordAuthAttempt("locked")
			_ = audit.LogEvent(r.Context(), "auth.login.locked", map[string]any{
				"email":     strings.ToLower(strings.TrimSpace(req.Email)),
				"unlock_at": locked.UnlockAt.Format(time.RFC3339),
			})
		}
		handleIdentityError(w, r, err)
		return
	}
	if user == nil {
		obs.RecordAuthAttempt("failure")
		writeError(w, r, http.StatusUnauthorized, "invalid email or password")
		return
	}
	if !user.Active {
		obs.RecordAuthAttempt("failure")
		writeError(w, r, http.StatusForbidden, "account is disabled")
		return
	}

	token, expiresAt, err := a.tokens.Issue(r.Context(), user, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	obs.RecordAuthAttempt("success")
	obs.RecordTokenIssued()
	_ = audit.LogEvent(r.Context(), "auth.token.issued", map[string]any{
		"user_id":    user.ID.String(),
		"email":      user.Email,
		"expires_at": expiresAt.Format(time.RFC3339),
	})

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: expiresAt,
	})
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, principal)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}

	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if err := a.auth.ChangePassword(r.Context(), principal.User.ID, req.CurrentPassword, req.NewPassword); err != nil {
		handleIdentityError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOwnPermissions lists the caller's resolved grants, optionally
// filtered with ?service=<name>.
func (a *API) handleOwnPermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	principal, ok := a.principal(w, r)
	if !ok {
		return
	}

	var serviceID *uuid.UUID
	if name := strings.TrimSpace(r.URL.Query().Get("service")); name != "" {
		svc, err := a.store.GetServiceByName(r.Context(), name)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		serviceID = &svc.ID
	}

	grants, err := a.resolver.ListUserPermissions(r.Context(), principal.User.ID, serviceID)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if grants == nil {
		grants = []identity.PermissionGrant{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"permissions": grants,
	})
}
