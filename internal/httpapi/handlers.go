// Package httpapi is the HTTP surface of the identity service.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"identity.org/api/spec"
	"identity.org/internal/identity"
	"identity.org/internal/obs"
)

// ReadyProbe reports readiness, pinging the database when one is attached.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Deps carries the collaborators the HTTP layer is built on.
type Deps struct {
	Ready    ReadyProbe
	Version  string
	Store    identity.Store
	Tokens   *identity.TokenService
	Auth     *identity.Authenticator
	Users    *identity.Users
	Resolver *identity.Resolver
	Gate     *identity.Gate
	TokenTTL time.Duration

	RateBurst     int
	RatePerSecond int
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	ready    ReadyProbe
	version  string
	store    identity.Store
	tokens   *identity.TokenService
	auth     *identity.Authenticator
	users    *identity.Users
	resolver *identity.Resolver
	gate     *identity.Gate
	tokenTTL time.Duration

	rateBurst     int
	ratePerSecond int
}

func New(deps Deps) *API {
	if deps.RateBurst <= 0 {
		deps.RateBurst = 20
	}
	if deps.RatePerSecond <= 0 {
		deps.RatePerSecond = 10
	}
	a := &API{
		mux:      http.NewServeMux(),
		ready:    deps.Ready,
		version:  deps.Version,
		store:    deps.Store,
		tokens:   deps.Tokens,
		auth:     deps.Auth,
		users:    deps.Users,
		resolver: deps.Resolver,
		gate:     deps.Gate,
		tokenTTL: deps.TokenTTL,

		rateBurst:     deps.RateBurst,
		ratePerSecond: deps.RatePerSecond,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// OpenAPI YAML
	a.mux.HandleFunc("/openapi.yaml", a.OpenAPISpec)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth
	a.mux.HandleFunc("/v1/auth/token", a.handleAuthToken)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/permissions", a.handleOwnPermissions)

	// rbac administration
	a.mux.HandleFunc("/v1/services", a.handleServices)
	a.mux.HandleFunc("/v1/services/", a.handleServiceScoped)
	a.mux.HandleFunc("/v1/roles/", a.handleRoleResource)
	a.mux.HandleFunc("/v1/users", a.handleUsers)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the full middleware chain around the mux.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = RateLimit(h, a.rateBurst, a.ratePerSecond)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}

// --- Handlers ---

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "identity-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "identity-api",
		"service": a.gate.ServiceName(),
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

func (a *API) OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
	_, _ = w.Write(spec.OpenAPI)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// handleIdentityError maps core errors onto status codes. Typed errors keep
// their payload detail; everything else collapses to 500.
func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		locked     *identity.AccountLockedError
		validation *identity.ValidationError
		missRole   *identity.MissingRoleError
		missPerm   *identity.MissingPermissionError
		pwChange   *identity.PasswordChangeError
	)
	switch {
	case errors.As(err, &locked):
		w.Header().Set("Retry-After", locked.UnlockAt.UTC().Format(http.TimeFormat))
		payload := map[string]any{
			"error":     locked.Error(),
			"unlock_at": locked.UnlockAt.UTC().Format(time.RFC3339),
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusLocked, payload)
	case errors.As(err, &validation):
		payload := map[string]any{
			"error":   "password validation failed",
			"reasons": validation.Reasons,
		}
		if rid := RequestIDFromContext(r.Context()); rid != "" {
			payload["request_id"] = rid
		}
		writeJSON(w, http.StatusBadRequest, payload)
	case errors.As(err, &missRole), errors.As(err, &missPerm):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.As(err, &pwChange):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, "invalid token")
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
