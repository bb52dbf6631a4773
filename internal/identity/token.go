package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultTokenTTL = 60 * time.Minute

// Claims is the token payload: the subject user id, email and a snapshot of
// the user's role names grouped by owning service, taken at issuance time.
// The snapshot is never refreshed inside a token; a role revoked mid-session
// stays visible in already-issued tokens until they expire.
type Claims struct {
	Email string              `json:"email"`
	Roles map[string][]string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenConfig carries deployment configuration for signing.
type TokenConfig struct {
	// Secret is the symmetric signing key.
	Secret string
	// Algorithm selects the HMAC-SHA family member: HS256, HS384 or HS512.
	Algorithm string
	// TTL is the default token lifetime when the caller passes none.
	TTL time.Duration
	// Issuer is embedded in and required from every token.
	Issuer string
}

// TokenService issues and validates bearer tokens.
type TokenService struct {
	store  Store
	secret []byte
	method jwt.SigningMethod
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// TokenOption configures the service.
type TokenOption func(*TokenService)

// WithTokenClock overrides the time source (tests).
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(t *TokenService) {
		if fn != nil {
			t.now = fn
		}
	}
}

// NewTokenService constructs a TokenService. The secret is required and the
// algorithm must name an HMAC-SHA method.
func NewTokenService(store Store, cfg TokenConfig, opts ...TokenOption) (*TokenService, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("identity: token signing secret is required")
	}
	method, err := hmacMethod(cfg.Algorithm)
	if err != nil {
		return nil, err
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	svc := &TokenService{
		store:  store,
		secret: []byte(secret),
		method: method,
		ttl:    ttl,
		issuer: strings.TrimSpace(cfg.Issuer),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Issue signs a token for the user. Roles are fetched fresh, grouped by
// service name and sorted within each service. A non-positive ttl falls
// back to the configured default.
func (t *TokenService) Issue(ctx context.Context, user *User, ttl time.Duration) (string, time.Time, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", time.Time{}, fmt.Errorf("%w: cannot issue a token without a persisted user id", ErrInvalidInput)
	}
	if ttl <= 0 {
		ttl = t.ttl
	}

	roles, err := t.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("issue token: %w", err)
	}
	byService := make(map[string][]string, len(roles))
	for _, role := range roles {
		if role.ServiceName == "" {
			return "", time.Time{}, fmt.Errorf("issue token: role %s has no owning service", role.ID)
		}
		byService[role.ServiceName] = append(byService[role.ServiceName], role.Name)
	}
	for _, names := range byService {
		sort.Strings(names)
	}

	now := t.now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Email: user.Email,
		Roles: byService,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(t.method, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Resolve verifies the token and rebuilds the principal from current
// persisted state. The user record and roles are re-fetched fresh; claims
// are trusted only for the subject. Every verification failure collapses
// into ErrInvalidToken.
func (t *TokenService) Resolve(ctx context.Context, token string) (UserWithRoles, error) {
	claims, err := t.verify(token)
	if err != nil {
		return UserWithRoles{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return UserWithRoles{}, ErrInvalidToken
	}

	user, err := t.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return UserWithRoles{}, ErrInvalidToken
		}
		return UserWithRoles{}, fmt.Errorf("resolve token: %w", err)
	}

	roles, err := t.store.GetUserRoles(ctx, user.ID)
	if err != nil {
		return UserWithRoles{}, fmt.Errorf("resolve token: %w", err)
	}
	// Every registered user holds at least the default role; an empty set
	// means the store is inconsistent, not that the caller is unauthorized.
	if len(roles) == 0 {
		return UserWithRoles{}, fmt.Errorf("resolve token: user %s has no roles", user.ID)
	}

	return UserWithRoles{User: *user, Roles: roles}, nil
}

func (t *TokenService) verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != t.method {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now().UTC() }))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenService) validateClaims(claims *Claims) error {
	if t.issuer != "" && claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now().UTC()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	if claims.ExpiresAt.Time.Before(claims.IssuedAt.Time) {
		return errors.New("token expiry precedes issued-at")
	}
	return nil
}

func hmacMethod(name string) (jwt.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "", "HS256":
		return jwt.SigningMethodHS256, nil
	case "HS384":
		return jwt.SigningMethodHS384, nil
	case "HS512":
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("identity: unsupported signing algorithm %q", name)
	}
}
