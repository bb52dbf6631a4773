package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Authenticator verifies credentials and delegates failure/lock bookkeeping
// to the lockout engine.
type Authenticator struct {
	store   Store
	lockout *Lockout
	policy  PasswordPolicy
	record  EventFunc
}

// AuthenticatorOption configures the authenticator.
type AuthenticatorOption func(*Authenticator)

// WithAuthRecorder installs the security event sink used for password
// change events.
func WithAuthRecorder(fn EventFunc) AuthenticatorOption {
	return func(a *Authenticator) {
		if fn != nil {
			a.record = fn
		}
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(store Store, lockout *Lockout, policy PasswordPolicy, opts ...AuthenticatorOption) *Authenticator {
	a := &Authenticator{
		store:   store,
		lockout: lockout,
		policy:  policy,
		record:  func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate checks the password against the stored hash.
//
// A wrong password and an unknown email both return (nil, nil): callers
// cannot tell the two apart, and a returned error always means an
// infrastructure problem, with one exception — a locked account yields
// *AccountLockedError carrying the unlock time, without touching the hash
// or the counter.
func (a *Authenticator) Authenticate(ctx context.Context, email, password string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, nil
	}

	user, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Burn a hash comparison so the miss costs the same as a
			// mismatch.
			equalizeTiming(password)
			return nil, nil
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if err := a.lockout.Check(user); err != nil {
		return nil, err
	}

	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		if err := a.lockout.OnFailure(ctx, user); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if err := a.lockout.OnSuccess(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// ChangePassword replaces the stored hash after verifying the current
// password and validating the new one against the policy.
func (a *Authenticator) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &PasswordChangeError{Reason: "user not found"}
		}
		return fmt.Errorf("change password: %w", err)
	}

	if err := VerifyPassword(user.PasswordHash, currentPassword); err != nil {
		return &PasswordChangeError{Reason: "current password is incorrect"}
	}

	if err := a.policy.Validate(newPassword); err != nil {
		return err
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	user.PasswordHash = hash
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("change password: %w", err)
	}
	a.record(ctx, "password.changed", map[string]any{
		"user_id": user.ID.String(),
		"email":   user.Email,
	})
	return nil
}

// UnlockAccount is the administrative unlock operation exposed to the HTTP
// layer; it resets lock state unconditionally.
func (a *Authenticator) UnlockAccount(ctx context.Context, userID uuid.UUID) error {
	return a.lockout.Unlock(ctx, userID)
}
