package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMaxFailedAttempts = 3
	defaultLockoutDuration   = 60 * time.Minute
)

// LockoutConfig bounds the failed-attempt counter.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// DefaultLockoutConfig mirrors the deployment defaults: three strikes,
// one hour out.
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{MaxAttempts: defaultMaxFailedAttempts, Duration: defaultLockoutDuration}
}

// EventFunc receives security events (lockout, unlock). The core stays free
// of instrumentation; callers inject a recorder that forwards to their audit
// sink.
type EventFunc func(ctx context.Context, event string, fields map[string]any)

// Lockout tracks failed authentication attempts per account and enforces
// temporary lockout. All timestamps are compared in UTC; a persisted
// timestamp without a zone is treated as UTC.
type Lockout struct {
	store  Store
	cfg    LockoutConfig
	now    func() time.Time
	record EventFunc
}

// LockoutOption configures the engine.
type LockoutOption func(*Lockout)

// WithLockoutClock overrides the time source (tests).
func WithLockoutClock(fn func() time.Time) LockoutOption {
	return func(l *Lockout) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLockoutRecorder installs the security event sink.
func WithLockoutRecorder(fn EventFunc) LockoutOption {
	return func(l *Lockout) {
		if fn != nil {
			l.record = fn
		}
	}
}

// NewLockout constructs the engine. Zero config fields fall back to the
// defaults.
func NewLockout(store Store, cfg LockoutConfig, opts ...LockoutOption) *Lockout {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxFailedAttempts
	}
	if cfg.Duration <= 0 {
		cfg.Duration = defaultLockoutDuration
	}
	l := &Lockout{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		record: func(context.Context, string, map[string]any) {},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check rejects authentication while the lock expiry lies in the future.
// Password verification must not run on this path, so a locked account
// leaks nothing about credential correctness, and the counter is not
// incremented.
func (l *Lockout) Check(user *User) error {
	if user.LockedUntil == nil {
		return nil
	}
	if l.now().UTC().Before(asUTC(*user.LockedUntil)) {
		return &AccountLockedError{UnlockAt: asUTC(*user.LockedUntil)}
	}
	// Lock elapsed naturally; the account behaves as unlocked and the
	// stale state is cleared on the next success or failure transition.
	return nil
}

// OnSuccess returns the account to the Unlocked state after a successful
// password verification. The write is skipped when there is nothing to
// reset.
func (l *Lockout) OnSuccess(ctx context.Context, user *User) error {
	if user.FailedLoginAttempts == 0 && user.LockedUntil == nil {
		return nil
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	if err := l.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("reset lockout state: %w", err)
	}
	return nil
}

// OnFailure increments the failed-attempt counter and, once it reaches the
// configured maximum, locks the account until now + duration. The updated
// state is persisted whether or not the threshold was crossed.
func (l *Lockout) OnFailure(ctx context.Context, user *User) error {
	user.FailedLoginAttempts++
	locked := false
	if user.FailedLoginAttempts >= l.cfg.MaxAttempts {
		until := l.now().UTC().Add(l.cfg.Duration)
		user.LockedUntil = &until
		locked = true
	}
	if err := l.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("persist failed attempt: %w", err)
	}
	if locked {
		l.record(ctx, "account.locked", map[string]any{
			"user_id":      user.ID.String(),
			"email":        user.Email,
			"attempts":     user.FailedLoginAttempts,
			"locked_until": user.LockedUntil.Format(time.RFC3339),
		})
	}
	return nil
}

// Unlock resets the counter and clears the lock expiry unconditionally.
// It is idempotent: unlocking an account that was never locked succeeds.
func (l *Lockout) Unlock(ctx context.Context, userID uuid.UUID) error {
	user, err := l.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	if err := l.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("unlock account: %w", err)
	}
	l.record(ctx, "account.unlocked", map[string]any{
		"user_id": user.ID.String(),
		"email":   user.Email,
	})
	return nil
}

// asUTC normalizes persisted timestamps to UTC before comparison.
func asUTC(t time.Time) time.Time {
	return t.UTC()
}
