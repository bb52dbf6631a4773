package identity_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"identity.org/internal/identity"
	"identity.org/internal/store/memory"
)

func newAuthenticator(store *memory.Store, now *time.Time) *identity.Authenticator {
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig(),
		identity.WithLockoutClock(func() time.Time { return *now }))
	return identity.NewAuthenticator(store, lockout, identity.DefaultPasswordPolicy())
}

func TestAuthenticateSuccess(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)

	user, err := auth.Authenticate(context.Background(), "alice@example.com", "Sup3r$ecret")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Equal(t, seeded.ID, user.ID)
}

func TestAuthenticateNormalizesEmail(t *testing.T) {
	store := memory.New()
	seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)

	user, err := auth.Authenticate(context.Background(), "  ALICE@Example.COM ", "Sup3r$ecret")
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestAuthenticateWrongPasswordAndUnknownEmailLookAlike(t *testing.T) {
	store := memory.New()
	seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)
	ctx := context.Background()

	user, err := auth.Authenticate(ctx, "alice@example.com", "wrong-password")
	require.NoError(t, err)
	require.Nil(t, user)

	user, err = auth.Authenticate(ctx, "nobody@example.com", "whatever")
	require.NoError(t, err)
	require.Nil(t, user)

	user, err = auth.Authenticate(ctx, "", "")
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestAuthenticateLocksAfterThreshold(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	auth := newAuthenticator(store, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		user, err := auth.Authenticate(ctx, "alice@example.com", "wrong-password")
		require.NoError(t, err)
		require.Nil(t, user)
	}

	// Fourth attempt is rejected up front, even with the right password.
	_, err := auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	var locked *identity.AccountLockedError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, now.Add(time.Hour), locked.UnlockAt)

	// Attempts while locked do not grow the counter.
	got, err := store.GetUserByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.FailedLoginAttempts)

	// Once the lock elapses the account behaves as unlocked.
	now = now.Add(61 * time.Minute)
	user, err := auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	require.NoError(t, err)
	require.NotNil(t, user)
	require.Zero(t, user.FailedLoginAttempts)
	require.Nil(t, user.LockedUntil)
}

func TestAuthenticateSuccessResetsCounter(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := auth.Authenticate(ctx, "alice@example.com", "wrong-password")
		require.NoError(t, err)
	}

	user, err := auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	require.NoError(t, err)
	require.NotNil(t, user)

	got, err := store.GetUserByID(ctx, seeded.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
}

func TestUnlockAccountRestoresAccess(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	auth := newAuthenticator(store, &now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := auth.Authenticate(ctx, "alice@example.com", "wrong-password")
		require.NoError(t, err)
	}
	_, err := auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	var locked *identity.AccountLockedError
	require.True(t, errors.As(err, &locked))

	require.NoError(t, auth.UnlockAccount(ctx, seeded.ID))

	user, err := auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	require.NoError(t, err)
	require.NotNil(t, user)
}

func TestChangePassword(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)
	ctx := context.Background()

	err := auth.ChangePassword(ctx, seeded.ID, "Sup3r$ecret", "N3w!Passw0rd")
	require.NoError(t, err)

	user, err := auth.Authenticate(ctx, "alice@example.com", "N3w!Passw0rd")
	require.NoError(t, err)
	require.NotNil(t, user)

	user, err = auth.Authenticate(ctx, "alice@example.com", "Sup3r$ecret")
	require.NoError(t, err)
	require.Nil(t, user)
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)

	err := auth.ChangePassword(context.Background(), seeded.ID, "wrong", "N3w!Passw0rd")
	var pcErr *identity.PasswordChangeError
	require.True(t, errors.As(err, &pcErr))
	require.Equal(t, "current password is incorrect", pcErr.Reason)
}

func TestChangePasswordUnknownUser(t *testing.T) {
	store := memory.New()
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)

	err := auth.ChangePassword(context.Background(), uuid.New(), "Sup3r$ecret", "N3w!Passw0rd")
	var pcErr *identity.PasswordChangeError
	require.True(t, errors.As(err, &pcErr))
}

func TestChangePasswordEnforcesPolicy(t *testing.T) {
	store := memory.New()
	seeded := seedAccount(t, store, "alice@example.com")
	now := time.Now().UTC()
	auth := newAuthenticator(store, &now)

	err := auth.ChangePassword(context.Background(), seeded.ID, "Sup3r$ecret", "weak")
	var verr *identity.ValidationError
	require.True(t, errors.As(err, &verr))
}
