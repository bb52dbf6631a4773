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

func seedAccount(t *testing.T, store *memory.Store, email string) *identity.User {
	t.Helper()
	hash, err := identity.HashPassword("Sup3r$ecret")
	require.NoError(t, err)
	user := &identity.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
	}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestLockoutLocksAtThreshold(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	var events []string
	lockout := identity.NewLockout(store, identity.LockoutConfig{MaxAttempts: 3, Duration: time.Hour},
		identity.WithLockoutClock(func() time.Time { return now }),
		identity.WithLockoutRecorder(func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		}),
	)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		require.NoError(t, lockout.OnFailure(ctx, user))
		require.Nil(t, user.LockedUntil)
	}
	require.Equal(t, 2, user.FailedLoginAttempts)
	require.Empty(t, events)

	require.NoError(t, lockout.OnFailure(ctx, user))
	require.NotNil(t, user.LockedUntil)
	require.Equal(t, now.Add(time.Hour), *user.LockedUntil)
	require.Equal(t, []string{"account.locked"}, events)

	// The lock state survives the round trip through the store.
	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Equal(t, 3, got.FailedLoginAttempts)
	require.NotNil(t, got.LockedUntil)
}

func TestLockoutCheckWhileLocked(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig(),
		identity.WithLockoutClock(func() time.Time { return now }))

	until := now.Add(30 * time.Minute)
	user.LockedUntil = &until
	user.FailedLoginAttempts = 3

	err := lockout.Check(user)
	var locked *identity.AccountLockedError
	require.True(t, errors.As(err, &locked))
	require.Equal(t, until, locked.UnlockAt)
	// Check never touches the counter.
	require.Equal(t, 3, user.FailedLoginAttempts)
}

func TestLockoutExpiresNaturally(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig(),
		identity.WithLockoutClock(func() time.Time { return now }))

	past := now.Add(-time.Minute)
	user.LockedUntil = &past
	user.FailedLoginAttempts = 3

	require.NoError(t, lockout.Check(user))
}

func TestLockoutComparesInUTC(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	loc := time.FixedZone("UTC+5", 5*3600)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig(),
		identity.WithLockoutClock(func() time.Time { return now.In(loc) }))

	// Same instant expressed in a non-UTC zone must still count as expired.
	until := now.Add(-time.Second).In(loc)
	user.LockedUntil = &until
	require.NoError(t, lockout.Check(user))

	future := now.Add(time.Second).In(loc)
	user.LockedUntil = &future
	var locked *identity.AccountLockedError
	require.True(t, errors.As(lockout.Check(user), &locked))
	require.Equal(t, future.UTC(), locked.UnlockAt)
}

func TestLockoutOnSuccessResets(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig())
	ctx := context.Background()

	until := time.Now().Add(-time.Minute)
	user.FailedLoginAttempts = 2
	user.LockedUntil = &until

	require.NoError(t, lockout.OnSuccess(ctx, user))
	require.Zero(t, user.FailedLoginAttempts)
	require.Nil(t, user.LockedUntil)

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
}

func TestLockoutUnlockIsIdempotent(t *testing.T) {
	store := memory.New()
	user := seedAccount(t, store, "alice@example.com")

	var events []string
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig(),
		identity.WithLockoutRecorder(func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		}))
	ctx := context.Background()

	// Never locked: still succeeds.
	require.NoError(t, lockout.Unlock(ctx, user.ID))

	until := time.Now().Add(time.Hour)
	user.FailedLoginAttempts = 5
	user.LockedUntil = &until
	require.NoError(t, store.UpdateUser(ctx, user))

	require.NoError(t, lockout.Unlock(ctx, user.ID))
	require.NoError(t, lockout.Unlock(ctx, user.ID))

	got, err := store.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	require.Zero(t, got.FailedLoginAttempts)
	require.Nil(t, got.LockedUntil)
	require.Equal(t, []string{"account.unlocked", "account.unlocked", "account.unlocked"}, events)
}

func TestLockoutUnlockUnknownUser(t *testing.T) {
	store := memory.New()
	lockout := identity.NewLockout(store, identity.DefaultLockoutConfig())

	err := lockout.Unlock(context.Background(), uuid.New())
	require.ErrorIs(t, err, identity.ErrNotFound)
}
