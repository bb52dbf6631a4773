package identity_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"identity.org/internal/identity"
	"identity.org/internal/store/memory"
)

func newUsersFixture(t *testing.T) (*identity.Users, *memory.Store, *identity.Service) {
	t.Helper()
	ctx := context.Background()
	store := memory.New()

	svc := &identity.Service{Name: "portal", Active: true}
	require.NoError(t, store.CreateService(ctx, svc))
	role := &identity.Role{ServiceID: svc.ID, Name: "user", Active: true}
	require.NoError(t, store.CreateRole(ctx, role))

	users, err := identity.NewUsers(store, identity.DefaultPasswordPolicy(), svc.ID, "user")
	require.NoError(t, err)
	return users, store, svc
}

func TestCreateWithDefaultRole(t *testing.T) {
	users, store, _ := newUsersFixture(t)
	ctx := context.Background()

	created, err := users.CreateWithDefaultRole(ctx, &identity.User{
		Email:     "Bob@Example.com",
		FirstName: "Bob",
		Active:    true,
	}, "Sup3r$ecret")
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, created.ID)
	require.Equal(t, "bob@example.com", created.Email)
	require.NotEmpty(t, created.PasswordHash)
	require.NotEqual(t, "Sup3r$ecret", created.PasswordHash)

	roles, err := store.GetUserRoles(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	require.Equal(t, "user", roles[0].Name)
	require.Equal(t, "portal", roles[0].ServiceName)
}

func TestCreateFailsWithoutDefaultRole(t *testing.T) {
	store := memory.New()
	svc := &identity.Service{Name: "portal", Active: true}
	require.NoError(t, store.CreateService(context.Background(), svc))

	users, err := identity.NewUsers(store, identity.DefaultPasswordPolicy(), svc.ID, "user")
	require.NoError(t, err)

	_, err = users.CreateWithDefaultRole(context.Background(), &identity.User{
		Email: "bob@example.com",
	}, "Sup3r$ecret")
	require.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCreateRejectsWeakPassword(t *testing.T) {
	users, _, _ := newUsersFixture(t)

	_, err := users.CreateWithDefaultRole(context.Background(), &identity.User{
		Email: "bob@example.com",
	}, "weak")
	var verr *identity.ValidationError
	require.True(t, errors.As(err, &verr))
}

func TestCreateRejectsInvalidEmail(t *testing.T) {
	users, _, _ := newUsersFixture(t)

	for _, email := range []string{"", "   ", "not-an-email"} {
		_, err := users.CreateWithDefaultRole(context.Background(), &identity.User{
			Email: email,
		}, "Sup3r$ecret")
		require.ErrorIs(t, err, identity.ErrInvalidInput, "email %q", email)
	}
}

func TestCreateDuplicateEmail(t *testing.T) {
	users, _, _ := newUsersFixture(t)
	ctx := context.Background()

	_, err := users.CreateWithDefaultRole(ctx, &identity.User{Email: "bob@example.com"}, "Sup3r$ecret")
	require.NoError(t, err)

	_, err = users.CreateWithDefaultRole(ctx, &identity.User{Email: "BOB@example.com"}, "Sup3r$ecret")
	require.ErrorIs(t, err, identity.ErrConflict)
}

func TestSetActive(t *testing.T) {
	users, store, _ := newUsersFixture(t)
	ctx := context.Background()

	created, err := users.CreateWithDefaultRole(ctx, &identity.User{
		Email:  "bob@example.com",
		Active: true,
	}, "Sup3r$ecret")
	require.NoError(t, err)

	require.NoError(t, users.SetActive(ctx, created.ID, false))
	got, err := store.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.False(t, got.Active)

	// Idempotent.
	require.NoError(t, users.SetActive(ctx, created.ID, false))

	require.NoError(t, users.SetActive(ctx, created.ID, true))
	got, err = store.GetUserByID(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, got.Active)
}

func TestDeleteIsSoft(t *testing.T) {
	users, store, _ := newUsersFixture(t)
	ctx := context.Background()

	created, err := users.CreateWithDefaultRole(ctx, &identity.User{
		Email:  "bob@example.com",
		Active: true,
	}, "Sup3r$ecret")
	require.NoError(t, err)

	require.NoError(t, users.Delete(ctx, created.ID))

	_, err = store.GetUserByID(ctx, created.ID)
	require.ErrorIs(t, err, identity.ErrNotFound)
	_, err = store.GetUserByEmail(ctx, "bob@example.com")
	require.ErrorIs(t, err, identity.ErrNotFound)

	list, err := users.List(ctx)
	require.NoError(t, err)
	require.Empty(t, list)
}
