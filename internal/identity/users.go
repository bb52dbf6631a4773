package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Users handles account provisioning and profile state. New accounts always
// receive the configured default role in this deployment's own service.
type Users struct {
	store       Store
	policy      PasswordPolicy
	homeService uuid.UUID
	defaultRole string
}

// NewUsers constructs the user management service.
func NewUsers(store Store, policy PasswordPolicy, homeService uuid.UUID, defaultRole string) (*Users, error) {
	if store == nil {
		return nil, errors.New("identity: users store is required")
	}
	if homeService == uuid.Nil {
		return nil, errors.New("identity: home service id is required")
	}
	defaultRole = strings.TrimSpace(defaultRole)
	if defaultRole == "" {
		return nil, errors.New("identity: default role name is required")
	}
	return &Users{store: store, policy: policy, homeService: homeService, defaultRole: defaultRole}, nil
}

// CreateWithDefaultRole validates the password, creates the account and
// assigns the default role. A missing default role fails the whole
// operation; an account without at least one role cannot resolve tokens.
func (u *Users) CreateWithDefaultRole(ctx context.Context, user *User, password string) (*User, error) {
	if user == nil {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	user.Email = strings.TrimSpace(strings.ToLower(user.Email))
	if user.Email == "" || !strings.Contains(user.Email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if err := u.policy.Validate(password); err != nil {
		return nil, err
	}

	role, err := u.store.GetRoleByName(ctx, u.homeService, u.defaultRole)
	if err != nil {
		return nil, fmt.Errorf("default role %q: %w", u.defaultRole, err)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	user.PasswordHash = hash
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if err := u.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	if err := u.store.AssignRole(ctx, user.ID, role.ID); err != nil {
		return nil, fmt.Errorf("assign default role: %w", err)
	}
	return user, nil
}

// Get returns the user profile.
func (u *Users) Get(ctx context.Context, userID uuid.UUID) (*User, error) {
	return u.store.GetUserByID(ctx, userID)
}

// List returns all users.
func (u *Users) List(ctx context.Context) ([]User, error) {
	return u.store.ListUsers(ctx)
}

// SetActive flips the active flag.
func (u *Users) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	user, err := u.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	if user.Active == active {
		return nil
	}
	user.Active = active
	if err := u.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("set active: %w", err)
	}
	return nil
}

// Delete soft-deletes the account; the row is kept.
func (u *Users) Delete(ctx context.Context, userID uuid.UUID) error {
	user, err := u.store.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	user.Deleted = true
	user.Active = false
	if err := u.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
