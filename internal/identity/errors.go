package identity

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound     = errors.New("identity: not found")
	ErrConflict     = errors.New("identity: resource conflict")
	ErrInvalidInput = errors.New("identity: invalid input")

	// ErrInvalidToken covers every token verification failure: bad signature,
	// malformed payload, expiry. Collapsed deliberately so callers cannot
	// learn which check failed.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// ValidationError reports every password policy rule the candidate violated,
// not just the first one.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "password validation failed: " + strings.Join(e.Reasons, "; ")
}

// AccountLockedError rejects authentication while a lockout is in force.
// UnlockAt is surfaced to the client so it can show when to retry.
type AccountLockedError struct {
	UnlockAt time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.UnlockAt.UTC().Format(time.RFC3339))
}

// MissingRoleError denies a role-gated operation.
type MissingRoleError struct {
	Role    string
	Service string
}

func (e *MissingRoleError) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("missing required role %q in service %q", e.Role, e.Service)
	}
	return fmt.Sprintf("missing required role %q", e.Role)
}

// MissingPermissionError denies a permission-gated operation.
type MissingPermissionError struct {
	Resource string
	Action   string
}

func (e *MissingPermissionError) Error() string {
	return fmt.Sprintf("missing permission to %s %s", e.Action, e.Resource)
}

// PasswordChangeError reports a failed password change attempt: wrong
// current password or unknown account.
type PasswordChangeError struct {
	Reason string
}

func (e *PasswordChangeError) Error() string {
	return "password change failed: " + e.Reason
}
