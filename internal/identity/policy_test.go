package identity_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"identity.org/internal/identity"
)

func TestPasswordPolicyAccepts(t *testing.T) {
	policy := identity.DefaultPasswordPolicy()

	for _, password := range []string{
		"Sup3r$ecret",
		"Tr0ub4dor&3",
		"A1b2C3d4!",
	} {
		require.NoError(t, policy.Validate(password), "password %q", password)
	}
}

func TestPasswordPolicyCollectsEveryViolation(t *testing.T) {
	policy := identity.DefaultPasswordPolicy()

	err := policy.Validate("short")
	require.Error(t, err)

	var verr *identity.ValidationError
	require.True(t, errors.As(err, &verr))
	// Too short, no uppercase, no digit, no special character.
	require.Len(t, verr.Reasons, 4)
}

func TestPasswordPolicyLengthBounds(t *testing.T) {
	policy := identity.DefaultPasswordPolicy()

	long := "Aa1!" + strings.Repeat("x", 120)
	err := policy.Validate(long)
	var verr *identity.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Reasons[0], "must not exceed")

	require.NoError(t, policy.Validate("Aa1!aaaa"))
}

func TestPasswordPolicyCustomMinimum(t *testing.T) {
	policy := identity.PasswordPolicy{MinLength: 12, MaxLength: 100}

	err := policy.Validate("Sh0rt!pw")
	var verr *identity.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Contains(t, verr.Reasons[0], "at least 12 characters")
}
