package identity

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 100

	passwordSpecialSet = "!@#$%^&*(),.?\":{}|<>[]\\/`~;'_-+="
)

// PasswordPolicy validates password strength. All rules are checked and
// every violation is reported, so clients can present a complete
// correction list in one round trip.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
}

// DefaultPasswordPolicy returns the policy enforced for all accounts.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: passwordMinLength, MaxLength: passwordMaxLength}
}

// Validate returns nil when the password satisfies every rule, or a
// *ValidationError collecting all violated rules.
func (p PasswordPolicy) Validate(password string) error {
	var reasons []string

	if len(password) < p.MinLength {
		reasons = append(reasons, fmt.Sprintf("password must be at least %d characters long", p.MinLength))
	}
	if len(password) > p.MaxLength {
		reasons = append(reasons, fmt.Sprintf("password must not exceed %d characters", p.MaxLength))
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
		if strings.ContainsRune(passwordSpecialSet, r) {
			hasSpecial = true
		}
	}
	if !hasUpper {
		reasons = append(reasons, "password must contain at least one uppercase letter")
	}
	if !hasLower {
		reasons = append(reasons, "password must contain at least one lowercase letter")
	}
	if !hasDigit {
		reasons = append(reasons, "password must contain at least one digit")
	}
	if !hasSpecial {
		reasons = append(reasons, "password must contain at least one special character")
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
