package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goShield/apierr"
)

var (
	// ErrInvalidCredentials is returned for an unknown email and for a wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid email or password")
	// ErrInvalidToken is returned when a refresh token fails verification or
	// names an account that no longer exists.
	ErrInvalidToken = errors.New("invalid token")
)

// InvalidCredentialsMessage is the only text shown for a failed login.
const InvalidCredentialsMessage = "Invalid email or password"

// LockedError reports a login refused because the account is locked.
type LockedError struct {
	Remaining time.Duration
	// JustLocked is set when this attempt crossed the threshold.
	JustLocked bool
}

// Minutes rounds Remaining up, never below 1.
func (e *LockedError) Minutes() int {
	minutes := int((e.Remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked for %s", e.Remaining)
}

// APIError maps auth failures to their HTTP form. Unknown errors are returned
// unchanged so the normalizer treats them as unexpected.
func APIError(err error) error {
	var locked *LockedError
	switch {
	case errors.As(err, &locked):
		msg := fmt.Sprintf("Account is locked. Try again in %d minutes.", locked.Minutes())
		if locked.JustLocked {
			msg = fmt.Sprintf("Account locked due to too many failed login attempts. Try again in %d minutes.", locked.Minutes())
		}
		return apierr.New(http.StatusForbidden, apierr.CodeAccountLocked, msg).
			WithDetail("remaining_minutes", locked.Minutes())
	case errors.Is(err, ErrInvalidCredentials):
		return apierr.New(http.StatusUnauthorized, apierr.CodeInvalidCreds, InvalidCredentialsMessage)
	case errors.Is(err, ErrInvalidToken):
		return apierr.Unauthorized("Invalid token")
	}
	return err
}
