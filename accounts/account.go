// Package accounts persists the security-relevant fields of user accounts:
// credentials, the lockout state and the last successful login.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no account matches the lookup.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned by Create when the email is already registered.
	ErrEmailTaken = errors.New("email already registered")
)

// Account is one registered user.
type Account struct {
	ID                string
	Email             string
	PasswordHash      string
	FailedAttempts    int
	LastFailedAttempt *time.Time
	LockedUntil       *time.Time
	LastLogin         *time.Time
	CreatedAt         time.Time
}

// LockoutState is the brute-force protection subset of an Account.
// LockedUntil is only ever set once FailedAttempts has reached the threshold.
type LockoutState struct {
	FailedAttempts    int
	LastFailedAttempt *time.Time
	LockedUntil       *time.Time
}

// Lockout returns a copy of the account's lockout fields.
func (a *Account) Lockout() LockoutState {
	return LockoutState{
		FailedAttempts:    a.FailedAttempts,
		LastFailedAttempt: copyTime(a.LastFailedAttempt),
		LockedUntil:       copyTime(a.LockedUntil),
	}
}

// SetLockout overwrites the account's lockout fields with s.
func (a *Account) SetLockout(s LockoutState) {
	a.FailedAttempts = s.FailedAttempts
	a.LastFailedAttempt = copyTime(s.LastFailedAttempt)
	a.LockedUntil = copyTime(s.LockedUntil)
}

// Store is the account persistence contract. Implementations must be safe
// for concurrent use.
type Store interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, email, passwordHash string) (*Account, error)
	// UpdateLockout writes all three lockout fields in one statement; the
	// last writer wins.
	UpdateLockout(ctx context.Context, id string, state LockoutState) error
	// RecordLogin clears the lockout fields and stamps LastLogin.
	RecordLogin(ctx context.Context, id string, at time.Time) error
	// UpdatePasswordHash replaces the stored hash, e.g. after a parameter upgrade.
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
	Ping(ctx context.Context) error
}

// NormalizeEmail is the canonical form emails are stored and looked up in.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
