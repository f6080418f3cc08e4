package lockout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/internal/audit"
)

// ErrStoreUnavailable wraps account store failures. Callers must treat it as
// fail-closed.
var ErrStoreUnavailable = errors.New("lockout store unavailable")

// Config holds the lockout thresholds.
type Config struct {
	MaxFailedAttempts int           `koanf:"max_failed_attempts"`
	LockoutDuration   time.Duration `koanf:"duration"`
	// FailureWindow resets the counter when the previous failure is older.
	FailureWindow time.Duration `koanf:"failure_window"`
}

// DefaultConfig locks for 30 minutes after 5 failures within 15 minutes.
func DefaultConfig() Config {
	return Config{
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
		FailureWindow:     15 * time.Minute,
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MaxFailedAttempts <= 0 {
		return errors.New("lockout max failed attempts must be > 0")
	}
	if c.LockoutDuration <= 0 {
		return errors.New("lockout duration must be > 0")
	}
	if c.FailureWindow <= 0 {
		return errors.New("lockout failure window must be > 0")
	}
	return nil
}

// Status is the outcome of a lockout decision.
type Status struct {
	Locked         bool
	FailedAttempts int
	LockedUntil    time.Time
	// Remaining is the time left on an active lock.
	Remaining time.Duration
}

// RemainingMinutes rounds Remaining up to whole minutes, never below 1.
func (s Status) RemainingMinutes() int {
	minutes := int((s.Remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// WithEvents routes security events to sink.
func WithEvents(sink audit.Sink) Option {
	return func(t *Tracker) {
		if sink != nil {
			t.events = sink
		}
	}
}

// WithStoreTimeout bounds each account store call. The default is
// accounts.DefaultStoreTimeout.
func WithStoreTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.storeTimeout = d
		}
	}
}

// Tracker drives the lockout state machine over an account store.
type Tracker struct {
	store        accounts.Store
	config       Config
	events       audit.Sink
	now          func() time.Time
	storeTimeout time.Duration
}

// New returns a Tracker. cfg must pass Validate.
func New(store accounts.Store, cfg Config, opts ...Option) (*Tracker, error) {
	if store == nil {
		return nil, errors.New("lockout: account store is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tracker{
		store:        store,
		config:       cfg,
		events:       audit.NoOpSink{},
		now:          time.Now,
		storeTimeout: accounts.DefaultStoreTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.store = accounts.WithTimeout(store, t.storeTimeout)
	return t, nil
}

// Check reports whether acct is locked. A lock whose time has passed is
// cleared and persisted. Checking a locked account never changes its counter.
func (t *Tracker) Check(ctx context.Context, acct *accounts.Account, ip string) (Status, error) {
	now := t.now()

	if acct.LockedUntil == nil {
		return Status{FailedAttempts: acct.FailedAttempts}, nil
	}

	if now.Before(*acct.LockedUntil) {
		st := Status{
			Locked:         true,
			FailedAttempts: acct.FailedAttempts,
			LockedUntil:    *acct.LockedUntil,
			Remaining:      acct.LockedUntil.Sub(now),
		}
		t.events.Emit(ctx, audit.Event{
			Type:      audit.EventLockedAccessAttempt,
			AccountID: acct.ID,
			Email:     acct.Email,
			IP:        ip,
			Reason:    "account_locked",
			Metadata:  map[string]string{"remaining_seconds": strconv.Itoa(int(st.Remaining.Seconds()))},
		})
		return st, nil
	}

	cleared := accounts.LockoutState{}
	if err := t.store.UpdateLockout(ctx, acct.ID, cleared); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	acct.SetLockout(cleared)
	return Status{}, nil
}

// RecordFailure counts one failed login and locks the account once the
// threshold is reached.
func (t *Tracker) RecordFailure(ctx context.Context, acct *accounts.Account, ip string) (Status, error) {
	now := t.now()
	state := acct.Lockout()

	if state.LastFailedAttempt != nil && now.Sub(*state.LastFailedAttempt) > t.config.FailureWindow {
		state.FailedAttempts = 0
	}
	state.FailedAttempts++
	state.LastFailedAttempt = &now

	locked := state.FailedAttempts >= t.config.MaxFailedAttempts
	if locked {
		until := now.Add(t.config.LockoutDuration)
		state.LockedUntil = &until
	}

	if err := t.store.UpdateLockout(ctx, acct.ID, state); err != nil {
		return Status{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	acct.SetLockout(state)

	t.events.Emit(ctx, audit.Event{
		Type:      audit.EventLoginFailed,
		AccountID: acct.ID,
		Email:     acct.Email,
		IP:        ip,
		Reason:    "invalid_password",
		Metadata:  map[string]string{"attempts": strconv.Itoa(state.FailedAttempts)},
	})

	st := Status{FailedAttempts: state.FailedAttempts}
	if locked {
		st.Locked = true
		st.LockedUntil = *state.LockedUntil
		st.Remaining = t.config.LockoutDuration
		t.events.Emit(ctx, audit.Event{
			Type:      audit.EventAccountLocked,
			AccountID: acct.ID,
			Email:     acct.Email,
			IP:        ip,
			Reason:    "too_many_failed_attempts",
			Metadata: map[string]string{
				"attempts":                 strconv.Itoa(state.FailedAttempts),
				"lockout_duration_minutes": strconv.Itoa(int(t.config.LockoutDuration / time.Minute)),
			},
		})
	}
	return st, nil
}

// RecordSuccess clears the lockout fields and stamps the login time.
// Calling it repeatedly leaves the same state.
func (t *Tracker) RecordSuccess(ctx context.Context, acct *accounts.Account, ip string) error {
	now := t.now()
	if err := t.store.RecordLogin(ctx, acct.ID, now); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	acct.SetLockout(accounts.LockoutState{})
	acct.LastLogin = &now

	t.events.Emit(ctx, audit.Event{
		Type:      audit.EventLoginSucceeded,
		AccountID: acct.ID,
		Email:     acct.Email,
		IP:        ip,
	})
	return nil
}
