package accounts

import (
	"context"
	"time"
)

// DefaultStoreTimeout bounds a single account store round trip.
const DefaultStoreTimeout = time.Second

// WithTimeout returns a Store that gives every call its own deadline of d.
// A non-positive d selects DefaultStoreTimeout. Wrapping an already bounded
// store returns it unchanged when the timeout matches.
func WithTimeout(store Store, d time.Duration) Store {
	if d <= 0 {
		d = DefaultStoreTimeout
	}
	if ts, ok := store.(*timeoutStore); ok && ts.timeout == d {
		return ts
	}
	return &timeoutStore{next: store, timeout: d}
}

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

func (s *timeoutStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *timeoutStore) FindByEmail(ctx context.Context, email string) (*Account, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.FindByEmail(ctx, email)
}

func (s *timeoutStore) FindByID(ctx context.Context, id string) (*Account, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.FindByID(ctx, id)
}

func (s *timeoutStore) Create(ctx context.Context, email, passwordHash string) (*Account, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Create(ctx, email, passwordHash)
}

func (s *timeoutStore) UpdateLockout(ctx context.Context, id string, state LockoutState) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.UpdateLockout(ctx, id, state)
}

func (s *timeoutStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.RecordLogin(ctx, id, at)
}

func (s *timeoutStore) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.UpdatePasswordHash(ctx, id, passwordHash)
}

func (s *timeoutStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.next.Ping(ctx)
}
