package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/internal/audit"
	"github.com/MrEthical07/goShield/jwt"
	"github.com/MrEthical07/goShield/lockout"
	"github.com/MrEthical07/goShield/password"
)

// maxEmailLength follows the RFC 5321 path limit.
const maxEmailLength = 254

// TokenIssuer mints and verifies session tokens. *jwt.Manager satisfies it.
type TokenIssuer interface {
	Issue(subject string, kind jwt.Kind) (string, error)
	Verify(token string, expected jwt.Kind) (*jwt.Claims, error)
	TTL(kind jwt.Kind) time.Duration
}

// TokenPair is the body returned by signup, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int `json:"expires_in"`
}

// Deps wires a Service.
type Deps struct {
	Store   accounts.Store
	Hasher  *password.Hasher
	Policy  password.Policy
	Lockout *lockout.Tracker
	Tokens  TokenIssuer
	Events  audit.Sink
	Logger  *slog.Logger
	// StoreTimeout bounds each account store call. Zero selects
	// accounts.DefaultStoreTimeout.
	StoreTimeout time.Duration
}

// Service implements the authentication routes on top of the account store,
// lockout tracker and token issuer.
type Service struct {
	deps Deps
}

// NewService validates deps.
func NewService(deps Deps) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("auth: account store is required")
	case deps.Hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case deps.Lockout == nil:
		return nil, errors.New("auth: lockout tracker is required")
	case deps.Tokens == nil:
		return nil, errors.New("auth: token issuer is required")
	}
	if deps.Events == nil {
		deps.Events = audit.NoOpSink{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	deps.Store = accounts.WithTimeout(deps.Store, deps.StoreTimeout)
	return &Service{deps: deps}, nil
}

// Signup validates the request, creates the account and logs it in.
// Every violated field is reported at once.
func (s *Service) Signup(ctx context.Context, email, pass string) (*accounts.Account, TokenPair, error) {
	email = accounts.NormalizeEmail(email)

	v := &apierr.ValidationError{}
	validateEmail(v, email)
	if pass == "" {
		v.Add("password", "value_error.missing", "field required")
	} else {
		for _, problem := range s.deps.Policy.Check(pass) {
			v.Add("password", "value_error.password", problem)
		}
	}
	if err := v.OrNil(); err != nil {
		return nil, TokenPair{}, err
	}

	hash, err := s.deps.Hasher.Hash(pass)
	if err != nil {
		if errors.Is(err, password.ErrTooShort) || errors.Is(err, password.ErrTooLong) {
			v.Add("password", "value_error.password", err.Error())
			return nil, TokenPair{}, v
		}
		return nil, TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	acct, err := s.deps.Store.Create(ctx, email, hash)
	if err != nil {
		if errors.Is(err, accounts.ErrEmailTaken) {
			return nil, TokenPair{}, apierr.Conflict("Email already registered")
		}
		return nil, TokenPair{}, fmt.Errorf("create account: %w", err)
	}

	pair, err := s.issuePair(acct.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	s.deps.Logger.InfoContext(ctx, "account created", "account_id", acct.ID)
	return acct, pair, nil
}

// Login checks credentials under the lockout policy. An unknown email costs
// the same hashing work as a wrong password and yields the same error.
func (s *Service) Login(ctx context.Context, email, pass, ip string) (TokenPair, error) {
	email = accounts.NormalizeEmail(email)

	acct, err := s.deps.Store.FindByEmail(ctx, email)
	if errors.Is(err, accounts.ErrNotFound) {
		s.deps.Hasher.VerifyDummy(pass)
		s.deps.Events.Emit(ctx, audit.Event{
			Type:   audit.EventLoginFailed,
			Email:  email,
			IP:     ip,
			Reason: "invalid_credentials",
		})
		return TokenPair{}, ErrInvalidCredentials
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("find account: %w", err)
	}

	status, err := s.deps.Lockout.Check(ctx, acct, ip)
	if err != nil {
		return TokenPair{}, err
	}
	if status.Locked {
		return TokenPair{}, &LockedError{Remaining: status.Remaining}
	}

	ok, err := s.deps.Hasher.Verify(pass, acct.PasswordHash)
	if err != nil && !errors.Is(err, password.ErrTooLong) {
		return TokenPair{}, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		status, err := s.deps.Lockout.RecordFailure(ctx, acct, ip)
		if err != nil {
			return TokenPair{}, err
		}
		if status.Locked {
			return TokenPair{}, &LockedError{Remaining: status.Remaining, JustLocked: true}
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	if err := s.deps.Lockout.RecordSuccess(ctx, acct, ip); err != nil {
		return TokenPair{}, err
	}
	s.upgradeHash(ctx, acct, pass)
	return s.issuePair(acct.ID)
}

// upgradeHash re-hashes a verified password stored under weaker parameters.
// Failures are logged; the login itself already succeeded.
func (s *Service) upgradeHash(ctx context.Context, acct *accounts.Account, pass string) {
	stale, err := s.deps.Hasher.NeedsRehash(acct.PasswordHash)
	if err != nil || !stale {
		return
	}
	hash, err := s.deps.Hasher.Hash(pass)
	if err != nil {
		s.deps.Logger.WarnContext(ctx, "password rehash failed", "account_id", acct.ID, "error", err)
		return
	}
	if err := s.deps.Store.UpdatePasswordHash(ctx, acct.ID, hash); err != nil {
		s.deps.Logger.WarnContext(ctx, "password rehash not stored", "account_id", acct.ID, "error", err)
		return
	}
	acct.PasswordHash = hash
	s.deps.Logger.InfoContext(ctx, "password hash upgraded", "account_id", acct.ID)
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.deps.Tokens.Verify(refreshToken, jwt.KindRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := s.deps.Store.FindByID(ctx, claims.Subject); err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, fmt.Errorf("find account: %w", err)
	}
	return s.issuePair(claims.Subject)
}

// Account loads the account behind an authenticated request.
func (s *Service) Account(ctx context.Context, id string) (*accounts.Account, error) {
	acct, err := s.deps.Store.FindByID(ctx, id)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, ErrInvalidToken
	}
	return acct, err
}

func (s *Service) issuePair(subject string) (TokenPair, error) {
	access, err := s.deps.Tokens.Issue(subject, jwt.KindAccess)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue access token: %w", err)
	}
	refresh, err := s.deps.Tokens.Issue(subject, jwt.KindRefresh)
	if err != nil {
		return TokenPair{}, fmt.Errorf("issue refresh token: %w", err)
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.deps.Tokens.TTL(jwt.KindAccess).Seconds()),
	}, nil
}

func validateEmail(v *apierr.ValidationError, email string) {
	switch {
	case email == "":
		v.Add("email", "value_error.missing", "field required")
	case len(email) > maxEmailLength:
		v.Add("email", "value_error.email", "email address is too long")
	default:
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
			v.Add("email", "value_error.email", "value is not a valid email address")
		}
	}
}
