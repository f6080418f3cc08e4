package goShield

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/internal/observability"
	"github.com/MrEthical07/goShield/internal/rate"
	"github.com/MrEthical07/goShield/jwt"
	"github.com/MrEthical07/goShield/lockout"
	"github.com/MrEthical07/goShield/middleware"
	"github.com/MrEthical07/goShield/password"
)

// Config is the complete shield configuration. It is copied by
// [Builder.WithConfig] and treated as immutable after [Builder.Build].
type Config struct {
	Server        ServerConfig        `koanf:"server"`
	Redis         RedisConfig         `koanf:"redis"`
	Database      DatabaseConfig      `koanf:"database"`
	RateLimit     RateLimitConfig     `koanf:"rate_limit"`
	Lockout       lockout.Config      `koanf:"lockout"`
	CSRF          CSRFConfig          `koanf:"csrf"`
	RequestSize   RequestSizeConfig   `koanf:"request_size"`
	JWT           JWTConfig           `koanf:"jwt"`
	Password      PasswordConfig      `koanf:"password"`
	Audit         AuditConfig         `koanf:"audit"`
	Observability ObservabilityConfig `koanf:"observability"`
}

/*
====================================
SERVER CONFIG
====================================
*/

// ServerConfig controls the HTTP listener and the outer request stages.
type ServerConfig struct {
	Addr              string        `koanf:"addr"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	// TrustProxy honors X-Forwarded-For for the client IP.
	TrustProxy bool `koanf:"trust_proxy"`
	// Debug exposes exception details in 500 envelopes.
	Debug          bool          `koanf:"debug"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
	CORSMaxAge     time.Duration `koanf:"cors_max_age"`
}

/*
====================================
STORE CONFIG
====================================
*/

// RedisConfig configures the rate-limit counter store.
type RedisConfig struct {
	Addr         string        `koanf:"addr"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// DatabaseConfig configures the PostgreSQL account store. An empty URL
// selects the in-memory store.
type DatabaseConfig struct {
	URL         string              `koanf:"url"`
	Pool        accounts.PoolConfig `koanf:"pool"`
	AutoMigrate bool                `koanf:"auto_migrate"`
	// StoreTimeout bounds every account store round trip on the request path.
	StoreTimeout time.Duration `koanf:"store_timeout"`
}

/*
====================================
DEFENSE STAGE CONFIG
====================================
*/

// RateLimitConfig controls the sliding-window limiter.
type RateLimitConfig struct {
	Enabled      bool          `koanf:"enabled"`
	KeyPrefix    string        `koanf:"key_prefix"`
	StoreTimeout time.Duration `koanf:"store_timeout"`
	Policy       rate.Policy   `koanf:"policy"`
}

// CSRFConfig controls the double-submit guard.
type CSRFConfig struct {
	Enabled    bool          `koanf:"enabled"`
	CookieName string        `koanf:"cookie_name"`
	HeaderName string        `koanf:"header_name"`
	FormField  string        `koanf:"form_field"`
	TTL        time.Duration `koanf:"ttl"`
	Secure     bool          `koanf:"secure"`
	// SameSite is strict, lax or none.
	SameSite string   `koanf:"same_site"`
	Exempt   []string `koanf:"exempt"`
}

// RequestSizeConfig controls the body ceiling.
type RequestSizeConfig struct {
	MaxBodyBytes int64    `koanf:"max_body_bytes"`
	Exempt       []string `koanf:"exempt"`
}

/*
====================================
TOKEN AND PASSWORD CONFIG
====================================
*/

// JWTConfig configures the session token issuer. Keys are given as text:
// Secret and PreviousKeys values are raw HMAC secrets for hs256, PEM blocks
// for ed25519.
type JWTConfig struct {
	AccessTTL     time.Duration `koanf:"access_ttl"`
	RefreshTTL    time.Duration `koanf:"refresh_ttl"`
	SigningMethod string        `koanf:"signing_method"`
	Secret        string        `koanf:"secret"`
	PublicKey     string        `koanf:"public_key"`
	Issuer        string        `koanf:"issuer"`
	Audience      string        `koanf:"audience"`
	Leeway        time.Duration `koanf:"leeway"`
	// KeyID names the current key. PreviousKeys keeps retired keys
	// verifiable by kid during rotation.
	KeyID        string            `koanf:"key_id"`
	PreviousKeys map[string]string `koanf:"previous_keys"`
}

// PasswordConfig groups hashing cost and signup strength rules.
type PasswordConfig struct {
	Hash   password.Config `koanf:"hash"`
	Policy password.Policy `koanf:"policy"`
}

/*
====================================
AUDIT AND OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls security event delivery. Delivery never blocks the
// request; events beyond BufferSize are dropped.
type AuditConfig struct {
	Enabled    bool `koanf:"enabled"`
	BufferSize int  `koanf:"buffer_size"`
	// Sink is slog, json or none. json writes one event per line to stdout.
	Sink string `koanf:"sink"`
}

// ObservabilityConfig controls logging and error capture.
type ObservabilityConfig struct {
	Log    observability.LogConfig    `koanf:"log"`
	Sentry observability.SentryConfig `koanf:"sentry"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns production defaults. JWT.Secret has no default and
// must be supplied.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:              ":8080",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			AllowedOrigins:    []string{"http://localhost:3000"},
			CORSMaxAge:        10 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
		},
		Database: DatabaseConfig{
			Pool: accounts.PoolConfig{
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: 30 * time.Minute,
				ConnMaxIdleTime: 5 * time.Minute,
			},
			AutoMigrate:  true,
			StoreTimeout: accounts.DefaultStoreTimeout,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			KeyPrefix:    rate.DefaultKeyPrefix,
			StoreTimeout: middleware.DefaultStoreTimeout,
			Policy: rate.Policy{
				Default: rate.Rule{Limit: 100, Window: time.Minute},
				Overrides: []rate.Rule{
					{Path: PathLogin, Limit: 5, Window: time.Minute},
					{Path: PathSignup, Limit: 5, Window: time.Minute},
				},
				Exempt: []string{PathHealth},
			},
		},
		Lockout: lockout.DefaultConfig(),
		CSRF: CSRFConfig{
			Enabled:    true,
			CookieName: "csrf_token",
			HeaderName: "X-CSRF-Token",
			FormField:  "csrf_token",
			TTL:        time.Hour,
			Secure:     true,
			SameSite:   "strict",
			Exempt:     []string{PathHealth, PathLogin, PathSignup},
		},
		RequestSize: RequestSizeConfig{
			MaxBodyBytes: middleware.DefaultMaxBodyBytes,
			Exempt:       []string{PathHealth},
		},
		JWT: JWTConfig{
			AccessTTL:     30 * time.Minute,
			RefreshTTL:    24 * time.Hour,
			SigningMethod: string(jwt.MethodHS256),
		},
		Password: PasswordConfig{
			Hash:   password.DefaultConfig(),
			Policy: password.DefaultPolicy(),
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			Sink:       "slog",
		},
		Observability: ObservabilityConfig{
			Log: observability.LogConfig{Level: "info", Format: "json"},
			Sentry: observability.SentryConfig{
				Environment: "development",
				SampleRate:  1,
			},
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Server.AllowedOrigins = cloneStrings(cfg.Server.AllowedOrigins)
	out.RateLimit.Policy.Overrides = append([]rate.Rule(nil), cfg.RateLimit.Policy.Overrides...)
	out.RateLimit.Policy.Exempt = cloneStrings(cfg.RateLimit.Policy.Exempt)
	out.CSRF.Exempt = cloneStrings(cfg.CSRF.Exempt)
	out.RequestSize.Exempt = cloneStrings(cfg.RequestSize.Exempt)
	if cfg.JWT.PreviousKeys != nil {
		out.JWT.PreviousKeys = make(map[string]string, len(cfg.JWT.PreviousKeys))
		for k, v := range cfg.JWT.PreviousKeys {
			out.JWT.PreviousKeys[k] = v
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Server
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("Server Addr must not be empty")
	}
	if c.Server.ShutdownTimeout < 0 {
		return errors.New("Server ShutdownTimeout must be >= 0")
	}

	// Database
	if c.Database.StoreTimeout <= 0 {
		return errors.New("Database StoreTimeout must be > 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if err := validateRule("default", c.RateLimit.Policy.Default); err != nil {
			return err
		}
		for i, rule := range c.RateLimit.Policy.Overrides {
			if rule.Path == "" {
				return fmt.Errorf("RateLimit override %d has no path", i)
			}
			if err := validateRule(rule.Path, rule); err != nil {
				return err
			}
		}
		if c.RateLimit.StoreTimeout <= 0 {
			return errors.New("RateLimit StoreTimeout must be > 0")
		}
	}

	// Lockout
	if err := c.Lockout.Validate(); err != nil {
		return err
	}

	// CSRF
	if c.CSRF.Enabled {
		if c.CSRF.TTL <= 0 {
			return errors.New("CSRF TTL must be > 0")
		}
		if _, err := parseSameSite(c.CSRF.SameSite); err != nil {
			return err
		}
		if strings.EqualFold(c.CSRF.SameSite, "none") && !c.CSRF.Secure {
			return errors.New("CSRF SameSite=none requires Secure cookies")
		}
	}

	// Request size
	if c.RequestSize.MaxBodyBytes <= 0 {
		return errors.New("RequestSize MaxBodyBytes must be > 0")
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)) {
	case jwt.MethodHS256:
		if len(c.JWT.Secret) < 32 {
			return errors.New("JWT Secret must be at least 32 bytes for hs256")
		}
	case jwt.MethodEd25519:
		if c.JWT.Secret == "" || c.JWT.PublicKey == "" {
			return errors.New("JWT ed25519 requires Secret (private key PEM) and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.PreviousKeys) > 0 && c.JWT.KeyID == "" {
		return errors.New("JWT PreviousKeys requires KeyID")
	}

	// Password
	if c.Password.Policy.MinLength < 1 {
		return errors.New("Password Policy MinLength must be >= 1")
	}

	// Audit
	switch c.Audit.Sink {
	case "", "slog", "json", "none":
	default:
		return fmt.Errorf("Audit Sink %q is not one of slog, json, none", c.Audit.Sink)
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}

func validateRule(name string, rule rate.Rule) error {
	if rule.Limit <= 0 {
		return fmt.Errorf("RateLimit rule %q Limit must be > 0", name)
	}
	if rule.Window < 0 {
		return fmt.Errorf("RateLimit rule %q Window must be >= 0", name)
	}
	return nil
}

func parseSameSite(v string) (http.SameSite, error) {
	switch strings.ToLower(v) {
	case "", "strict":
		return http.SameSiteStrictMode, nil
	case "lax":
		return http.SameSiteLaxMode, nil
	case "none":
		return http.SameSiteNoneMode, nil
	}
	return 0, fmt.Errorf("CSRF SameSite %q is not one of strict, lax, none", v)
}

func (c JWTConfig) managerConfig() jwt.Config {
	cfg := jwt.Config{
		AccessTTL:     c.AccessTTL,
		RefreshTTL:    c.RefreshTTL,
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.SigningMethod)),
		PrivateKey:    []byte(c.Secret),
		Issuer:        c.Issuer,
		Audience:      c.Audience,
		Leeway:        c.Leeway,
		KeyID:         c.KeyID,
	}
	if c.PublicKey != "" {
		cfg.PublicKey = []byte(c.PublicKey)
	}
	if len(c.PreviousKeys) > 0 {
		cfg.VerifyKeys = make(map[string][]byte, len(c.PreviousKeys)+1)
		for kid, key := range c.PreviousKeys {
			cfg.VerifyKeys[kid] = []byte(key)
		}
		current := cfg.PrivateKey
		if cfg.SigningMethod == jwt.MethodEd25519 {
			current = cfg.PublicKey
		}
		cfg.VerifyKeys[c.KeyID] = current
	}
	return cfg
}
