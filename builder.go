package goShield

import (
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/auth"
	"github.com/MrEthical07/goShield/internal/audit"
	"github.com/MrEthical07/goShield/internal/rate"
	"github.com/MrEthical07/goShield/jwt"
	"github.com/MrEthical07/goShield/lockout"
	"github.com/MrEthical07/goShield/middleware"
	"github.com/MrEthical07/goShield/password"
)

// Builder assembles a [Shield]. Configure it during start-up, then call
// Build once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	store  accounts.Store

	logger    *slog.Logger
	auditSink audit.Sink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the rate-limit counter store.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAccountStore sets the credential store.
func (b *Builder) WithAccountStore(store accounts.Store) *Builder {
	b.store = store
	return b
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink overrides the sink selected by Config.Audit.Sink.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides time.Now for every time-dependent component.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every defense stage.
func (b *Builder) Build() (*Shield, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.RateLimit.Enabled && b.redis == nil {
		return nil, errors.New("RateLimit requires redis client")
	}

	if b.store == nil {
		return nil, errors.New("account store required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- AUDIT --------
	sink := b.auditSink
	if sink == nil {
		sink = sinkFor(cfg.Audit.Sink, logger)
	}
	var events audit.Sink = audit.NoOpSink{}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
	}, sink)
	if dispatcher != nil {
		events = dispatcher
	}

	// -------- CREDENTIALS --------
	hasher, err := password.New(cfg.Password.Hash)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	jwtCfg := cfg.JWT.managerConfig()
	jwtCfg.Now = now
	tokens, err := jwt.NewManager(jwtCfg)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	tracker, err := lockout.New(b.store, cfg.Lockout,
		lockout.WithClock(now),
		lockout.WithEvents(events),
		lockout.WithStoreTimeout(cfg.Database.StoreTimeout),
	)
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	svc, err := auth.NewService(auth.Deps{
		Store:   b.store,
		Hasher:  hasher,
		Policy:  cfg.Password.Policy,
		Lockout: tracker,
		Tokens:  tokens,
		Events:  events,
		Logger:  logger,

		StoreTimeout: cfg.Database.StoreTimeout,
	})
	if err != nil {
		dispatcher.Close()
		return nil, err
	}

	// -------- DEFENSE STAGES --------
	var limiter *rate.Limiter
	if cfg.RateLimit.Enabled {
		limiter = rate.New(b.redis, rate.Config{KeyPrefix: cfg.RateLimit.KeyPrefix, Now: now})
	}

	var csrf *middleware.CSRF
	if cfg.CSRF.Enabled {
		sameSite, _ := parseSameSite(cfg.CSRF.SameSite)
		csrf = middleware.NewCSRF(middleware.CSRFConfig{
			CookieName: cfg.CSRF.CookieName,
			HeaderName: cfg.CSRF.HeaderName,
			FormField:  cfg.CSRF.FormField,
			TTL:        cfg.CSRF.TTL,
			Secure:     cfg.CSRF.Secure,
			SameSite:   sameSite,
			Exempt:     cfg.CSRF.Exempt,
			Logger:     logger,
			Events:     events,
		})
	}

	b.built = true

	return &Shield{
		config:     cfg,
		logger:     logger,
		now:        now,
		redis:      b.redis,
		store:      b.store,
		dispatcher: dispatcher,
		events:     events,
		tokens:     tokens,
		auth:       svc,
		limiter:    limiter,
		csrf:       csrf,
	}, nil
}

func sinkFor(name string, logger *slog.Logger) audit.Sink {
	switch name {
	case "json":
		return audit.NewJSONWriterSink(os.Stdout)
	case "none":
		return audit.NoOpSink{}
	default:
		return audit.NewSlogSink(logger)
	}
}
