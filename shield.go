package goShield

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goShield/accounts"
	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/auth"
	"github.com/MrEthical07/goShield/internal/audit"
	"github.com/MrEthical07/goShield/internal/rate"
	"github.com/MrEthical07/goShield/jwt"
	"github.com/MrEthical07/goShield/middleware"
)

// Route paths served by [Shield.Handler].
const (
	PathHealth    = "/health"
	PathSignup    = "/api/v1/auth/signup"
	PathLogin     = "/api/v1/auth/login"
	PathRefresh   = "/api/v1/auth/refresh"
	PathMe        = "/api/v1/auth/me"
	PathCSRFToken = "/api/v1/csrf-token"
	PathRateLimit = "/api/v1/rate-limit"
)

const healthTimeout = 2 * time.Second

// Shield owns the wired defense stages and the routes they protect. It is
// safe for concurrent use once built.
type Shield struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	redis redis.UniversalClient
	store accounts.Store

	dispatcher *audit.Dispatcher
	events     audit.Sink
	tokens     *jwt.Manager
	auth       *auth.Service
	limiter    *rate.Limiter
	csrf       *middleware.CSRF

	mu     sync.Mutex
	extra  []route
	closed bool
}

type route struct {
	pattern string
	handler http.Handler
}

// Config returns a copy of the active configuration.
func (s *Shield) Config() Config {
	return cloneConfig(s.config)
}

// Auth exposes the authentication service.
func (s *Shield) Auth() *auth.Service {
	return s.auth
}

// Tokens exposes the session token issuer.
func (s *Shield) Tokens() *jwt.Manager {
	return s.tokens
}

// Handle registers an application route behind the full pipeline. It must be
// called before Handler.
func (s *Shield) Handle(pattern string, h http.Handler) {
	s.mu.Lock()
	s.extra = append(s.extra, route{pattern: pattern, handler: h})
	s.mu.Unlock()
}

// RequireAccess returns middleware that rejects requests without a valid
// access token.
func (s *Shield) RequireAccess() func(http.Handler) http.Handler {
	return middleware.RequireAccess(s.tokens)
}

// Handler composes the request pipeline. Outermost first:
//
//	RequestLog, Normalize, RequestSize, CSRF, CORS, Identity, RateLimit, routes
//
// Normalize sits outside every defense stage so their failures render as
// envelopes; RequestSize runs before CSRF so an oversize body is never read.
func (s *Shield) Handler() http.Handler {
	mux := http.NewServeMux()
	authHandler := auth.NewHandler(s.auth)
	get := middleware.AllowMethods(http.MethodGet, http.MethodHead)
	post := middleware.AllowMethods(http.MethodPost)

	mux.Handle(PathHealth, get(s.healthHandler()))
	mux.Handle(PathSignup, post(authHandler.Signup()))
	mux.Handle(PathLogin, post(authHandler.Login()))
	mux.Handle(PathRefresh, post(authHandler.Refresh()))
	mux.Handle(PathMe, get(s.RequireAccess()(authHandler.Me())))
	mux.Handle(PathRateLimit, get(middleware.RateLimitStatus(s.rateLimitConfig())))
	if s.csrf != nil {
		mux.Handle(PathCSRFToken, get(s.csrf.TokenHandler()))
	}

	s.mu.Lock()
	for _, r := range s.extra {
		mux.Handle(r.pattern, r.handler)
	}
	s.mu.Unlock()

	mux.Handle("/", middleware.NotFound())

	var h http.Handler = mux
	if s.limiter != nil {
		h = middleware.RateLimit(s.rateLimitConfig())(h)
	}
	h = middleware.Identity(middleware.IdentityConfig{
		TrustProxy: s.config.Server.TrustProxy,
		Verifier:   s.tokens,
	})(h)
	if len(s.config.Server.AllowedOrigins) > 0 {
		allowed := []string{"Authorization", "Content-Type"}
		if s.csrf != nil && s.config.CSRF.HeaderName != "" {
			allowed = append(allowed, s.config.CSRF.HeaderName)
		}
		h = middleware.CORS(middleware.CORSConfig{
			AllowedOrigins: s.config.Server.AllowedOrigins,
			AllowedHeaders: allowed,
			ExposedHeaders: []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
			MaxAge:         s.config.Server.CORSMaxAge,
		})(h)
	}
	if s.csrf != nil {
		h = s.csrf.Middleware(h)
	}
	h = middleware.RequestSize(middleware.SizeConfig{
		MaxBodyBytes: s.config.RequestSize.MaxBodyBytes,
		Exempt:       s.config.RequestSize.Exempt,
	})(h)
	h = middleware.Normalize(middleware.NormalizeConfig{
		Logger: s.logger,
		Debug:  s.config.Server.Debug,
		Now:    s.now,
	})(h)
	return middleware.RequestLog(s.logger, PathHealth)(h)
}

func (s *Shield) rateLimitConfig() middleware.RateLimitConfig {
	return middleware.RateLimitConfig{
		Limiter:      s.limiter,
		Policy:       s.config.RateLimit.Policy,
		StoreTimeout: s.config.RateLimit.StoreTimeout,
		Logger:       s.logger,
		Events:       s.events,
		Now:          s.now,
	}
}

// Ping checks every backing store.
func (s *Shield) Ping(ctx context.Context) map[string]error {
	out := map[string]error{"accounts": s.store.Ping(ctx)}
	if s.redis != nil {
		out["redis"] = s.redis.Ping(ctx).Err()
	}
	return out
}

func (s *Shield) healthHandler() http.Handler {
	return middleware.HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		checks := map[string]string{}
		var failed error
		for name, err := range s.Ping(ctx) {
			if err != nil {
				checks[name] = "unavailable"
				failed = errors.Join(failed, err)
				continue
			}
			checks[name] = "ok"
		}

		if failed != nil {
			return apierr.FromStatus(http.StatusServiceUnavailable, "Service unavailable").
				WithDetail("checks", checks).
				Wrap(failed)
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		return json.NewEncoder(w).Encode(map[string]any{"status": "ok", "checks": checks})
	})
}

// Close drains the security-event dispatcher. It does not close the Redis
// client or the account store, which the caller owns.
func (s *Shield) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.dispatcher.Close()
}
