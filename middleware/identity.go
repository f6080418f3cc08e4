package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/goShield/jwt"
)

// TokenVerifier validates session tokens. *jwt.Manager satisfies it.
type TokenVerifier interface {
	Verify(token string, expected jwt.Kind) (*jwt.Claims, error)
}

// Caller identifies who is making the request for rate limiting and logs.
type Caller struct {
	IP string
	// Subject is set only when a valid access token was presented.
	Subject string
}

// Key is the rate-limit identity: the subject when authenticated, else the IP.
func (c Caller) Key() string {
	if c.Subject != "" {
		return "u:" + c.Subject
	}
	return "ip:" + c.IP
}

type callerKey struct{}

// CallerFrom returns the caller resolved by [Identity].
func CallerFrom(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(Caller)
	return c, ok
}

// IdentityConfig controls caller resolution.
type IdentityConfig struct {
	// TrustProxy honors X-Forwarded-For. Enable only behind a proxy that
	// overwrites the header.
	TrustProxy bool
	// Verifier is optional; without it every caller is keyed by IP.
	Verifier TokenVerifier
}

// Identity resolves the [Caller]. An invalid or missing bearer token leaves
// the caller anonymous; it never rejects the request.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller := Caller{IP: ClientIP(r, cfg.TrustProxy)}
			ctx := r.Context()

			if cfg.Verifier != nil {
				if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
					if claims, err := cfg.Verifier.Verify(token, jwt.KindAccess); err == nil {
						caller.Subject = claims.Subject
						ctx = context.WithValue(ctx, claimsKey{}, claims)
					}
				}
			}

			ctx = context.WithValue(ctx, callerKey{}, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP returns the first X-Forwarded-For hop when trustProxy is set,
// otherwise the connection's remote host.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	if host := remoteHost(r); host != "" {
		return host
	}
	return "unknown"
}
