package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/jwt"
)

type claimsKey struct{}

// ClaimsFromContext returns the access-token claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (*jwt.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*jwt.Claims)
	return claims, ok
}

// RequireAccess rejects requests without a valid access token with 401.
// Claims already verified by [Identity] are reused.
func RequireAccess(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := ClaimsFromContext(r.Context()); ok {
				next.ServeHTTP(w, r)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok || verifier == nil {
				unauthorized(w, r, "Missing bearer token")
				return
			}

			claims, err := verifier.Verify(token, jwt.KindAccess)
			if err != nil {
				unauthorized(w, r, "Invalid or expired token")
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	Fail(w, r, apierr.Unauthorized(message))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}
