package middleware

import (
	"net/http"
	"strings"

	"github.com/MrEthical07/goShield/apierr"
)

// AllowMethods answers other methods with a 405 envelope and an Allow header.
func AllowMethods(methods ...string) func(http.Handler) http.Handler {
	allow := strings.Join(methods, ", ")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, m := range methods {
				if r.Method == m {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.Header().Set("Allow", allow)
			Fail(w, r, apierr.FromStatus(http.StatusMethodNotAllowed, ""))
		})
	}
}

// NotFound renders unmatched routes as a 404 envelope.
func NotFound() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Fail(w, r, apierr.NotFound("Resource not found"))
	})
}
