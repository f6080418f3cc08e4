package middleware

import (
	"fmt"
	"net/http"

	"github.com/MrEthical07/goShield/apierr"
)

// DefaultMaxBodyBytes is 10 MiB.
const DefaultMaxBodyBytes int64 = 10 << 20

// SizeConfig controls the request size guard.
type SizeConfig struct {
	MaxBodyBytes int64
	Exempt       []string
}

// RequestSize rejects requests whose declared Content-Length exceeds the
// ceiling before any inner stage runs. Bodies of unknown length are capped
// with http.MaxBytesReader; reading past the ceiling fails with
// *http.MaxBytesError, which the normalizer renders as 413.
func RequestSize(cfg SizeConfig) func(http.Handler) http.Handler {
	limit := cfg.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	exempt := pathSet(cfg.Exempt)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exempt[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			if r.ContentLength > limit {
				Fail(w, r, apierr.New(
					http.StatusRequestEntityTooLarge,
					apierr.CodeRequestTooLarge,
					fmt.Sprintf("Request body too large. Maximum size is %.1fMB", float64(limit)/(1<<20)),
				).WithDetail("max_size_bytes", limit).WithDetail("received_size_bytes", r.ContentLength))
				return
			}

			if r.Body != nil && r.Body != http.NoBody {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func pathSet(paths []string) map[string]struct{} {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set
}
