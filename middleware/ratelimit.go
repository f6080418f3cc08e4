package middleware

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/MrEthical07/goShield/apierr"
	"github.com/MrEthical07/goShield/internal/audit"
	"github.com/MrEthical07/goShield/internal/rate"
)

// DefaultStoreTimeout bounds every limiter round trip.
const DefaultStoreTimeout = 250 * time.Millisecond

// RateLimitConfig wires the sliding-window limiter into the pipeline.
type RateLimitConfig struct {
	Limiter      *rate.Limiter
	Policy       rate.Policy
	StoreTimeout time.Duration
	Logger       *slog.Logger
	Events       audit.Sink
	Now          func() time.Time
}

// RateLimit admits or rejects each request against its route's rule.
// When the store is unreachable or slow the request is admitted without
// rate-limit headers.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Events == nil {
		cfg.Events = audit.NoOpSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Limiter == nil || cfg.Policy.IsExempt(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			rule := cfg.Policy.Resolve(r.URL.Path)
			caller := callerOrIP(r)
			key := cfg.Limiter.Key(caller.Key(), r.URL.Path)

			ctx, cancel := context.WithTimeout(r.Context(), cfg.StoreTimeout)
			res, err := cfg.Limiter.Check(ctx, key, rule.WindowOrDefault(), rule.Limit)
			cancel()
			if err != nil {
				cfg.Logger.WarnContext(r.Context(), "rate limiter unavailable, admitting request",
					"key", key, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w.Header(), res, cfg.Now())
			if res.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			retryAfter := RetryAfterSeconds(res.ResetAfter)
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			cfg.Events.Emit(r.Context(), audit.Event{
				Type:      audit.EventRateLimitExceeded,
				AccountID: caller.Subject,
				IP:        caller.IP,
				Method:    r.Method,
				Path:      r.URL.Path,
				Metadata: map[string]string{
					"count": strconv.Itoa(res.Count),
					"limit": strconv.Itoa(res.Limit),
				},
			})
			Fail(w, r, apierr.New(http.StatusTooManyRequests, apierr.CodeRateLimitExceeded,
				"Too many requests. Please try again later.").WithDetail("retry_after", retryAfter))
		})
	}
}

// RetryAfterSeconds rounds d up to whole seconds, never below 1.
func RetryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// ResetUnix is the Unix second at which the window has room again.
func ResetUnix(now time.Time, resetAfter time.Duration) int64 {
	return now.Add(resetAfter).Add(time.Second - 1).Unix()
}

func setRateLimitHeaders(h http.Header, res rate.Result, now time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(ResetUnix(now, res.ResetAfter), 10))
}

func callerOrIP(r *http.Request) Caller {
	if c, ok := CallerFrom(r.Context()); ok {
		return c
	}
	return Caller{IP: ClientIP(r, false)}
}

// RateLimitStatus reports the caller's current window for the route named by
// the "path" query parameter (default "/") without consuming any budget.
func RateLimitStatus(cfg RateLimitConfig) http.Handler {
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return HandlerFunc(func(w http.ResponseWriter, r *http.Request) error {
		route := r.URL.Query().Get("path")
		if route == "" {
			route = "/"
		}
		if cfg.Limiter == nil || cfg.Policy.IsExempt(route) {
			return writeStatusJSON(w, map[string]any{"path": route, "limited": false})
		}

		rule := cfg.Policy.Resolve(route)
		key := cfg.Limiter.Key(callerOrIP(r).Key(), route)

		ctx, cancel := context.WithTimeout(r.Context(), cfg.StoreTimeout)
		defer cancel()
		res, err := cfg.Limiter.Status(ctx, key, rule.WindowOrDefault(), rule.Limit)
		if err != nil {
			return apierr.FromStatus(http.StatusServiceUnavailable, "Rate limiter unavailable").Wrap(err)
		}

		return writeStatusJSON(w, map[string]any{
			"path":      route,
			"limited":   true,
			"limit":     res.Limit,
			"remaining": res.Remaining,
			"reset":     ResetUnix(cfg.Now(), res.ResetAfter),
		})
	})
}

func writeStatusJSON(w http.ResponseWriter, v any) error {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	return json.NewEncoder(w).Encode(v)
}
