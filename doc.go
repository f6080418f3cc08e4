// Package goShield assembles the request-defense pipeline for a JSON API:
// a Redis sliding-window rate limiter, account lockout, a double-submit CSRF
// guard, a request size ceiling, an error normalizer and a JWT access/refresh
// issuer.
//
// Construct a [Shield] with [Builder] and mount [Shield.Handler]:
//
//	shield, err := goShield.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAccountStore(store).
//		Build()
//	if err != nil {
//		return err
//	}
//	defer shield.Close()
//	http.ListenAndServe(cfg.Server.Addr, shield.Handler())
//
// # Failure behavior
//
// Rate limiting fails open: when Redis is unreachable the request proceeds
// without rate-limit headers and a warning is logged. CSRF validation, token
// verification and the lockout check fail closed.
//
// # Error responses
//
// Every failure, including panics and errors raised inside nested stages,
// leaves as one JSON envelope:
//
//	{"error": {"code": "...", "message": "...", "details": {}, "error_id": "...", "timestamp": "..."}}
package goShield
