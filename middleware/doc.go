// Package middleware provides the request-defense stages of goShield as
// standard func(http.Handler) http.Handler adapters.
//
// # Stages
//
//   - [Normalize] — outermost; renders every failure as one JSON envelope.
//   - [RequestSize] — rejects oversized declared bodies and caps the rest.
//   - [CSRF] — double-submit cookie verification with rotation.
//   - [CORS] and [Identity] — origin allow-list and caller resolution.
//   - [RateLimit] — distributed sliding-window limiting, fails open.
//   - [RequireAccess] — per-route access-token guard.
//
// Stages report failures with [Fail] instead of writing responses
// themselves, so every error reaches the caller in the same shape and with
// an error_id that also appears in the logs.
package middleware
