// Package rate provides the Redis-backed sliding-window limiter used by the
// request-defense pipeline, plus the per-route policy table that decides which
// limit applies to a path.
//
// # Window semantics
//
// Sliding window over a sorted set of request markers scored by Unix
// milliseconds. Eviction, count, insert and expiry refresh run as one Lua
// script, so concurrent callers sharing a key are linearized by Redis. Key
// layout:
//
//	rl:<caller>:<route>
//
// # What this package must NOT do
//
//   - Keep window state in process memory.
//   - Decide fail-open or fail-closed behavior (the HTTP stage does).
//   - Be imported outside the goShield module.
package rate
